package rbac

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tenancy/pkg/permissions"
)

// BuildDefaultRoles returns the catalog's default roles for orgID, in
// catalog order, each carrying the permissions from available whose default
// flag matches the role. Every default permission named by the catalog must
// be present in available.
func BuildDefaultRoles(catalog *permissions.Catalog, orgID int64, available []OrganizationPermission) ([]*OrganizationRole, error) {
	byName := make(map[string]OrganizationPermission, len(available))
	for _, p := range available {
		byName[p.Name] = p
	}

	templates := catalog.DefaultRoles()
	roles := make([]*OrganizationRole, 0, len(templates))
	for _, tmpl := range templates {
		role := &OrganizationRole{
			OrganizationID: orgID,
			Name:           tmpl.Name,
			DisplayName:    tmpl.DisplayName,
		}
		for _, name := range catalog.DefaultPermissionsFor(permissions.DefaultRole(tmpl.Name)) {
			p, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s (catalog not seeded?)", ErrPermissionNotFound, name)
			}
			role.Permissions = append(role.Permissions, p)
		}
		roles = append(roles, role)
	}

	return roles, nil
}

// CreateDefaultRoles builds and persists the default roles of orgID
func (s *Store) CreateDefaultRoles(ctx context.Context, catalog *permissions.Catalog, orgID int64) ([]*OrganizationRole, error) {
	available, err := s.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}

	roles, err := BuildDefaultRoles(catalog, orgID, available)
	if err != nil {
		return nil, err
	}

	if err := s.CreateRoles(ctx, roles); err != nil {
		return nil, err
	}
	return roles, nil
}
