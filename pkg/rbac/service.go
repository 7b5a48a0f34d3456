package rbac

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/permissions"
)

// RoleCache is the part of the authorization cache role administration
// reads through and invalidates
type RoleCache interface {
	GetOrganizationRoles(ctx context.Context, orgID int64) ([]*OrganizationRole, error)
	InvalidateTenant(ctx context.Context, orgID int64)
	InvalidateRoleDeletion(ctx context.Context, orgID int64, holderIDs []int64)
	InvalidateRoles(ctx context.Context, orgID int64)
}

// RoleService administers an organization's roles and their permissions
type RoleService struct {
	db      *sql.DB
	store   *Store
	catalog *permissions.Catalog
	cache   RoleCache
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRoleService creates a role service. cache and metrics may be nil.
func NewRoleService(db *sql.DB, store *Store, catalog *permissions.Catalog, cache RoleCache, logger *observability.Logger, metrics *observability.Metrics) *RoleService {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RoleService{
		db:      db,
		store:   store,
		catalog: catalog,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *RoleService) start(ctx context.Context, name string, orgID int64) (context.Context, *observability.Operation) {
	return observability.StartOperation(ctx, s.metrics, s.logger.WithOrg(orgID), name,
		attribute.Int64("tenancy.org_id", orgID))
}

// ListRoles lists an organization's roles with their permissions
func (s *RoleService) ListRoles(ctx context.Context, orgID int64) (roles []*OrganizationRole, err error) {
	const op = "rbac.ListRoles"
	ctx, o := s.start(ctx, op, orgID)
	defer func() { o.End(err) }()

	if s.cache != nil {
		roles, err = s.cache.GetOrganizationRoles(ctx, orgID)
	} else {
		roles, err = s.store.ListRoles(ctx, orgID)
	}
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to list roles").Wrap(err)
	}
	return roles, nil
}

// GetRole returns a role of orgID
func (s *RoleService) GetRole(ctx context.Context, orgID, roleID int64) (role *OrganizationRole, err error) {
	const op = "rbac.GetRole"
	ctx, o := s.start(ctx, op, orgID)
	defer func() { o.End(err) }()

	return s.roleInOrg(ctx, op, orgID, roleID)
}

// CreateRole creates a custom role seeded with the USER role's default
// permissions
func (s *RoleService) CreateRole(ctx context.Context, orgID int64, name, displayName string) (role *OrganizationRole, err error) {
	const op = "rbac.CreateRole"
	ctx, o := s.start(ctx, op, orgID)
	defer func() { o.End(err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Invalid(op, "role name is required")
	}
	if displayName == "" {
		displayName = name
	}

	exists, err := s.store.OrganizationExists(ctx, orgID)
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to look up organization").Wrap(err)
	}
	if !exists {
		return nil, apperrors.NotFound(op, "organization %d", orgID)
	}

	basic, err := s.store.GetPermissionsByName(ctx, s.catalog.DefaultPermissionsFor(permissions.RoleUser))
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to resolve basic permissions").Wrap(err)
	}

	role = &OrganizationRole{
		OrganizationID: orgID,
		Name:           name,
		DisplayName:    displayName,
		Permissions:    basic,
	}

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.store.WithQuerier(tx).CreateRole(ctx, role)
	})
	if database.IsUniqueViolation(err) {
		return nil, apperrors.Invalid(op, "role %q already exists", name)
	}
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to create role").Wrap(err)
	}

	if s.cache != nil {
		s.cache.InvalidateRoles(ctx, orgID)
	}
	return role, nil
}

// UpdateRole renames a role. Default roles keep their names.
func (s *RoleService) UpdateRole(ctx context.Context, orgID, roleID int64, name, displayName string) (role *OrganizationRole, err error) {
	const op = "rbac.UpdateRole"
	ctx, o := s.start(ctx, op, orgID)
	defer func() { o.End(err) }()

	role, err = s.roleInOrg(ctx, op, orgID, roleID)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = role.Name
	}
	if name != role.Name && (role.IsDefault() || permissions.IsDefaultRoleName(name)) {
		return nil, apperrors.Invalid(op, "default role names cannot be changed or reused")
	}
	if displayName == "" {
		displayName = role.DisplayName
	}

	role.Name = name
	role.DisplayName = displayName
	err = s.store.UpdateRole(ctx, role)
	if database.IsUniqueViolation(err) {
		return nil, apperrors.Invalid(op, "role %q already exists", name)
	}
	if errors.Is(err, ErrRoleNotFound) {
		return nil, apperrors.NotFound(op, "organization role %d", roleID)
	}
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to update role").Wrap(err)
	}

	if s.cache != nil {
		s.cache.InvalidateRoles(ctx, orgID)
	}
	return role, nil
}

// DeleteRole deletes a custom role and drops it from every membership
func (s *RoleService) DeleteRole(ctx context.Context, orgID, roleID int64) (err error) {
	const op = "rbac.DeleteRole"
	ctx, o := s.start(ctx, op, orgID)
	defer func() { o.End(err) }()

	role, err := s.roleInOrg(ctx, op, orgID, roleID)
	if err != nil {
		return err
	}
	if role.IsDefault() {
		return apperrors.Invalid(op, "default role %s cannot be deleted", role.Name)
	}

	var holders []int64
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := s.store.WithQuerier(tx)
		var err error
		if holders, err = store.ListRoleHolders(ctx, orgID, roleID); err != nil {
			return err
		}
		return store.DeleteRole(ctx, roleID)
	})
	if errors.Is(err, ErrRoleNotFound) {
		return apperrors.NotFound(op, "organization role %d", roleID)
	}
	if err != nil {
		return apperrors.Unknown(op, "failed to delete role").Wrap(err)
	}

	if s.cache != nil {
		s.cache.InvalidateRoleDeletion(ctx, orgID, holders)
	}
	return nil
}

// AssignPermissions adds permissions to a role
func (s *RoleService) AssignPermissions(ctx context.Context, orgID, roleID int64, names []string) (*OrganizationRole, error) {
	return s.changePermissions(ctx, "rbac.AssignPermissions", orgID, roleID, names, (*Store).AddRolePermissions)
}

// UnassignPermissions removes permissions from a role
func (s *RoleService) UnassignPermissions(ctx context.Context, orgID, roleID int64, names []string) (*OrganizationRole, error) {
	return s.changePermissions(ctx, "rbac.UnassignPermissions", orgID, roleID, names, (*Store).RemoveRolePermissions)
}

func (s *RoleService) changePermissions(ctx context.Context, op string, orgID, roleID int64, names []string,
	apply func(*Store, context.Context, int64, []int64) error) (role *OrganizationRole, err error) {
	ctx, o := s.start(ctx, op, orgID)
	defer func() { o.End(err) }()

	if len(names) == 0 {
		return nil, apperrors.Invalid(op, "at least one permission is required")
	}

	role, err = s.roleInOrg(ctx, op, orgID, roleID)
	if err != nil {
		return nil, err
	}
	if role.Is(permissions.RoleOwner) {
		return nil, apperrors.Invalid(op, "the owner role's permissions cannot be changed")
	}

	perms, err := s.store.GetPermissionsByName(ctx, names)
	if errors.Is(err, ErrPermissionNotFound) {
		return nil, apperrors.NotFound(op, "%v", err)
	}
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to resolve permissions").Wrap(err)
	}

	ids := make([]int64, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}

	var updated *OrganizationRole
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := s.store.WithQuerier(tx)
		if err := apply(store, ctx, roleID, ids); err != nil {
			return err
		}
		var err error
		updated, err = store.GetRole(ctx, roleID)
		return err
	})
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to update role permissions").Wrap(err)
	}

	if s.cache != nil {
		s.cache.InvalidateTenant(ctx, orgID)
	}
	return updated, nil
}

func (s *RoleService) roleInOrg(ctx context.Context, op string, orgID, roleID int64) (*OrganizationRole, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if errors.Is(err, ErrRoleNotFound) || (err == nil && role.OrganizationID != orgID) {
		return nil, apperrors.NotFound(op, "organization role %d", roleID)
	}
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to get role").Wrap(err)
	}
	return role, nil
}
