package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/permissions"
)

// GlobalRoleReader is the read interface for platform-wide roles.
// Global roles change only through SeedCatalog.
type GlobalRoleReader interface {
	GetGlobalRoleByName(ctx context.Context, name string) (*GlobalRole, error)
	ListGlobalPermissions(ctx context.Context) ([]GlobalPermission, error)
	DefaultGlobalPermissionsFor(role permissions.DefaultGlobalRole) []string
}

// GlobalRoles reads global roles from the database
type GlobalRoles struct {
	q       database.Querier
	catalog *permissions.Catalog
}

var _ GlobalRoleReader = (*GlobalRoles)(nil)

// NewGlobalRoles creates a GlobalRoleReader
func NewGlobalRoles(q database.Querier, catalog *permissions.Catalog) *GlobalRoles {
	return &GlobalRoles{q: q, catalog: catalog}
}

const globalPermissionColumns = `p.id, p.name, p.description, p.is_default_user, p.is_default_admin, p.is_default_superadmin`

// GetGlobalRoleByName returns a global role with its permissions
func (g *GlobalRoles) GetGlobalRoleByName(ctx context.Context, name string) (*GlobalRole, error) {
	var role GlobalRole
	err := g.q.QueryRowContext(ctx,
		`SELECT id, name, display_name FROM global_roles WHERE name = $1`, name,
	).Scan(&role.ID, &role.Name, &role.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global role: %w", err)
	}

	rows, err := g.q.QueryContext(ctx, `
		SELECT `+globalPermissionColumns+`
		FROM global_role_permissions rp
		JOIN global_permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`, role.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get global role permissions: %w", err)
	}
	defer rows.Close()

	role.Permissions, err = scanGlobalPermissions(rows)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// ListGlobalPermissions lists every global permission ordered by name
func (g *GlobalRoles) ListGlobalPermissions(ctx context.Context) ([]GlobalPermission, error) {
	rows, err := g.q.QueryContext(ctx, `SELECT `+globalPermissionColumns+` FROM global_permissions p ORDER BY p.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list global permissions: %w", err)
	}
	defer rows.Close()

	return scanGlobalPermissions(rows)
}

// DefaultGlobalPermissionsFor returns the catalog defaults for role
func (g *GlobalRoles) DefaultGlobalPermissionsFor(role permissions.DefaultGlobalRole) []string {
	return g.catalog.DefaultGlobalPermissionsFor(role)
}

func scanGlobalPermissions(rows *sql.Rows) ([]GlobalPermission, error) {
	perms := []GlobalPermission{}
	for rows.Next() {
		var p GlobalPermission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.IsDefaultUser, &p.IsDefaultAdmin, &p.IsDefaultSuperAdmin); err != nil {
			return nil, fmt.Errorf("failed to scan global permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read global permissions: %w", err)
	}
	return perms, nil
}
