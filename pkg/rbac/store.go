package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/id"
)

// Store handles role and permission persistence
type Store struct {
	q   database.Querier
	ids id.Generator
}

// NewStore creates a new role store
func NewStore(q database.Querier, ids id.Generator) *Store {
	return &Store{q: q, ids: ids}
}

// WithQuerier returns a copy of the store bound to q, typically a *sql.Tx
func (s *Store) WithQuerier(q database.Querier) *Store {
	return &Store{q: q, ids: s.ids}
}

// OrganizationExists reports whether the organization row exists
func (s *Store) OrganizationExists(ctx context.Context, orgID int64) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM organizations WHERE id = $1`, orgID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check organization: %w", err)
	}
	return true, nil
}

const roleColumns = `id, organization_id, name, display_name, created_at, updated_at`

func scanRole(row database.RowScanner) (*OrganizationRole, error) {
	var r OrganizationRole
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.DisplayName, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRole inserts role and links its permissions. ID and timestamps are
// filled in.
func (s *Store) CreateRole(ctx context.Context, role *OrganizationRole) error {
	now := database.Now()
	role.ID = s.ids.Next()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO organization_roles (id, organization_id, name, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, role.ID, role.OrganizationID, role.Name, role.DisplayName, now, now)
	if err != nil {
		role.ID = 0
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now

	ids := make([]int64, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		ids = append(ids, p.ID)
	}
	return s.AddRolePermissions(ctx, role.ID, ids)
}

// CreateRoles inserts every role in order
func (s *Store) CreateRoles(ctx context.Context, roles []*OrganizationRole) error {
	for _, role := range roles {
		if err := s.CreateRole(ctx, role); err != nil {
			return err
		}
	}
	return nil
}

// GetRole retrieves a role with its permissions
func (s *Store) GetRole(ctx context.Context, roleID int64) (*OrganizationRole, error) {
	role, err := scanRole(s.q.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM organization_roles WHERE id = $1`, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if err := s.LoadPermissions(ctx, []*OrganizationRole{role}); err != nil {
		return nil, err
	}
	return role, nil
}

// GetRoleByName retrieves a role by its name within an organization
func (s *Store) GetRoleByName(ctx context.Context, orgID int64, name string) (*OrganizationRole, error) {
	role, err := scanRole(s.q.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM organization_roles WHERE organization_id = $1 AND name = $2`, orgID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}

	if err := s.LoadPermissions(ctx, []*OrganizationRole{role}); err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles lists an organization's roles in creation order
func (s *Store) ListRoles(ctx context.Context, orgID int64) ([]*OrganizationRole, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM organization_roles WHERE organization_id = $1 ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*OrganizationRole
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	rows.Close()

	if err := s.LoadPermissions(ctx, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// UpdateRole updates a role's name and display name
func (s *Store) UpdateRole(ctx context.Context, role *OrganizationRole) error {
	now := database.Now()
	result, err := s.q.ExecContext(ctx, `
		UPDATE organization_roles
		SET name = $1, display_name = $2, updated_at = $3
		WHERE id = $4
	`, role.Name, role.DisplayName, now, role.ID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRoleNotFound
	}

	role.UpdatedAt = now
	return nil
}

// DeleteRole deletes a role. Permission links and membership assignments go
// with it.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	// SQLite only cascades with foreign_keys enabled; clear links explicitly.
	if _, err := s.q.ExecContext(ctx, `DELETE FROM membership_roles WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role assignments: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM organization_role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role permissions: %w", err)
	}

	result, err := s.q.ExecContext(ctx, `DELETE FROM organization_roles WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// ListRoleHolders returns the users holding roleID in orgID, active or not
func (s *Store) ListRoleHolders(ctx context.Context, orgID, roleID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT user_id FROM membership_roles
		WHERE organization_id = $1 AND role_id = $2
		ORDER BY user_id
	`, orgID, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role holders: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan role holder: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, rows.Err()
}

// AddRolePermissions links permissions to a role. Existing links are kept.
func (s *Store) AddRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	for _, permID := range permissionIDs {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO organization_role_permissions (role_id, permission_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, roleID, permID)
		if err != nil {
			return fmt.Errorf("failed to add permission %d to role %d: %w", permID, roleID, err)
		}
	}
	return nil
}

// RemoveRolePermissions unlinks permissions from a role
func (s *Store) RemoveRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	for _, permID := range permissionIDs {
		_, err := s.q.ExecContext(ctx,
			`DELETE FROM organization_role_permissions WHERE role_id = $1 AND permission_id = $2`,
			roleID, permID)
		if err != nil {
			return fmt.Errorf("failed to remove permission %d from role %d: %w", permID, roleID, err)
		}
	}
	return nil
}

const permissionColumns = `p.id, p.name, p.description, p.is_default_owner, p.is_default_admin, p.is_default_user`

func scanPermission(row database.RowScanner, extra ...any) (OrganizationPermission, error) {
	var p OrganizationPermission
	dest := append(extra, &p.ID, &p.Name, &p.Description, &p.IsDefaultOwner, &p.IsDefaultAdmin, &p.IsDefaultUser)
	err := row.Scan(dest...)
	return p, err
}

// LoadPermissions fills in the permission sets of roles with one query
func (s *Store) LoadPermissions(ctx context.Context, roles []*OrganizationRole) error {
	if len(roles) == 0 {
		return nil
	}

	byID := make(map[int64]*OrganizationRole, len(roles))
	ids := make([]int64, 0, len(roles))
	for _, r := range roles {
		r.Permissions = []OrganizationPermission{}
		if _, seen := byID[r.ID]; !seen {
			ids = append(ids, r.ID)
		}
		byID[r.ID] = r
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT rp.role_id, `+permissionColumns+`
		FROM organization_role_permissions rp
		JOIN organization_permissions p ON p.id = rp.permission_id
		WHERE rp.role_id IN (`+database.Placeholders(1, len(ids))+`)
		ORDER BY p.name
	`, database.Int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID int64
		p, err := scanPermission(rows, &roleID)
		if err != nil {
			return fmt.Errorf("failed to scan role permission: %w", err)
		}
		role := byID[roleID]
		role.Permissions = append(role.Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load role permissions: %w", err)
	}

	// duplicate role pointers share the first one's permissions
	for _, r := range roles {
		if canonical := byID[r.ID]; canonical != r {
			r.Permissions = canonical.Permissions
		}
	}
	return nil
}

// ListPermissions lists every organization permission ordered by name
func (s *Store) ListPermissions(ctx context.Context) ([]OrganizationPermission, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+permissionColumns+` FROM organization_permissions p ORDER BY p.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []OrganizationPermission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermissionsByName resolves every name. A name that does not resolve
// yields an error wrapping ErrPermissionNotFound.
func (s *Store) GetPermissionsByName(ctx context.Context, names []string) ([]OrganizationPermission, error) {
	if len(names) == 0 {
		return nil, nil
	}

	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+permissionColumns+` FROM organization_permissions p
		WHERE p.name IN (`+database.Placeholders(1, len(names))+`)
		ORDER BY p.name
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get permissions: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(names))
	var perms []OrganizationPermission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		found[p.Name] = true
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get permissions: %w", err)
	}

	for _, n := range names {
		if !found[n] {
			return nil, fmt.Errorf("%w: %s", ErrPermissionNotFound, n)
		}
	}
	return perms, nil
}
