package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/id"
	"github.com/platinummonkey/tenancy/pkg/permissions"
)

// SeedResult reports what SeedCatalog changed
type SeedResult struct {
	NewPermissions       []string
	NewGlobalPermissions []string
	NewGlobalRoles       []string
}

// SeedCatalog upserts the catalog into the database in one transaction.
// Existing permissions get their description and default flags refreshed.
// Newly inserted permissions are appended to the matching default roles of
// every existing organization and to the matching global roles.
func SeedCatalog(ctx context.Context, db *sql.DB, ids id.Generator, catalog *permissions.Catalog) (*SeedResult, error) {
	result := &SeedResult{}

	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		for _, p := range catalog.OrganizationPermissions() {
			permID, created, err := upsertOrganizationPermission(ctx, tx, ids, p)
			if err != nil {
				return err
			}
			if !created {
				continue
			}
			result.NewPermissions = append(result.NewPermissions, p.Name)

			for _, role := range catalog.DefaultRoles() {
				if !p.IsDefaultFor(permissions.DefaultRole(role.Name)) {
					continue
				}
				_, err := tx.ExecContext(ctx, `
					INSERT INTO organization_role_permissions (role_id, permission_id)
					SELECT id, CAST($1 AS BIGINT) FROM organization_roles WHERE name = $2
					ON CONFLICT DO NOTHING
				`, permID, role.Name)
				if err != nil {
					return fmt.Errorf("failed to grant %s to existing %s roles: %w", p.Name, role.Name, err)
				}
			}
		}

		globalRoleIDs := make(map[string]int64)
		for _, role := range catalog.DefaultGlobalRoles() {
			roleID, created, err := upsertGlobalRole(ctx, tx, ids, role)
			if err != nil {
				return err
			}
			globalRoleIDs[role.Name] = roleID
			if created {
				result.NewGlobalRoles = append(result.NewGlobalRoles, role.Name)
			}
		}

		for _, p := range catalog.GlobalPermissions() {
			permID, created, err := upsertGlobalPermission(ctx, tx, ids, p)
			if err != nil {
				return err
			}
			if created {
				result.NewGlobalPermissions = append(result.NewGlobalPermissions, p.Name)
			}

			for _, role := range catalog.DefaultGlobalRoles() {
				if !p.IsDefaultFor(permissions.DefaultGlobalRole(role.Name)) {
					continue
				}
				// only new links: a permission revoked from an existing role stays revoked
				if !created && !contains(result.NewGlobalRoles, role.Name) {
					continue
				}
				_, err := tx.ExecContext(ctx, `
					INSERT INTO global_role_permissions (role_id, permission_id)
					VALUES ($1, $2)
					ON CONFLICT DO NOTHING
				`, globalRoleIDs[role.Name], permID)
				if err != nil {
					return fmt.Errorf("failed to grant %s to global role %s: %w", p.Name, role.Name, err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func upsertOrganizationPermission(ctx context.Context, tx *sql.Tx, ids id.Generator, p permissions.OrganizationPermission) (int64, bool, error) {
	var permID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM organization_permissions WHERE name = $1`, p.Name).Scan(&permID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		permID = ids.Next()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO organization_permissions (id, name, description, is_default_owner, is_default_admin, is_default_user, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, permID, p.Name, p.Description, p.DefaultOwner, p.DefaultAdmin, p.DefaultUser, database.Now())
		if err != nil {
			return 0, false, fmt.Errorf("failed to insert permission %s: %w", p.Name, err)
		}
		return permID, true, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to look up permission %s: %w", p.Name, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE organization_permissions
		SET description = $1, is_default_owner = $2, is_default_admin = $3, is_default_user = $4
		WHERE id = $5
	`, p.Description, p.DefaultOwner, p.DefaultAdmin, p.DefaultUser, permID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to update permission %s: %w", p.Name, err)
	}
	return permID, false, nil
}

func upsertGlobalRole(ctx context.Context, tx *sql.Tx, ids id.Generator, role permissions.RoleTemplate) (int64, bool, error) {
	var roleID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM global_roles WHERE name = $1`, role.Name).Scan(&roleID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		roleID = ids.Next()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO global_roles (id, name, display_name) VALUES ($1, $2, $3)`,
			roleID, role.Name, role.DisplayName)
		if err != nil {
			return 0, false, fmt.Errorf("failed to insert global role %s: %w", role.Name, err)
		}
		return roleID, true, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to look up global role %s: %w", role.Name, err)
	}
	return roleID, false, nil
}

func upsertGlobalPermission(ctx context.Context, tx *sql.Tx, ids id.Generator, p permissions.GlobalPermission) (int64, bool, error) {
	var permID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM global_permissions WHERE name = $1`, p.Name).Scan(&permID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		permID = ids.Next()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO global_permissions (id, name, description, is_default_user, is_default_admin, is_default_superadmin)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, permID, p.Name, p.Description, p.DefaultUser, p.DefaultAdmin, p.DefaultSuperAdmin)
		if err != nil {
			return 0, false, fmt.Errorf("failed to insert global permission %s: %w", p.Name, err)
		}
		return permID, true, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to look up global permission %s: %w", p.Name, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE global_permissions
		SET description = $1, is_default_user = $2, is_default_admin = $3, is_default_superadmin = $4
		WHERE id = $5
	`, p.Description, p.DefaultUser, p.DefaultAdmin, p.DefaultSuperAdmin, permID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to update global permission %s: %w", p.Name, err)
	}
	return permID, false, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
