package rbac

import (
	"context"
	"testing"

	"github.com/platinummonkey/tenancy/pkg/database/databasetest"
	"github.com/platinummonkey/tenancy/pkg/id"
	"github.com/platinummonkey/tenancy/pkg/permissions"
)

func TestSeedCatalog_Idempotent(t *testing.T) {
	db := databasetest.NewSQLite(t)
	ids := id.MustNode(1)
	ctx := context.Background()
	catalog := permissions.Default()

	first, err := SeedCatalog(ctx, db, ids, catalog)
	if err != nil {
		t.Fatalf("SeedCatalog failed: %v", err)
	}
	if len(first.NewPermissions) != len(catalog.OrganizationPermissions()) {
		t.Errorf("Expected %d new permissions, got %d", len(catalog.OrganizationPermissions()), len(first.NewPermissions))
	}
	if len(first.NewGlobalRoles) != len(catalog.DefaultGlobalRoles()) {
		t.Errorf("Expected %d new global roles, got %d", len(catalog.DefaultGlobalRoles()), len(first.NewGlobalRoles))
	}

	second, err := SeedCatalog(ctx, db, ids, catalog)
	if err != nil {
		t.Fatalf("second SeedCatalog failed: %v", err)
	}
	if len(second.NewPermissions)+len(second.NewGlobalPermissions)+len(second.NewGlobalRoles) != 0 {
		t.Errorf("Expected second seed to be a no-op, got %+v", second)
	}
}

func TestSeedCatalog_NewPermissionReachesExistingRoles(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()

	roles, err := store.CreateDefaultRoles(ctx, permissions.Default(), testOrgID)
	if err != nil {
		t.Fatalf("CreateDefaultRoles failed: %v", err)
	}
	admin := FindRoleByName(roles, string(permissions.RoleAdmin))

	// an administrator trims the admin role
	viewPerms, err := store.GetPermissionsByName(ctx, []string{permissions.DashContentView})
	if err != nil {
		t.Fatalf("GetPermissionsByName failed: %v", err)
	}
	if err := store.RemoveRolePermissions(ctx, admin.ID, []int64{viewPerms[0].ID}); err != nil {
		t.Fatalf("RemoveRolePermissions failed: %v", err)
	}

	overlay, err := permissions.Default().Merge([]byte(`
organization_permissions:
  - name: organization:report:export
    description: Export reports
    default_owner: true
    default_admin: true
`))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	result, err := SeedCatalog(ctx, db, id.MustNode(2), overlay)
	if err != nil {
		t.Fatalf("SeedCatalog failed: %v", err)
	}
	if len(result.NewPermissions) != 1 || result.NewPermissions[0] != "organization:report:export" {
		t.Fatalf("Expected one new permission, got %v", result.NewPermissions)
	}

	listed, err := store.ListRoles(ctx, testOrgID)
	if err != nil {
		t.Fatalf("ListRoles failed: %v", err)
	}
	for _, role := range listed {
		has := role.HasPermission("organization:report:export")
		switch role.Name {
		case string(permissions.RoleOwner), string(permissions.RoleAdmin):
			if !has {
				t.Errorf("%s should have received the new permission", role.Name)
			}
		default:
			if has {
				t.Errorf("%s should not have received the new permission", role.Name)
			}
		}
		if role.Name == string(permissions.RoleAdmin) && role.HasPermission(permissions.DashContentView) {
			t.Error("Seeding re-added a permission removed from the admin role")
		}
	}
}

func TestGlobalRoles(t *testing.T) {
	db := databasetest.NewSQLite(t)
	ctx := context.Background()
	catalog := permissions.Default()

	if _, err := SeedCatalog(ctx, db, id.MustNode(1), catalog); err != nil {
		t.Fatalf("SeedCatalog failed: %v", err)
	}

	reader := NewGlobalRoles(db, catalog)

	all, err := reader.ListGlobalPermissions(ctx)
	if err != nil {
		t.Fatalf("ListGlobalPermissions failed: %v", err)
	}
	if len(all) != len(catalog.GlobalPermissions()) {
		t.Errorf("Expected %d global permissions, got %d", len(catalog.GlobalPermissions()), len(all))
	}

	for _, name := range []permissions.DefaultGlobalRole{permissions.GlobalRoleUser, permissions.GlobalRoleAdmin, permissions.GlobalRoleSuperAdmin} {
		role, err := reader.GetGlobalRoleByName(ctx, string(name))
		if err != nil {
			t.Fatalf("GetGlobalRoleByName(%s) failed: %v", name, err)
		}
		want := reader.DefaultGlobalPermissionsFor(name)
		if len(role.Permissions) != len(want) {
			t.Errorf("%s: expected %d permissions, got %d", name, len(want), len(role.Permissions))
		}
	}

	if _, err := reader.GetGlobalRoleByName(ctx, "NOBODY"); err != ErrRoleNotFound {
		t.Errorf("Expected ErrRoleNotFound, got %v", err)
	}
}
