package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/platinummonkey/tenancy/pkg/database/databasetest"
	"github.com/platinummonkey/tenancy/pkg/id"
	"github.com/platinummonkey/tenancy/pkg/permissions"
)

const (
	testOrgID   = int64(100)
	otherOrgID  = int64(200)
	testOwnerID = int64(1)
)

// setupStore returns a seeded store with two organizations
func setupStore(t *testing.T) (*sql.DB, *Store) {
	t.Helper()

	db := databasetest.NewSQLite(t)
	ids := id.MustNode(1)

	if _, err := SeedCatalog(context.Background(), db, ids, permissions.Default()); err != nil {
		t.Fatalf("SeedCatalog failed: %v", err)
	}

	databasetest.InsertUser(t, db, testOwnerID, "owner")
	databasetest.InsertOrganization(t, db, testOrgID, "acme", testOwnerID)
	databasetest.InsertOrganization(t, db, otherOrgID, "globex", testOwnerID)

	return db, NewStore(db, ids)
}

func TestStore_CreateDefaultRoles(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	roles, err := store.CreateDefaultRoles(ctx, permissions.Default(), testOrgID)
	if err != nil {
		t.Fatalf("CreateDefaultRoles failed: %v", err)
	}
	if len(roles) != 3 {
		t.Fatalf("Expected 3 default roles, got %d", len(roles))
	}

	listed, err := store.ListRoles(ctx, testOrgID)
	if err != nil {
		t.Fatalf("ListRoles failed: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("Expected 3 listed roles, got %d", len(listed))
	}

	for i, want := range []permissions.DefaultRole{permissions.RoleOwner, permissions.RoleAdmin, permissions.RoleUser} {
		if listed[i].Name != string(want) {
			t.Errorf("Role %d: expected %s, got %s", i, want, listed[i].Name)
		}
		got := listed[i].PermissionNames()
		expected := permissions.Default().DefaultPermissionsFor(want)
		if len(got) != len(expected) {
			t.Errorf("%s: expected %d permissions, got %d", want, len(expected), len(got))
			continue
		}
		for j := range got {
			if got[j] != expected[j] {
				t.Errorf("%s: permission %d: expected %s, got %s", want, j, expected[j], got[j])
			}
		}
	}

	other, err := store.ListRoles(ctx, otherOrgID)
	if err != nil {
		t.Fatalf("ListRoles failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no roles in other organization, got %d", len(other))
	}
}

func TestStore_RoleCRUD(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	perms, err := store.GetPermissionsByName(ctx, []string{permissions.ContentView, permissions.ContentUpdate})
	if err != nil {
		t.Fatalf("GetPermissionsByName failed: %v", err)
	}

	role := &OrganizationRole{
		OrganizationID: testOrgID,
		Name:           "editor",
		DisplayName:    "Editor",
		Permissions:    perms,
	}
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if role.ID == 0 {
		t.Fatal("Expected role ID to be set after creation")
	}

	retrieved, err := store.GetRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetRole failed: %v", err)
	}
	if !retrieved.HasPermission(permissions.ContentUpdate) || len(retrieved.Permissions) != 2 {
		t.Errorf("Unexpected permissions: %v", retrieved.PermissionNames())
	}

	byName, err := store.GetRoleByName(ctx, testOrgID, "editor")
	if err != nil {
		t.Fatalf("GetRoleByName failed: %v", err)
	}
	if byName.ID != role.ID {
		t.Errorf("Expected role %d, got %d", role.ID, byName.ID)
	}
	if _, err := store.GetRoleByName(ctx, otherOrgID, "editor"); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("Expected ErrRoleNotFound for other org, got %v", err)
	}

	retrieved.Name = "writer"
	retrieved.DisplayName = "Writer"
	if err := store.UpdateRole(ctx, retrieved); err != nil {
		t.Fatalf("UpdateRole failed: %v", err)
	}
	updated, err := store.GetRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetRole after update failed: %v", err)
	}
	if updated.Name != "writer" || updated.DisplayName != "Writer" {
		t.Errorf("Update not persisted: %+v", updated)
	}

	if err := store.RemoveRolePermissions(ctx, role.ID, []int64{perms[0].ID}); err != nil {
		t.Fatalf("RemoveRolePermissions failed: %v", err)
	}
	if err := store.AddRolePermissions(ctx, role.ID, []int64{perms[1].ID}); err != nil {
		t.Fatalf("AddRolePermissions with existing link failed: %v", err)
	}
	updated, _ = store.GetRole(ctx, role.ID)
	if len(updated.Permissions) != 1 {
		t.Errorf("Expected 1 permission, got %v", updated.PermissionNames())
	}

	if err := store.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("DeleteRole failed: %v", err)
	}
	if _, err := store.GetRole(ctx, role.ID); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("Expected ErrRoleNotFound after delete, got %v", err)
	}
	if err := store.DeleteRole(ctx, role.ID); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("Expected ErrRoleNotFound deleting twice, got %v", err)
	}
}

func TestStore_DuplicateRoleName(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	if _, err := store.CreateDefaultRoles(ctx, permissions.Default(), testOrgID); err != nil {
		t.Fatalf("CreateDefaultRoles failed: %v", err)
	}

	err := store.CreateRole(ctx, &OrganizationRole{OrganizationID: testOrgID, Name: "ADMIN", DisplayName: "Again"})
	if err == nil {
		t.Fatal("Expected duplicate role name to fail")
	}

	// the same name is fine in another organization
	if err := store.CreateRole(ctx, &OrganizationRole{OrganizationID: otherOrgID, Name: "ADMIN", DisplayName: "Admin"}); err != nil {
		t.Errorf("CreateRole in other org failed: %v", err)
	}
}

func TestStore_GetPermissionsByName_Unknown(t *testing.T) {
	_, store := setupStore(t)

	_, err := store.GetPermissionsByName(context.Background(), []string{permissions.ContentView, "bogus:permission"})
	if !errors.Is(err, ErrPermissionNotFound) {
		t.Fatalf("Expected ErrPermissionNotFound, got %v", err)
	}
}

func TestStore_ListRoleHolders(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()

	roles, err := store.CreateDefaultRoles(ctx, permissions.Default(), testOrgID)
	if err != nil {
		t.Fatalf("CreateDefaultRoles failed: %v", err)
	}
	admin := FindRoleByName(roles, string(permissions.RoleAdmin))

	for _, userID := range []int64{2, 3} {
		databasetest.InsertUser(t, db, userID, fmt.Sprintf("member%d", userID))
		if _, err := db.Exec(`INSERT INTO memberships (organization_id, user_id, is_member, joined_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
			testOrgID, userID, true, "2024-01-01 00:00:00+00:00", "2024-01-01 00:00:00+00:00"); err != nil {
			t.Fatalf("Failed to insert membership: %v", err)
		}
		if _, err := db.Exec(`INSERT INTO membership_roles (organization_id, user_id, role_id, position, assigned_at) VALUES ($1, $2, $3, $4, $5)`,
			testOrgID, userID, admin.ID, 1, "2024-01-01 00:00:00+00:00"); err != nil {
			t.Fatalf("Failed to insert membership role: %v", err)
		}
	}

	holders, err := store.ListRoleHolders(ctx, testOrgID, admin.ID)
	if err != nil {
		t.Fatalf("ListRoleHolders failed: %v", err)
	}
	if len(holders) != 2 || holders[0] != 2 || holders[1] != 3 {
		t.Errorf("Expected holders [2 3], got %v", holders)
	}
}

func TestBuildDefaultRoles_MissingPermission(t *testing.T) {
	_, err := BuildDefaultRoles(permissions.Default(), testOrgID, nil)
	if !errors.Is(err, ErrPermissionNotFound) {
		t.Fatalf("Expected ErrPermissionNotFound, got %v", err)
	}
}

func TestBuildDefaultRoles_OwnerHasEverything(t *testing.T) {
	catalog := permissions.Default()

	var available []OrganizationPermission
	for i, p := range catalog.OrganizationPermissions() {
		available = append(available, OrganizationPermission{ID: int64(i + 1), Name: p.Name})
	}

	roles, err := BuildDefaultRoles(catalog, testOrgID, available)
	if err != nil {
		t.Fatalf("BuildDefaultRoles failed: %v", err)
	}

	owner := FindRoleByName(roles, string(permissions.RoleOwner))
	if owner == nil || len(owner.Permissions) != len(available) {
		t.Fatalf("Expected owner with %d permissions, got %+v", len(available), owner)
	}
	for _, r := range roles {
		if r.OrganizationID != testOrgID {
			t.Errorf("Role %s has organization %d", r.Name, r.OrganizationID)
		}
	}
}
