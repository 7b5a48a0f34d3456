package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/id"
	"github.com/platinummonkey/tenancy/pkg/permissions"
)

type recordingCache struct {
	mu            sync.Mutex
	store         *Store
	tenants       []int64
	roleLists     []int64
	deletedHolder map[int64][]int64
}

func (c *recordingCache) GetOrganizationRoles(ctx context.Context, orgID int64) ([]*OrganizationRole, error) {
	return c.store.ListRoles(ctx, orgID)
}

func (c *recordingCache) InvalidateTenant(_ context.Context, orgID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants = append(c.tenants, orgID)
}

func (c *recordingCache) InvalidateRoleDeletion(_ context.Context, orgID int64, holderIDs []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deletedHolder == nil {
		c.deletedHolder = make(map[int64][]int64)
	}
	c.deletedHolder[orgID] = append(c.deletedHolder[orgID], holderIDs...)
}

func (c *recordingCache) InvalidateRoles(_ context.Context, orgID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roleLists = append(c.roleLists, orgID)
}

func setupService(t *testing.T) (*RoleService, *Store, *recordingCache, []*OrganizationRole) {
	t.Helper()

	db, store := setupStore(t)
	roles, err := store.CreateDefaultRoles(context.Background(), permissions.Default(), testOrgID)
	require.NoError(t, err)

	cache := &recordingCache{store: store}
	return NewRoleService(db, store, permissions.Default(), cache, nil, nil), store, cache, roles
}

func TestRoleService_CreateRole(t *testing.T) {
	svc, _, cache, _ := setupService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, testOrgID, "editor", "")
	require.NoError(t, err)
	assert.Equal(t, "editor", role.DisplayName)
	assert.Equal(t, permissions.Default().DefaultPermissionsFor(permissions.RoleUser), role.PermissionNames())
	assert.Equal(t, []int64{testOrgID}, cache.roleLists)

	rejections := []struct {
		name  string
		orgID int64
		role  string
		want  error
	}{
		{"duplicate name", testOrgID, "editor", apperrors.ErrInvalidOperation},
		{"blank name", testOrgID, "  ", apperrors.ErrInvalidOperation},
		{"unknown organization", 999, "editor", apperrors.ErrResourceNotFound},
	}
	for _, tt := range rejections {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateRole(ctx, tt.orgID, tt.role, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	roles, err := svc.ListRoles(ctx, testOrgID)
	require.NoError(t, err)
	assert.Len(t, roles, 4)
}

func TestRoleService_UpdateRole(t *testing.T) {
	svc, _, cache, defaults := setupService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, testOrgID, "editor", "Editor")
	require.NoError(t, err)

	updated, err := svc.UpdateRole(ctx, testOrgID, role.ID, "writer", "")
	require.NoError(t, err)
	assert.Equal(t, "writer", updated.Name)
	assert.Equal(t, "Editor", updated.DisplayName)
	assert.Len(t, cache.roleLists, 2)

	admin := FindRoleByName(defaults, string(permissions.RoleAdmin))
	renamed, err := svc.UpdateRole(ctx, testOrgID, admin.ID, "", "Administrators")
	require.NoError(t, err, "display name of a default role may change")
	assert.Equal(t, "ADMIN", renamed.Name)

	rejections := []struct {
		name   string
		orgID  int64
		roleID int64
		rename string
		want   error
	}{
		{"rename default role", testOrgID, admin.ID, "superuser", apperrors.ErrInvalidOperation},
		{"reuse default name", testOrgID, role.ID, "USER", apperrors.ErrInvalidOperation},
		{"cross-tenant role", otherOrgID, role.ID, "other", apperrors.ErrResourceNotFound},
	}
	for _, tt := range rejections {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateRole(ctx, tt.orgID, tt.roleID, tt.rename, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRoleService_DeleteRole(t *testing.T) {
	svc, store, cache, defaults := setupService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, testOrgID, "editor", "Editor")
	require.NoError(t, err)

	for _, r := range defaults {
		t.Run("delete default "+r.Name, func(t *testing.T) {
			assert.ErrorIs(t, svc.DeleteRole(ctx, testOrgID, r.ID), apperrors.ErrInvalidOperation)
		})
	}
	t.Run("cross-tenant role", func(t *testing.T) {
		assert.ErrorIs(t, svc.DeleteRole(ctx, otherOrgID, role.ID), apperrors.ErrResourceNotFound)
	})

	require.NoError(t, svc.DeleteRole(ctx, testOrgID, role.ID))
	_, err = store.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.Contains(t, cache.deletedHolder, testOrgID)

	assert.ErrorIs(t, svc.DeleteRole(ctx, testOrgID, role.ID), apperrors.ErrResourceNotFound)
}

func TestRoleService_Permissions(t *testing.T) {
	svc, _, cache, defaults := setupService(t)
	ctx := context.Background()

	user := FindRoleByName(defaults, string(permissions.RoleUser))
	owner := FindRoleByName(defaults, string(permissions.RoleOwner))

	updated, err := svc.AssignPermissions(ctx, testOrgID, user.ID, []string{permissions.ContentUpdate})
	require.NoError(t, err)
	assert.True(t, updated.HasPermission(permissions.ContentUpdate))
	assert.Equal(t, []int64{testOrgID}, cache.tenants)

	updated, err = svc.UnassignPermissions(ctx, testOrgID, user.ID, []string{permissions.ContentUpdate, permissions.ContentCreate})
	require.NoError(t, err)
	assert.Equal(t, []string{permissions.ContentView}, updated.PermissionNames())

	rejections := []struct {
		name   string
		change func(ctx context.Context, orgID, roleID int64, names []string) (*OrganizationRole, error)
		orgID  int64
		roleID int64
		names  []string
		want   error
	}{
		{"unknown permission", svc.AssignPermissions, testOrgID, user.ID, []string{"bogus:permission"}, apperrors.ErrResourceNotFound},
		{"owner permissions are immutable", svc.UnassignPermissions, testOrgID, owner.ID, []string{permissions.ContentView}, apperrors.ErrInvalidOperation},
		{"cross-tenant role", svc.AssignPermissions, otherOrgID, user.ID, []string{permissions.ContentView}, apperrors.ErrResourceNotFound},
		{"no permissions", svc.AssignPermissions, testOrgID, user.ID, nil, apperrors.ErrInvalidOperation},
	}
	for _, tt := range rejections {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.change(ctx, tt.orgID, tt.roleID, tt.names)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Len(t, cache.tenants, 2)
}

func TestRoleService_DatabaseErrorIsUnknown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, organization_id, name").
		WithArgs(int64(5)).
		WillReturnError(errors.New("connection reset"))

	svc := NewRoleService(db, NewStore(db, id.MustNode(1)), permissions.Default(), nil, nil, nil)

	err = svc.DeleteRole(context.Background(), testOrgID, 5)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUnknown, apperrors.KindOf(err))
	assert.True(t, apperrors.IsClassified(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
