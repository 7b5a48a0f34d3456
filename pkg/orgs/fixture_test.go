package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/database/databasetest"
	"github.com/platinummonkey/tenancy/pkg/id"
	"github.com/platinummonkey/tenancy/pkg/permissions"
	"github.com/platinummonkey/tenancy/pkg/rbac"
)

const (
	ownerID   = int64(1)
	aliceID   = int64(2)
	bobID     = int64(3)
	carolID   = int64(4)
	missingID = int64(99)
)

type invalidation struct {
	OrgID  int64
	UserID int64
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []invalidation
}

func (r *recordingInvalidator) InvalidateUser(_ context.Context, orgID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, invalidation{OrgID: orgID, UserID: userID})
}

func (r *recordingInvalidator) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *recordingInvalidator) invalidated() []invalidation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]invalidation(nil), r.calls...)
}

type fixture struct {
	db          *sql.DB
	store       *Store
	cache       *recordingInvalidator
	memberships *MembershipService
	invitations *InvitationService
	org         *Organization
	roles       map[permissions.DefaultRole]*rbac.OrganizationRole
}

// newFixture seeds the catalog, creates users 1-4 and an organization owned
// by user 1
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, databasetest.NewSQLite(t), database.SQLite)
}

func newFixtureOn(t *testing.T, db *sql.DB, dialect database.Dialect) *fixture {
	t.Helper()
	ctx := context.Background()

	ids := id.MustNode(1)
	catalog := permissions.Default()

	_, err := rbac.SeedCatalog(ctx, db, ids, catalog)
	require.NoError(t, err)

	for _, userID := range []int64{ownerID, aliceID, bobID, carolID} {
		databasetest.InsertUser(t, db, userID, fmt.Sprintf("user%d", userID))
	}

	store := NewStore(db, dialect, ids)
	cache := &recordingInvalidator{}
	memberships := NewMembershipService(db, store, nil, catalog, cache, nil, nil)
	invitations := NewInvitationService(db, store, nil, memberships, nil, nil)

	org, _, err := memberships.CreateOrganization(ctx, CreateOrganizationRequest{Name: "acme"}, ownerID)
	require.NoError(t, err)

	roles := make(map[permissions.DefaultRole]*rbac.OrganizationRole)
	listed, err := store.Roles().ListRoles(ctx, org.ID)
	require.NoError(t, err)
	for _, r := range listed {
		roles[permissions.DefaultRole(r.Name)] = r
	}

	cache.reset()
	return &fixture{
		db:          db,
		store:       store,
		cache:       cache,
		memberships: memberships,
		invitations: invitations,
		org:         org,
		roles:       roles,
	}
}

// join makes userID an active member of the fixture organization and
// clears the recorded invalidations
func (f *fixture) join(t *testing.T, userID int64) *Membership {
	t.Helper()
	m, err := f.memberships.JoinOrganization(context.Background(), f.org.ID, userID, false)
	require.NoError(t, err)
	f.cache.reset()
	return m
}

// ownerHolders lists every member of orgID holding the OWNER role
func (f *fixture) ownerHolders(t *testing.T, orgID int64) []int64 {
	t.Helper()
	holders, err := f.store.ListUserIDsByRole(context.Background(), orgID, f.roles[permissions.RoleOwner].ID)
	require.NoError(t, err)
	return holders
}

func roleNames(roles []*rbac.OrganizationRole) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	return names
}
