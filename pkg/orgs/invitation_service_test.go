package orgs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/id"
	"github.com/platinummonkey/tenancy/pkg/permissions"
)

func TestInvitationService_SendInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.invitations.SendInvite(ctx, ownerID, f.org.ID, aliceID)
	require.NoError(t, err)
	assert.Equal(t, InvitationPending, inv.Status)
	assert.Equal(t, ownerID, inv.SenderID)
	assert.Equal(t, aliceID, inv.RecipientID)

	// a second pending invitation is refused
	_, err = f.invitations.SendInvite(ctx, ownerID, f.org.ID, aliceID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	// owner is already a member
	_, err = f.invitations.SendInvite(ctx, ownerID, f.org.ID, ownerID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	_, err = f.invitations.SendInvite(ctx, ownerID, f.org.ID, missingID)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)

	_, err = f.invitations.SendInvite(ctx, ownerID, 4242, bobID)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)
}

func TestInvitationService_InviteAfterKick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, aliceID)

	_, err := f.invitations.SendInvite(ctx, ownerID, f.org.ID, aliceID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	_, err = f.memberships.KickUser(ctx, f.org.ID, aliceID)
	require.NoError(t, err)

	inv, err := f.invitations.SendInvite(ctx, ownerID, f.org.ID, aliceID)
	require.NoError(t, err)

	m, err := f.invitations.AcceptInvite(ctx, inv.ID, aliceID)
	require.NoError(t, err)
	assert.True(t, m.Active())
}

func TestInvitationService_CancelOrReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.invitations.SendInvite(ctx, ownerID, f.org.ID, aliceID)
	require.NoError(t, err)

	_, err = f.invitations.CancelOrReject(ctx, inv, InvitationAction("ARCHIVE"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	rejected, err := f.invitations.CancelOrRejectInvite(ctx, inv.ID, f.org.ID, ActionReject)
	require.NoError(t, err)
	assert.Equal(t, InvitationRejected, rejected.Status)

	// re-setting the same status
	_, err = f.invitations.CancelOrReject(ctx, rejected, ActionReject)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	// terminal states never move again
	_, err = f.invitations.CancelOrReject(ctx, rejected, ActionCancel)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	_, err = f.invitations.CancelOrRejectInvite(ctx, inv.ID, f.org.ID, ActionCancel)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)

	_, err = f.invitations.AcceptInvite(ctx, inv.ID, aliceID)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)

	stored, err := f.store.GetInvitation(ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, InvitationRejected, stored.Status)
}

func TestInvitationService_CancelOrRejectLostRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.invitations.SendInvite(ctx, ownerID, f.org.ID, aliceID)
	require.NoError(t, err)

	// a stale copy still says PENDING
	_, err = f.invitations.CancelOrReject(ctx, inv, ActionCancel)
	require.NoError(t, err)

	_, err = f.invitations.CancelOrReject(ctx, inv, ActionReject)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)

	stored, err := f.store.GetInvitation(ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, InvitationCancelled, stored.Status)
}

func TestInvitationService_AcceptInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.invitations.SendInvite(ctx, ownerID, f.org.ID, aliceID)
	require.NoError(t, err)

	_, err = f.invitations.AcceptInvite(ctx, inv.ID, bobID)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)

	m, err := f.invitations.AcceptInvite(ctx, inv.ID, aliceID)
	require.NoError(t, err)
	assert.True(t, m.Active())
	assert.Equal(t, []string{"USER"}, roleNames(m.Roles))
	assert.Equal(t, []invalidation{{OrgID: f.org.ID, UserID: aliceID}}, f.cache.invalidated())

	stored, err := f.store.GetInvitation(ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, InvitationAccepted, stored.Status)

	_, err = f.invitations.AcceptInvite(ctx, inv.ID, aliceID)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)

	_, err = f.invitations.CancelOrReject(ctx, stored, ActionCancel)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)
}

func TestInvitationService_AcceptInviteRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.invitations.SendInvite(ctx, ownerID, f.org.ID, aliceID)
	require.NoError(t, err)

	// without a USER role the join cannot complete
	_, err = f.db.Exec(`DELETE FROM organization_roles WHERE organization_id = $1 AND name = $2`,
		f.org.ID, string(permissions.RoleUser))
	require.NoError(t, err)

	_, err = f.invitations.AcceptInvite(ctx, inv.ID, aliceID)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)

	stored, err := f.store.GetInvitation(ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, InvitationPending, stored.Status)

	joined, err := f.memberships.HasUserJoined(ctx, f.org.ID, aliceID)
	require.NoError(t, err)
	assert.False(t, joined)
	assert.Empty(t, f.cache.invalidated())
}

func TestInvitationService_AcceptInviteStoreFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, database.Postgres, id.MustNode(1))
	memberships := NewMembershipService(db, store, nil, permissions.Default(), nil, nil, nil)
	svc := NewInvitationService(db, store, nil, memberships, nil, nil)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM invitations WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "sender_id", "recipient_id", "status", "created_at", "updated_at"}).
			AddRow(int64(10), int64(100), int64(1), int64(2), "PENDING", now, now))
	mock.ExpectExec("UPDATE invitations SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM organization_roles").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = svc.AcceptInvite(context.Background(), 10, 2)
	assert.ErrorIs(t, err, apperrors.ErrUnknown)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvitationService_CursorPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var sent []int64
	for _, recipient := range []int64{aliceID, bobID, carolID} {
		inv, err := f.invitations.SendInvite(ctx, ownerID, f.org.ID, recipient)
		require.NoError(t, err)
		sent = append(sent, inv.ID)
	}
	for i := 0; i < 2; i++ {
		other, _, err := f.memberships.CreateOrganization(ctx, CreateOrganizationRequest{Name: "org"}, ownerID)
		require.NoError(t, err)
		_, err = f.invitations.SendInvite(ctx, ownerID, other.ID, aliceID)
		require.NoError(t, err)
	}

	first, err := f.invitations.ListByOrganization(ctx, f.org.ID, CursorRequest{Size: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.True(t, first.HasNext)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, first.Items[1].ID, *first.NextCursor)

	second, err := f.invitations.ListByOrganization(ctx, f.org.ID, CursorRequest{Cursor: first.NextCursor, Size: 2})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.False(t, second.HasNext)
	assert.Nil(t, second.NextCursor)

	got := []int64{first.Items[0].ID, first.Items[1].ID, second.Items[0].ID}
	assert.Equal(t, []int64{sent[2], sent[1], sent[0]}, got, "newest first with no overlap or gap")

	byRecipient, err := f.invitations.ListByRecipient(ctx, aliceID, CursorRequest{})
	require.NoError(t, err)
	assert.Len(t, byRecipient.Items, 3)
	assert.False(t, byRecipient.HasNext)
	for i := 1; i < len(byRecipient.Items); i++ {
		assert.Greater(t, byRecipient.Items[i-1].ID, byRecipient.Items[i].ID)
	}

	// a cursor from another organization's listing is rejected
	foreign := byRecipient.Items[0].ID
	_, err = f.invitations.ListByOrganization(ctx, f.org.ID, CursorRequest{Cursor: &foreign})
	assert.ErrorIs(t, err, apperrors.ErrInvalidOperation)
}

func TestInvitationService_CursorPaginationEqualTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var sent []int64
	for _, recipient := range []int64{aliceID, bobID, carolID} {
		inv, err := f.invitations.SendInvite(ctx, ownerID, f.org.ID, recipient)
		require.NoError(t, err)
		sent = append(sent, inv.ID)
	}
	_, err := f.db.ExecContext(ctx, `UPDATE invitations SET created_at = $1 WHERE organization_id = $2`,
		database.Now(), f.org.ID)
	require.NoError(t, err)

	var got []int64
	req := CursorRequest{Size: 1}
	for page := 0; page < len(sent)+1; page++ {
		res, err := f.invitations.ListByOrganization(ctx, f.org.ID, req)
		require.NoError(t, err)
		for _, inv := range res.Items {
			got = append(got, inv.ID)
		}
		if !res.HasNext {
			break
		}
		req.Cursor = res.NextCursor
	}

	assert.Equal(t, []int64{sent[2], sent[1], sent[0]}, got, "ties break on id without overlap or gap")
}

func TestInvitationService_FindPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.invitations.SendInvite(ctx, ownerID, f.org.ID, aliceID)
	require.NoError(t, err)

	found, err := f.invitations.FindPendingInvitation(ctx, aliceID, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, found.ID)

	found, err = f.invitations.FindPendingByID(ctx, inv.ID, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, found.ID)

	_, err = f.invitations.FindPendingInvitation(ctx, bobID, f.org.ID)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)

	_, err = f.invitations.FindPendingByID(ctx, inv.ID, 4242)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)
}
