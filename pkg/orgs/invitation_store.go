package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/tenancy/pkg/database"
)

const invitationColumns = `id, organization_id, sender_id, recipient_id, status, created_at, updated_at`

func scanInvitation(row database.RowScanner) (*Invitation, error) {
	var inv Invitation
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.SenderID, &inv.RecipientID,
		&inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// InsertInvitation stores a PENDING invitation. A second pending invitation
// for the same recipient and organization violates a unique index.
func (s *Store) InsertInvitation(ctx context.Context, orgID, senderID, recipientID int64) (*Invitation, error) {
	now := database.Now()
	inv := &Invitation{
		ID:             s.ids.Next(),
		OrganizationID: orgID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Status:         InvitationPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, inv.ID, inv.OrganizationID, inv.SenderID, inv.RecipientID, string(inv.Status), inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return inv, nil
}

func (s *Store) getInvitation(ctx context.Context, query string, args ...any) (*Invitation, error) {
	inv, err := scanInvitation(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// GetInvitation retrieves an invitation in any status
func (s *Store) GetInvitation(ctx context.Context, invitationID int64, lock bool) (*Invitation, error) {
	return s.getInvitation(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE id = $1`+s.lock(lock), invitationID)
}

// FindPendingInvitation returns the recipient's pending invitation to orgID
func (s *Store) FindPendingInvitation(ctx context.Context, recipientID, orgID int64) (*Invitation, error) {
	return s.getInvitation(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE recipient_id = $1 AND organization_id = $2 AND status = $3
	`, recipientID, orgID, string(InvitationPending))
}

// FindPendingByID returns invitationID if it is pending and belongs to orgID
func (s *Store) FindPendingByID(ctx context.Context, invitationID, orgID int64) (*Invitation, error) {
	return s.getInvitation(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE id = $1 AND organization_id = $2 AND status = $3
	`, invitationID, orgID, string(InvitationPending))
}

// TransitionInvitation moves an invitation from one status to another. It
// reports false when the invitation was no longer in status from.
func (s *Store) TransitionInvitation(ctx context.Context, invitationID int64, from, to InvitationStatus) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE invitations SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, string(to), database.Now(), invitationID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update invitation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListInvitationsByRecipient lists a user's invitations newest first
func (s *Store) ListInvitationsByRecipient(ctx context.Context, recipientID int64, after *int64, limit int) ([]*Invitation, error) {
	return s.listInvitations(ctx, "recipient_id", recipientID, after, limit)
}

// ListInvitationsByOrganization lists an organization's invitations newest
// first
func (s *Store) ListInvitationsByOrganization(ctx context.Context, orgID int64, after *int64, limit int) ([]*Invitation, error) {
	return s.listInvitations(ctx, "organization_id", orgID, after, limit)
}

// listInvitations pages by (created_at DESC, id DESC). column is one of the
// two indexed owner columns, never caller input.
func (s *Store) listInvitations(ctx context.Context, column string, owner int64, after *int64, limit int) ([]*Invitation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = s.q.QueryContext(ctx, `
			SELECT `+invitationColumns+`
			FROM invitations
			WHERE `+column+` = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, owner, limit)
	} else {
		var createdAt time.Time
		err = s.q.QueryRowContext(ctx,
			`SELECT created_at FROM invitations WHERE id = $1 AND `+column+` = $2`,
			*after, owner).Scan(&createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read cursor invitation: %w", err)
		}
		rows, err = s.q.QueryContext(ctx, `
			SELECT `+invitationColumns+`
			FROM invitations
			WHERE `+column+` = $1
			  AND (created_at < $2 OR (created_at = $2 AND id < $3))
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, owner, createdAt, *after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := []*Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}
