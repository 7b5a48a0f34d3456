package orgs

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/async"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// InvitationService drives the invitation state machine. Acceptance joins
// the recipient through the membership service's join logic.
type InvitationService struct {
	db          *sql.DB
	store       *Store
	users       UserDirectory
	memberships *MembershipService
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewInvitationService creates an invitation service. users defaults to the
// store.
func NewInvitationService(db *sql.DB, store *Store, users UserDirectory, memberships *MembershipService, logger *observability.Logger, metrics *observability.Metrics) *InvitationService {
	if users == nil {
		users = store
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &InvitationService{
		db:          db,
		store:       store,
		users:       users,
		memberships: memberships,
		logger:      logger,
		metrics:     metrics,
	}
}

func (s *InvitationService) start(ctx context.Context, name string, orgID, userID int64) (context.Context, *observability.Operation) {
	return observability.StartOperation(ctx, s.metrics, s.logger.WithOrg(orgID).WithUser(userID), name,
		attribute.Int64("tenancy.org_id", orgID),
		attribute.Int64("tenancy.user_id", userID))
}

// SendInvite stores a PENDING invitation from senderID to recipientID
func (s *InvitationService) SendInvite(ctx context.Context, senderID, orgID, recipientID int64) (inv *Invitation, err error) {
	const op = "orgs.SendInvite"
	ctx, o := s.start(ctx, op, orgID, recipientID)
	defer func() { o.End(err) }()

	membership, pending, err := async.ForkJoin(ctx,
		func(ctx context.Context) (*Membership, error) {
			return optionalMembership(s.store.GetMembership(ctx, orgID, recipientID, false))
		},
		func(ctx context.Context) (*Invitation, error) {
			inv, err := s.store.FindPendingInvitation(ctx, recipientID, orgID)
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return inv, err
		},
	)
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to load recipient state").Wrap(err)
	}

	if membership.Active() {
		return nil, apperrors.Invalid(op, "user already a member")
	}
	if pending != nil {
		return nil, apperrors.Invalid(op, "user already has an invitation")
	}

	recipientExists, org, err := async.ForkJoin(ctx,
		func(ctx context.Context) (bool, error) {
			return s.users.UserExists(ctx, recipientID)
		},
		func(ctx context.Context) (*Organization, error) {
			org, err := s.store.GetOrganization(ctx, orgID, false)
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return org, err
		},
	)
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to resolve recipient").Wrap(err)
	}
	if !recipientExists {
		return nil, apperrors.NotFound(op, "user %d", recipientID)
	}
	if org == nil {
		return nil, apperrors.NotFound(op, "organization %d", orgID)
	}

	inv, err = s.store.InsertInvitation(ctx, orgID, senderID, recipientID)
	if database.IsUniqueViolation(err) {
		return nil, apperrors.Invalid(op, "user already has an invitation")
	}
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to create invitation").Wrap(err)
	}
	return inv, nil
}

func targetStatus(action InvitationAction) (InvitationStatus, bool) {
	switch action {
	case ActionCancel:
		return InvitationCancelled, true
	case ActionReject:
		return InvitationRejected, true
	default:
		return "", false
	}
}

// CancelOrReject ends a pending invitation. CANCEL moves it to CANCELLED and
// REJECT to REJECTED.
func (s *InvitationService) CancelOrReject(ctx context.Context, inv *Invitation, action InvitationAction) (updated *Invitation, err error) {
	const op = "orgs.CancelOrReject"
	if inv == nil {
		return nil, apperrors.NotFound(op, "invitation")
	}
	ctx, o := s.start(ctx, op, inv.OrganizationID, inv.RecipientID)
	defer func() { o.End(err) }()

	status, ok := targetStatus(action)
	if !ok {
		return nil, apperrors.Invalid(op, "invalid action received %s", action)
	}
	if inv.Status == status {
		return nil, apperrors.Invalid(op, "can't re-set the invitation to the same status")
	}
	if inv.Status.Terminal() {
		return nil, apperrors.Invalid(op, "invitation is already %s", inv.Status)
	}

	changed, err := s.store.TransitionInvitation(ctx, inv.ID, InvitationPending, status)
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to update invitation").Wrap(err)
	}
	if !changed {
		return nil, apperrors.Invalid(op, "invitation %d is no longer pending", inv.ID)
	}

	updated = new(Invitation)
	*updated = *inv
	updated.Status = status
	return updated, nil
}

// CancelOrRejectInvite looks up the pending invitation invitationID of orgID
// and ends it
func (s *InvitationService) CancelOrRejectInvite(ctx context.Context, invitationID, orgID int64, action InvitationAction) (*Invitation, error) {
	inv, err := s.FindPendingByID(ctx, invitationID, orgID)
	if err != nil {
		return nil, err
	}
	return s.CancelOrReject(ctx, inv, action)
}

// AcceptInvite marks the invitation ACCEPTED and joins the recipient to the
// organization in one transaction
func (s *InvitationService) AcceptInvite(ctx context.Context, invitationID, recipientID int64) (m *Membership, err error) {
	const op = "orgs.AcceptInvite"
	ctx, o := s.start(ctx, op, 0, recipientID)
	defer func() { o.End(err) }()

	var orgID int64
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := s.store.WithQuerier(tx)

		inv, err := store.GetInvitation(ctx, invitationID, true)
		if errors.Is(err, ErrNotFound) {
			return apperrors.NotFound(op, "invitation %d", invitationID)
		}
		if err != nil {
			return err
		}
		if inv.Status != InvitationPending || inv.RecipientID != recipientID {
			return apperrors.NotFound(op, "invitation %d", invitationID)
		}
		orgID = inv.OrganizationID

		changed, err := store.TransitionInvitation(ctx, inv.ID, InvitationPending, InvitationAccepted)
		if err != nil {
			return err
		}
		if !changed {
			return apperrors.NotFound(op, "invitation %d", invitationID)
		}

		m, err = s.memberships.joinInTx(ctx, op, store, inv.OrganizationID, recipientID)
		return err
	})
	if err != nil {
		return nil, classify(op, "failed to accept invitation", err)
	}

	s.memberships.invalidate(ctx, orgID, recipientID)
	return m, nil
}

// FindPendingInvitation returns the recipient's pending invitation to orgID
func (s *InvitationService) FindPendingInvitation(ctx context.Context, recipientID, orgID int64) (*Invitation, error) {
	const op = "orgs.FindPendingInvitation"
	inv, err := s.store.FindPendingInvitation(ctx, recipientID, orgID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NotFound(op, "pending invitation for user %d", recipientID)
	}
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to find invitation").Wrap(err)
	}
	return inv, nil
}

// FindPendingByID returns invitationID if it is pending and belongs to orgID
func (s *InvitationService) FindPendingByID(ctx context.Context, invitationID, orgID int64) (*Invitation, error) {
	const op = "orgs.FindPendingByID"
	inv, err := s.store.FindPendingByID(ctx, invitationID, orgID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NotFound(op, "invitation %d", invitationID)
	}
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to find invitation").Wrap(err)
	}
	return inv, nil
}

// ListByRecipient pages through a user's invitations, newest first
func (s *InvitationService) ListByRecipient(ctx context.Context, recipientID int64, req CursorRequest) (CursorPage[*Invitation], error) {
	return s.list(ctx, "orgs.ListByRecipient", req, func(ctx context.Context, size int) ([]*Invitation, error) {
		return s.store.ListInvitationsByRecipient(ctx, recipientID, req.Cursor, size)
	})
}

// ListByOrganization pages through an organization's invitations, newest
// first
func (s *InvitationService) ListByOrganization(ctx context.Context, orgID int64, req CursorRequest) (CursorPage[*Invitation], error) {
	return s.list(ctx, "orgs.ListByOrganization", req, func(ctx context.Context, size int) ([]*Invitation, error) {
		return s.store.ListInvitationsByOrganization(ctx, orgID, req.Cursor, size)
	})
}

func (s *InvitationService) list(ctx context.Context, op string, req CursorRequest,
	fetch func(context.Context, int) ([]*Invitation, error)) (page CursorPage[*Invitation], err error) {
	ctx, o := observability.StartOperation(ctx, s.metrics, s.logger, op)
	defer func() { o.End(err) }()

	size := req.size()
	rows, err := fetch(ctx, size+1)
	if errors.Is(err, ErrNotFound) {
		return page, apperrors.Invalid(op, "invalid cursor")
	}
	if err != nil {
		return page, apperrors.Unknown(op, "failed to list invitations").Wrap(err)
	}
	return buildPage(rows, size, func(inv *Invitation) int64 { return inv.ID }), nil
}
