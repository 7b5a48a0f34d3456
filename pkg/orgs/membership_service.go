package orgs

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/async"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/permissions"
	"github.com/platinummonkey/tenancy/pkg/rbac"
)

// AuthzInvalidator drops cached authorization data for one member
type AuthzInvalidator interface {
	InvalidateUser(ctx context.Context, orgID, userID int64)
}

// MembershipService runs membership workflows: join, kick, role assignment,
// ownership transfer and organization bootstrap
type MembershipService struct {
	db      *sql.DB
	store   *Store
	users   UserDirectory
	catalog *permissions.Catalog
	cache   AuthzInvalidator
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewMembershipService creates a membership service. users defaults to the
// store; cache and metrics may be nil.
func NewMembershipService(db *sql.DB, store *Store, users UserDirectory, catalog *permissions.Catalog, cache AuthzInvalidator, logger *observability.Logger, metrics *observability.Metrics) *MembershipService {
	if users == nil {
		users = store
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &MembershipService{
		db:      db,
		store:   store,
		users:   users,
		catalog: catalog,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *MembershipService) start(ctx context.Context, name string, orgID, userID int64) (context.Context, *observability.Operation) {
	return observability.StartOperation(ctx, s.metrics, s.logger.WithOrg(orgID).WithUser(userID), name,
		attribute.Int64("tenancy.org_id", orgID),
		attribute.Int64("tenancy.user_id", userID))
}

func (s *MembershipService) invalidate(ctx context.Context, orgID int64, userIDs ...int64) {
	if s.cache == nil {
		return
	}
	for _, userID := range userIDs {
		s.cache.InvalidateUser(ctx, orgID, userID)
	}
}

// classify passes classified errors through and wraps everything else as
// Unknown
func classify(op, msg string, err error) error {
	if apperrors.IsClassified(err) {
		return err
	}
	return apperrors.Unknown(op, "%s", msg).Wrap(err)
}

// optionalMembership treats a missing membership as nil
func optionalMembership(m *Membership, err error) (*Membership, error) {
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// JoinOrganization makes userID an active member of orgID holding the USER
// role. A soft-left membership is reactivated.
func (s *MembershipService) JoinOrganization(ctx context.Context, orgID, userID int64, isRestricted bool) (m *Membership, err error) {
	const op = "orgs.JoinOrganization"
	ctx, o := s.start(ctx, op, orgID, userID)
	defer func() { o.End(err) }()

	if orgID <= 0 {
		return nil, apperrors.Invalid(op, "invalid organization id")
	}

	existing, userRole, userExists, err := async.ForkJoin3(ctx,
		func(ctx context.Context) (*Membership, error) {
			return optionalMembership(s.store.GetMembership(ctx, orgID, userID, false))
		},
		func(ctx context.Context) (*rbac.OrganizationRole, error) {
			role, err := s.store.Roles().GetRoleByName(ctx, orgID, string(permissions.RoleUser))
			if errors.Is(err, rbac.ErrRoleNotFound) {
				return nil, nil
			}
			return role, err
		},
		func(ctx context.Context) (bool, error) {
			return s.users.UserExists(ctx, userID)
		},
	)
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to load membership").Wrap(err)
	}

	if existing.Active() {
		return nil, apperrors.Invalid(op, "user is already a member of this organization")
	}
	if isRestricted {
		return nil, apperrors.Denied(op, "user is restricted from this organization")
	}
	if userRole == nil {
		return nil, apperrors.NotFound(op, "default %s role of organization %d", permissions.RoleUser, orgID)
	}
	if !userExists {
		return nil, apperrors.NotFound(op, "user %d", userID)
	}

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		m, err = s.joinInTx(ctx, op, s.store.WithQuerier(tx), orgID, userID)
		return err
	})
	if err != nil {
		return nil, classify(op, "failed to join organization", err)
	}

	s.invalidate(ctx, orgID, userID)
	return m, nil
}

// joinInTx activates or creates the membership and ensures it holds the
// USER role. store must be bound to the caller's transaction.
func (s *MembershipService) joinInTx(ctx context.Context, op string, store *Store, orgID, userID int64) (*Membership, error) {
	userRole, err := store.Roles().GetRoleByName(ctx, orgID, string(permissions.RoleUser))
	if errors.Is(err, rbac.ErrRoleNotFound) {
		return nil, apperrors.NotFound(op, "default %s role of organization %d", permissions.RoleUser, orgID)
	}
	if err != nil {
		return nil, err
	}

	existing, err := optionalMembership(store.GetMembership(ctx, orgID, userID, true))
	if err != nil {
		return nil, err
	}

	switch {
	case existing == nil:
		_, err = store.InsertMembership(ctx, orgID, userID)
		if database.IsUniqueViolation(err) {
			return nil, apperrors.Invalid(op, "user is already a member of this organization")
		}
	case existing.Active():
		return nil, apperrors.Invalid(op, "user is already a member of this organization")
	default:
		err = store.ActivateMembership(ctx, orgID, userID)
	}
	if err != nil {
		return nil, err
	}

	m, err := store.GetMembershipWithRoles(ctx, orgID, userID, false)
	if err != nil {
		return nil, err
	}
	if m.HasRole(userRole.ID) {
		return m, nil
	}

	if err := store.AddMembershipRole(ctx, orgID, userID, userRole.ID); err != nil {
		return nil, err
	}
	return store.GetMembershipWithRoles(ctx, orgID, userID, false)
}

// CreateOwnerMembership bootstraps an organization that has no members yet:
// it creates the default roles and makes userID a member holding all of
// them, including OWNER.
func (s *MembershipService) CreateOwnerMembership(ctx context.Context, org *Organization, userID int64) (m *Membership, err error) {
	const op = "orgs.CreateOwnerMembership"
	if org == nil || org.ID <= 0 {
		return nil, apperrors.Invalid(op, "invalid organization")
	}
	ctx, o := s.start(ctx, op, org.ID, userID)
	defer func() { o.End(err) }()

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := s.store.WithQuerier(tx)

		current, err := store.GetOrganization(ctx, org.ID, true)
		if errors.Is(err, ErrNotFound) {
			return apperrors.NotFound(op, "organization %d", org.ID)
		}
		if err != nil {
			return err
		}
		if current.OwnerID != 0 && current.OwnerID != userID {
			return apperrors.Invalid(op, "organization %d already has an owner", org.ID)
		}

		if m, err = s.createOwnerInTx(ctx, op, store, org.ID, userID); err != nil {
			return err
		}
		if current.OwnerID == 0 {
			if err := store.SetOwner(ctx, org.ID, userID); err != nil {
				return err
			}
			org.OwnerID = userID
		}
		return nil
	})
	if err != nil {
		return nil, classify(op, "failed to create owner membership", err)
	}

	s.invalidate(ctx, org.ID, userID)
	return m, nil
}

func (s *MembershipService) createOwnerInTx(ctx context.Context, op string, store *Store, orgID, userID int64) (*Membership, error) {
	m, err := store.InsertMembership(ctx, orgID, userID)
	if database.IsUniqueViolation(err) {
		return nil, apperrors.Invalid(op, "user is already a member of this organization")
	}
	if err != nil {
		return nil, err
	}

	roles, err := store.Roles().CreateDefaultRoles(ctx, s.catalog, orgID)
	switch {
	case errors.Is(err, rbac.ErrPermissionNotFound):
		return nil, apperrors.Invalid(op, "permission catalog is incomplete").Wrap(err)
	case database.IsUniqueViolation(err):
		return nil, apperrors.Invalid(op, "organization %d already has default roles", orgID)
	case err != nil:
		return nil, err
	}
	if len(roles) == 0 {
		return nil, apperrors.Invalid(op, "permission catalog produced no default roles")
	}

	// all default roles including OWNER; the generic assignment guard does not apply here
	for _, role := range roles {
		if err := store.AddMembershipRole(ctx, orgID, userID, role.ID); err != nil {
			return nil, err
		}
	}
	m.Roles = roles
	return m, nil
}

// CreateOrganization creates an organization owned by ownerID together with
// its default roles and the owner's membership
func (s *MembershipService) CreateOrganization(ctx context.Context, req CreateOrganizationRequest, ownerID int64) (org *Organization, m *Membership, err error) {
	const op = "orgs.CreateOrganization"
	ctx, o := s.start(ctx, op, 0, ownerID)
	defer func() { o.End(err) }()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, nil, apperrors.Invalid(op, "organization name is required")
	}

	exists, err := s.users.UserExists(ctx, ownerID)
	if err != nil {
		return nil, nil, apperrors.Unknown(op, "failed to look up user").Wrap(err)
	}
	if !exists {
		return nil, nil, apperrors.NotFound(op, "user %d", ownerID)
	}

	org = &Organization{Name: name, OwnerID: ownerID, Metadata: req.Metadata}
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := s.store.WithQuerier(tx)
		if err := store.CreateOrganization(ctx, org); err != nil {
			return err
		}
		var err error
		m, err = s.createOwnerInTx(ctx, op, store, org.ID, ownerID)
		return err
	})
	if err != nil {
		return nil, nil, classify(op, "failed to create organization", err)
	}

	o.Logger().WithOrg(org.ID).Info("organization created")
	s.invalidate(ctx, org.ID, ownerID)
	return org, m, nil
}

// SwapOwnership transfers ownership of orgID from currentOwnerID to
// newOwnerID, moving the OWNER role and the organization's owner reference
// in one transaction
func (s *MembershipService) SwapOwnership(ctx context.Context, orgID, currentOwnerID, newOwnerID int64) (result *SwapResult, err error) {
	const op = "orgs.SwapOwnership"
	ctx, o := s.start(ctx, op, orgID, currentOwnerID)
	defer func() { o.End(err) }()

	if currentOwnerID == newOwnerID {
		return nil, apperrors.Invalid(op, "user already owns the organization")
	}

	newOwner, currentOwner, org, err := async.ForkJoin3(ctx,
		func(ctx context.Context) (*Membership, error) {
			return optionalMembership(s.store.GetMembershipWithRoles(ctx, orgID, newOwnerID, false))
		},
		func(ctx context.Context) (*Membership, error) {
			return optionalMembership(s.store.GetMembershipWithRoles(ctx, orgID, currentOwnerID, false))
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
		return nil, apperrors.Unknown(op, "failed to load memberships").Wrap(err)
	}

	if !newOwner.Active() {
		return nil, apperrors.Invalid(op, "new owner must be an active member")
	}
	if org == nil {
		return nil, apperrors.NotFound(op, "organization %d", orgID)
	}
	if org.OwnerID != currentOwnerID {
		return nil, apperrors.Invalid(op, "user %d is not the owner of organization %d", currentOwnerID, orgID)
	}
	if !currentOwner.Active() {
		return nil, apperrors.Unknown(op, "owner %d of organization %d has no active membership", currentOwnerID, orgID)
	}

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := s.store.WithQuerier(tx)

		locked, err := store.GetOrganization(ctx, orgID, true)
		if err != nil {
			return err
		}
		if locked.OwnerID != currentOwnerID {
			return apperrors.Invalid(op, "user %d is not the owner of organization %d", currentOwnerID, orgID)
		}

		members, err := store.LockMemberships(ctx, orgID, currentOwnerID, newOwnerID)
		if err != nil {
			return err
		}
		if !members[newOwnerID].Active() {
			return apperrors.Invalid(op, "new owner must be an active member")
		}
		if !members[currentOwnerID].Active() {
			return apperrors.Unknown(op, "owner %d of organization %d has no active membership", currentOwnerID, orgID)
		}

		ownerRole, err := store.Roles().GetRoleByName(ctx, orgID, string(permissions.RoleOwner))
		if errors.Is(err, rbac.ErrRoleNotFound) {
			return apperrors.Unknown(op, "organization %d has no %s role", orgID, permissions.RoleOwner)
		}
		if err != nil {
			return err
		}

		if !members[currentOwnerID].HasRole(ownerRole.ID) {
			return apperrors.Unknown(op, "owner %d does not hold the %s role", currentOwnerID, permissions.RoleOwner)
		}
		if members[newOwnerID].HasRole(ownerRole.ID) {
			return apperrors.Unknown(op, "user %d already holds the %s role", newOwnerID, permissions.RoleOwner)
		}

		removed, err := store.RemoveMembershipRole(ctx, orgID, currentOwnerID, ownerRole.ID)
		if err != nil {
			return err
		}
		if removed == 0 {
			return apperrors.Unknown(op, "failed to remove %s role from user %d", permissions.RoleOwner, currentOwnerID)
		}
		if err := store.AddMembershipRole(ctx, orgID, newOwnerID, ownerRole.ID); err != nil {
			return apperrors.Unknown(op, "failed to add %s role to user %d", permissions.RoleOwner, newOwnerID).Wrap(err)
		}
		if err := store.SetOwner(ctx, orgID, newOwnerID); err != nil {
			return err
		}

		result = &SwapResult{}
		if result.NewOwner, err = store.GetMembershipWithRoles(ctx, orgID, newOwnerID, false); err != nil {
			return err
		}
		result.PreviousOwner, err = store.GetMembershipWithRoles(ctx, orgID, currentOwnerID, false)
		return err
	})
	if err != nil {
		return nil, classify(op, "failed to transfer ownership", err)
	}

	s.invalidate(ctx, orgID, currentOwnerID, newOwnerID)
	o.Logger().WithField("new_owner_id", newOwnerID).Info("ownership transferred")
	return result, nil
}

// KickUser soft-removes userID from orgID. Roles stay on the row.
func (s *MembershipService) KickUser(ctx context.Context, orgID, userID int64) (m *Membership, err error) {
	const op = "orgs.KickUser"
	ctx, o := s.start(ctx, op, orgID, userID)
	defer func() { o.End(err) }()

	org, existing, err := async.ForkJoin(ctx,
		func(ctx context.Context) (*Organization, error) {
			org, err := s.store.GetOrganization(ctx, orgID, false)
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return org, err
		},
		func(ctx context.Context) (*Membership, error) {
			return optionalMembership(s.store.GetMembership(ctx, orgID, userID, false))
		},
	)
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to load membership").Wrap(err)
	}

	if !existing.Active() {
		return nil, apperrors.Invalid(op, "user is not a member of this organization")
	}
	if org == nil {
		return nil, apperrors.NotFound(op, "organization %d", orgID)
	}
	if org.OwnerID == userID {
		return nil, apperrors.Invalid(op, "the owner cannot be kicked; transfer ownership first")
	}

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := s.store.WithQuerier(tx)

		locked, err := store.GetOrganization(ctx, orgID, true)
		if err != nil {
			return err
		}
		if locked.OwnerID == userID {
			return apperrors.Invalid(op, "the owner cannot be kicked; transfer ownership first")
		}

		current, err := optionalMembership(store.GetMembership(ctx, orgID, userID, true))
		if err != nil {
			return err
		}
		if !current.Active() {
			return apperrors.Invalid(op, "user is not a member of this organization")
		}

		if err := store.DeactivateMembership(ctx, orgID, userID); err != nil {
			return err
		}
		m, err = store.GetMembershipWithRoles(ctx, orgID, userID, false)
		return err
	})
	if err != nil {
		return nil, classify(op, "failed to kick user", err)
	}

	s.invalidate(ctx, orgID, userID)
	return m, nil
}

// AssignRole adds roleID to the active membership of userID in orgID
func (s *MembershipService) AssignRole(ctx context.Context, roleID, orgID, userID int64) (*rbac.OrganizationRole, error) {
	return s.mutateRole(ctx, "orgs.AssignRole", rbac.Assign, roleID, orgID, userID)
}

// UnassignRole removes roleID from the active membership of userID in orgID
func (s *MembershipService) UnassignRole(ctx context.Context, roleID, orgID, userID int64) (*rbac.OrganizationRole, error) {
	return s.mutateRole(ctx, "orgs.UnassignRole", rbac.Unassign, roleID, orgID, userID)
}

func (s *MembershipService) mutateRole(ctx context.Context, op string, mutation rbac.Mutation, roleID, orgID, userID int64) (role *rbac.OrganizationRole, err error) {
	ctx, o := s.start(ctx, op, orgID, userID)
	defer func() { o.End(err) }()

	m, role, err := async.ForkJoin(ctx,
		func(ctx context.Context) (*Membership, error) {
			return optionalMembership(s.store.GetMembershipWithRoles(ctx, orgID, userID, false))
		},
		func(ctx context.Context) (*rbac.OrganizationRole, error) {
			role, err := s.store.Roles().GetRole(ctx, roleID)
			if errors.Is(err, rbac.ErrRoleNotFound) {
				return nil, nil
			}
			return role, err
		},
	)
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to load membership").Wrap(err)
	}

	if !m.Active() {
		return nil, apperrors.NotFound(op, "membership of user %d in organization %d", userID, orgID)
	}
	if role == nil || role.OrganizationID != orgID {
		return nil, apperrors.NotFound(op, "organization role %d", roleID)
	}
	if guard := rbac.GuardRoleMutation(mutation, role, m.Roles); !guard.Allowed {
		return nil, apperrors.Invalid(op, "%s", guard.Rejection)
	}

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		store := s.store.WithQuerier(tx)

		current, err := optionalMembership(store.GetMembershipWithRoles(ctx, orgID, userID, true))
		if err != nil {
			return err
		}
		if !current.Active() {
			return apperrors.NotFound(op, "membership of user %d in organization %d", userID, orgID)
		}
		if guard := rbac.GuardRoleMutation(mutation, role, current.Roles); !guard.Allowed {
			return apperrors.Invalid(op, "%s", guard.Rejection)
		}

		if mutation == rbac.Assign {
			err := store.AddMembershipRole(ctx, orgID, userID, roleID)
			if database.IsUniqueViolation(err) {
				return apperrors.Invalid(op, "%s", rbac.AlreadyAssigned)
			}
			return err
		}

		removed, err := store.RemoveMembershipRole(ctx, orgID, userID, roleID)
		if err != nil {
			return err
		}
		if removed == 0 {
			return apperrors.Invalid(op, "%s", rbac.NotAssigned)
		}
		return nil
	})
	if err != nil {
		return nil, classify(op, "failed to change role assignment", err)
	}

	s.invalidate(ctx, orgID, userID)
	return role, nil
}

// IsMember reports whether userID is an active member of orgID
func (s *MembershipService) IsMember(ctx context.Context, orgID, userID int64) (ok bool, err error) {
	const op = "orgs.IsMember"
	ctx, o := s.start(ctx, op, orgID, userID)
	defer func() { o.End(err) }()

	m, err := optionalMembership(s.store.GetMembership(ctx, orgID, userID, false))
	if err != nil {
		return false, apperrors.Unknown(op, "failed to load membership").Wrap(err)
	}
	return m.Active(), nil
}

// HasUserJoined reports whether userID has joined orgID and not left since.
// Use GetMembership to see soft-left rows.
func (s *MembershipService) HasUserJoined(ctx context.Context, orgID, userID int64) (joined bool, err error) {
	const op = "orgs.HasUserJoined"
	ctx, o := s.start(ctx, op, orgID, userID)
	defer func() { o.End(err) }()

	m, err := optionalMembership(s.store.GetMembership(ctx, orgID, userID, false))
	if err != nil {
		return false, apperrors.Unknown(op, "failed to load membership").Wrap(err)
	}
	return m.Active(), nil
}

// GetMembership returns the membership row of userID in orgID, active or not
func (s *MembershipService) GetMembership(ctx context.Context, orgID, userID int64) (m *Membership, err error) {
	const op = "orgs.GetMembership"
	ctx, o := s.start(ctx, op, orgID, userID)
	defer func() { o.End(err) }()

	m, err = s.store.GetMembership(ctx, orgID, userID, false)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NotFound(op, "membership of user %d in organization %d", userID, orgID)
	}
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to load membership").Wrap(err)
	}
	return m, nil
}

// GetMembershipWithRoles returns the active membership of userID with its
// roles and their permissions
func (s *MembershipService) GetMembershipWithRoles(ctx context.Context, orgID, userID int64) (m *Membership, err error) {
	const op = "orgs.GetMembershipWithRoles"
	ctx, o := s.start(ctx, op, orgID, userID)
	defer func() { o.End(err) }()

	m, err = optionalMembership(s.store.GetMembershipWithRoles(ctx, orgID, userID, false))
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to load membership").Wrap(err)
	}
	if !m.Active() {
		return nil, apperrors.NotFound(op, "membership of user %d in organization %d", userID, orgID)
	}
	return m, nil
}

// CountMembers counts the active members of orgID
func (s *MembershipService) CountMembers(ctx context.Context, orgID int64) (n int64, err error) {
	const op = "orgs.CountMembers"
	ctx, o := s.start(ctx, op, orgID, 0)
	defer func() { o.End(err) }()

	n, err = s.store.CountMembers(ctx, orgID)
	if err != nil {
		return 0, apperrors.Unknown(op, "failed to count members").Wrap(err)
	}
	return n, nil
}

// ListUserIDsByRole lists the active members of orgID holding roleID
func (s *MembershipService) ListUserIDsByRole(ctx context.Context, orgID, roleID int64) (ids []int64, err error) {
	const op = "orgs.ListUserIDsByRole"
	ctx, o := s.start(ctx, op, orgID, 0)
	defer func() { o.End(err) }()

	ids, err = s.store.ListUserIDsByRole(ctx, orgID, roleID)
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to list role holders").Wrap(err)
	}
	return ids, nil
}

// ListMembers pages through the active members of orgID, most recently
// joined first. The cursor is a user id.
func (s *MembershipService) ListMembers(ctx context.Context, orgID int64, req CursorRequest) (page CursorPage[*Membership], err error) {
	const op = "orgs.ListMembers"
	ctx, o := s.start(ctx, op, orgID, 0)
	defer func() { o.End(err) }()

	size := req.size()
	rows, err := s.store.ListMembers(ctx, orgID, req.Cursor, size+1)
	if errors.Is(err, ErrNotFound) {
		return page, apperrors.Invalid(op, "invalid cursor")
	}
	if err != nil {
		return page, apperrors.Unknown(op, "failed to list members").Wrap(err)
	}
	return buildPage(rows, size, func(m *Membership) int64 { return m.UserID }), nil
}
