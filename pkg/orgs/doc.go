// Package orgs manages organizations, memberships and invitations.
//
// # Memberships
//
// A Membership joins one user to one organization and is keyed by
// (organization, user). It is never deleted: leaving or being kicked sets
// IsMember to false and keeps the role assignments, and joining again
// reactivates the same row with a fresh JoinedAt. Role assignments live in
// membership_roles and keep their insertion order for display.
//
// MembershipService owns every change to memberships:
//
//	JoinOrganization       activate a membership holding the USER role
//	CreateOrganization     create an organization and its owner membership
//	SwapOwnership          move the OWNER role and organization.owner together
//	KickUser               deactivate a non-owner membership
//	AssignRole/UnassignRole  guarded role changes (see rbac.GuardRoleMutation)
//
// Reads that feed a decision run in parallel through async.ForkJoin. Writes
// run in one transaction that re-reads the affected rows with a row lock and
// re-validates them, so two concurrent assignments of different roles both
// land and a stale read never overwrites a newer role set.
//
// # Invitations
//
// An Invitation is PENDING until it is ACCEPTED, REJECTED or CANCELLED; the
// three terminal states are final. A partial unique index guarantees at most
// one PENDING invitation per (organization, recipient). Accepting runs the
// join in the same transaction, so an invitation is never ACCEPTED without a
// membership.
//
// Invitation listings are cursor paginated over (created_at DESC, id DESC):
//
//	page, err := invitations.ListByRecipient(ctx, userID, orgs.CursorRequest{Size: 20})
//	next, err := invitations.ListByRecipient(ctx, userID, orgs.CursorRequest{Cursor: page.NextCursor, Size: 20})
//
// # Errors
//
// Every service error is an *apperrors.Error. Store methods return ErrNotFound
// for absent rows and wrap driver errors.
//
// # Authorization Cache
//
// Each mutation invalidates the affected (organization, user) entries of the
// authorization cache after commit and before returning.
package orgs
