package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/rbac"
)

const membershipColumns = `organization_id, user_id, is_member, joined_at, updated_at`

func scanMembership(row database.RowScanner) (*Membership, error) {
	var m Membership
	if err := row.Scan(&m.OrganizationID, &m.UserID, &m.IsMember, &m.JoinedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Roles = []*rbac.OrganizationRole{}
	return &m, nil
}

// GetMembership retrieves a membership row, active or not, without roles
func (s *Store) GetMembership(ctx context.Context, orgID, userID int64, lock bool) (*Membership, error) {
	m, err := scanMembership(s.q.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE organization_id = $1 AND user_id = $2`+s.lock(lock), orgID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// GetMembershipWithRoles retrieves a membership with its roles and their
// permissions
func (s *Store) GetMembershipWithRoles(ctx context.Context, orgID, userID int64, lock bool) (*Membership, error) {
	m, err := s.GetMembership(ctx, orgID, userID, lock)
	if err != nil {
		return nil, err
	}
	if err := s.loadRoles(ctx, orgID, []*Membership{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// LockMemberships locks the membership rows of userIDs in ascending user id
// order and returns them with roles. Missing rows are absent from the map.
func (s *Store) LockMemberships(ctx context.Context, orgID int64, userIDs ...int64) (map[int64]*Membership, error) {
	sorted := append([]int64(nil), userIDs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	found := make(map[int64]*Membership, len(sorted))
	var list []*Membership
	for _, userID := range sorted {
		if _, dup := found[userID]; dup {
			continue
		}
		m, err := s.GetMembership(ctx, orgID, userID, true)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found[userID] = m
		list = append(list, m)
	}

	if err := s.loadRoles(ctx, orgID, list); err != nil {
		return nil, err
	}
	return found, nil
}

// InsertMembership creates an active membership with no roles
func (s *Store) InsertMembership(ctx context.Context, orgID, userID int64) (*Membership, error) {
	now := database.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO memberships (organization_id, user_id, is_member, joined_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, orgID, userID, true, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	return &Membership{
		OrganizationID: orgID,
		UserID:         userID,
		IsMember:       true,
		JoinedAt:       now,
		UpdatedAt:      now,
		Roles:          []*rbac.OrganizationRole{},
	}, nil
}

// ActivateMembership marks a soft-left membership active again and resets
// its join time
func (s *Store) ActivateMembership(ctx context.Context, orgID, userID int64) error {
	now := database.Now()
	return s.execOne(ctx, "activate membership", `
		UPDATE memberships SET is_member = $1, joined_at = $2, updated_at = $3
		WHERE organization_id = $4 AND user_id = $5
	`, true, now, now, orgID, userID)
}

// DeactivateMembership soft-terminates a membership. Roles are kept.
func (s *Store) DeactivateMembership(ctx context.Context, orgID, userID int64) error {
	return s.execOne(ctx, "deactivate membership", `
		UPDATE memberships SET is_member = $1, updated_at = $2
		WHERE organization_id = $3 AND user_id = $4
	`, false, database.Now(), orgID, userID)
}

func (s *Store) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMembershipRole appends roleID to the membership's role set. Callers
// hold the membership row lock.
func (s *Store) AddMembershipRole(ctx context.Context, orgID, userID, roleID int64) error {
	var position int64
	err := s.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), 0) FROM membership_roles
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&position)
	if err != nil {
		return fmt.Errorf("failed to read role position: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO membership_roles (organization_id, user_id, role_id, position, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
	`, orgID, userID, roleID, position+1, database.Now())
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RemoveMembershipRole deletes roleID from the membership's role set and
// returns the number of rows removed
func (s *Store) RemoveMembershipRole(ctx context.Context, orgID, userID, roleID int64) (int64, error) {
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM membership_roles
		WHERE organization_id = $1 AND user_id = $2 AND role_id = $3
	`, orgID, userID, roleID)
	if err != nil {
		return 0, fmt.Errorf("failed to un-assign role: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// loadRoles fills in Roles for memberships of one organization
func (s *Store) loadRoles(ctx context.Context, orgID int64, memberships []*Membership) error {
	if len(memberships) == 0 {
		return nil
	}

	byUser := make(map[int64]*Membership, len(memberships))
	userIDs := make([]int64, 0, len(memberships))
	for _, m := range memberships {
		m.Roles = []*rbac.OrganizationRole{}
		byUser[m.UserID] = m
		userIDs = append(userIDs, m.UserID)
	}

	args := append([]any{orgID}, database.Int64Args(userIDs)...)
	rows, err := s.q.QueryContext(ctx, `
		SELECT mr.user_id, r.id, r.organization_id, r.name, r.display_name, r.created_at, r.updated_at
		FROM membership_roles mr
		JOIN organization_roles r ON r.id = mr.role_id
		WHERE mr.organization_id = $1 AND mr.user_id IN (`+database.Placeholders(2, len(userIDs))+`)
		ORDER BY mr.user_id, mr.position
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to load membership roles: %w", err)
	}
	defer rows.Close()

	var all []*rbac.OrganizationRole
	for rows.Next() {
		var (
			userID int64
			r      rbac.OrganizationRole
		)
		if err := rows.Scan(&userID, &r.ID, &r.OrganizationID, &r.Name, &r.DisplayName, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan membership role: %w", err)
		}
		role := &r
		byUser[userID].Roles = append(byUser[userID].Roles, role)
		all = append(all, role)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load membership roles: %w", err)
	}
	rows.Close()

	return s.roles.LoadPermissions(ctx, all)
}

// CountMembers counts active members
func (s *Store) CountMembers(ctx context.Context, orgID int64) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE organization_id = $1 AND is_member = $2`,
		orgID, true).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return n, nil
}

// ListUserIDsByRole lists active members holding roleID
func (s *Store) ListUserIDsByRole(ctx context.Context, orgID, roleID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT m.user_id
		FROM memberships m
		JOIN membership_roles mr ON mr.organization_id = m.organization_id AND mr.user_id = m.user_id
		WHERE m.organization_id = $1 AND mr.role_id = $2 AND m.is_member = $3
		ORDER BY m.user_id
	`, orgID, roleID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	defer rows.Close()

	userIDs := []int64{}
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, rows.Err()
}

// ListMembers returns up to limit active memberships with roles ordered by
// (joined_at DESC, user_id DESC), starting after the member afterUserID
// when it is set
func (s *Store) ListMembers(ctx context.Context, orgID int64, afterUserID *int64, limit int) ([]*Membership, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if afterUserID == nil {
		rows, err = s.q.QueryContext(ctx, `
			SELECT `+membershipColumns+`
			FROM memberships
			WHERE organization_id = $1 AND is_member = $2
			ORDER BY joined_at DESC, user_id DESC
			LIMIT $3
		`, orgID, true, limit)
	} else {
		var joinedAt time.Time
		joinedAt, err = s.memberJoinedAt(ctx, orgID, *afterUserID)
		if err != nil {
			return nil, err
		}
		rows, err = s.q.QueryContext(ctx, `
			SELECT `+membershipColumns+`
			FROM memberships
			WHERE organization_id = $1 AND is_member = $2
			  AND (joined_at < $3 OR (joined_at = $3 AND user_id < $4))
			ORDER BY joined_at DESC, user_id DESC
			LIMIT $5
		`, orgID, true, joinedAt, *afterUserID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	rows.Close()

	if err := s.loadRoles(ctx, orgID, members); err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Store) memberJoinedAt(ctx context.Context, orgID, userID int64) (time.Time, error) {
	var joinedAt time.Time
	err := s.q.QueryRowContext(ctx,
		`SELECT joined_at FROM memberships WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID).Scan(&joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read cursor membership: %w", err)
	}
	return joinedAt, nil
}

// EffectivePermissions returns the sorted, de-duplicated permission names
// granted by an active membership's roles. Inactive or missing memberships
// have none.
func (s *Store) EffectivePermissions(ctx context.Context, orgID, userID int64) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT DISTINCT p.name
		FROM memberships m
		JOIN membership_roles mr ON mr.organization_id = m.organization_id AND mr.user_id = m.user_id
		JOIN organization_role_permissions rp ON rp.role_id = mr.role_id
		JOIN organization_permissions p ON p.id = rp.permission_id
		WHERE m.organization_id = $1 AND m.user_id = $2 AND m.is_member = $3
		ORDER BY p.name
	`, orgID, userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to compute permissions: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
