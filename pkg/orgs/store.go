package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/id"
	"github.com/platinummonkey/tenancy/pkg/rbac"
)

// UserDirectory resolves user ids. Users are owned outside this module.
type UserDirectory interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// Store persists organizations, memberships and invitations
type Store struct {
	q       database.Querier
	dialect database.Dialect
	ids     id.Generator
	roles   *rbac.Store
}

var _ UserDirectory = (*Store)(nil)

// NewStore creates a new store
func NewStore(q database.Querier, dialect database.Dialect, ids id.Generator) *Store {
	return &Store{
		q:       q,
		dialect: dialect,
		ids:     ids,
		roles:   rbac.NewStore(q, ids),
	}
}

// WithQuerier returns a copy of the store bound to q, typically a *sql.Tx
func (s *Store) WithQuerier(q database.Querier) *Store {
	return &Store{
		q:       q,
		dialect: s.dialect,
		ids:     s.ids,
		roles:   s.roles.WithQuerier(q),
	}
}

// Roles returns the role store sharing this store's querier
func (s *Store) Roles() *rbac.Store {
	return s.roles
}

func (s *Store) lock(lock bool) string {
	if !lock {
		return ""
	}
	return s.dialect.LockClause()
}

// CreateOrganization inserts org. ID and timestamps are filled in.
func (s *Store) CreateOrganization(ctx context.Context, org *Organization) error {
	now := database.Now()
	org.ID = s.ids.Next()

	metadata := org.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO organizations (id, name, owner_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, org.ID, org.Name, sql.NullInt64{Int64: org.OwnerID, Valid: org.OwnerID != 0}, string(metadata), now, now)
	if err != nil {
		org.ID = 0
		return fmt.Errorf("failed to create organization: %w", err)
	}

	org.Metadata = metadata
	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

// GetOrganization retrieves an organization, locking the row when lock is set
func (s *Store) GetOrganization(ctx context.Context, orgID int64, lock bool) (*Organization, error) {
	var (
		org      Organization
		ownerID  sql.NullInt64
		metadata []byte
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, owner_id, metadata, created_at, updated_at
		FROM organizations
		WHERE id = $1`+s.lock(lock), orgID,
	).Scan(&org.ID, &org.Name, &ownerID, &metadata, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	org.OwnerID = ownerID.Int64
	org.Metadata = json.RawMessage(metadata)
	return &org, nil
}

// SetOwner records a new owner on the organization row
func (s *Store) SetOwner(ctx context.Context, orgID, ownerID int64) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE organizations SET owner_id = $1, updated_at = $2 WHERE id = $3`,
		ownerID, database.Now(), orgID)
	if err != nil {
		return fmt.Errorf("failed to set organization owner: %w", err)
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

// UserExists reports whether userID resolves in the users table
func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = $1`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	return true, nil
}
