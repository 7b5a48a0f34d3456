package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one versioned schema change, written once per dialect
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

func (m Migration) statement(d Dialect) string {
	if d == SQLite {
		return m.SQLite
	}
	return m.Postgres
}

// GetMigrations returns the schema history in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and organizations tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGINT PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organizations (
					id BIGINT PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					owner_id BIGINT REFERENCES users(id),
					metadata JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_organizations_owner_id ON organizations(owner_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS users (
					id INTEGER PRIMARY KEY,
					username TEXT NOT NULL UNIQUE,
					email TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS organizations (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					owner_id INTEGER REFERENCES users(id),
					metadata TEXT NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_organizations_owner_id ON organizations(owner_id);
			`,
		},
		{
			Version:     2,
			Description: "Create organization roles and permissions tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS organization_permissions (
					id BIGINT PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					is_default_owner BOOLEAN NOT NULL DEFAULT FALSE,
					is_default_admin BOOLEAN NOT NULL DEFAULT FALSE,
					is_default_user BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organization_roles (
					id BIGINT PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(organization_id, name)
				);

				CREATE TABLE IF NOT EXISTS organization_role_permissions (
					role_id BIGINT NOT NULL REFERENCES organization_roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES organization_permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS organization_permissions (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					is_default_owner BOOLEAN NOT NULL DEFAULT 0,
					is_default_admin BOOLEAN NOT NULL DEFAULT 0,
					is_default_user BOOLEAN NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS organization_roles (
					id INTEGER PRIMARY KEY,
					organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					display_name TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(organization_id, name)
				);

				CREATE TABLE IF NOT EXISTS organization_role_permissions (
					role_id INTEGER NOT NULL REFERENCES organization_roles(id) ON DELETE CASCADE,
					permission_id INTEGER NOT NULL REFERENCES organization_permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create memberships tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS memberships (
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					is_member BOOLEAN NOT NULL DEFAULT TRUE,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_active
					ON memberships(organization_id, joined_at DESC, user_id DESC) WHERE is_member;
				CREATE INDEX IF NOT EXISTS idx_memberships_user_id ON memberships(user_id);

				CREATE TABLE IF NOT EXISTS membership_roles (
					organization_id BIGINT NOT NULL,
					user_id BIGINT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES organization_roles(id) ON DELETE CASCADE,
					position BIGINT NOT NULL,
					assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, user_id, role_id),
					FOREIGN KEY (organization_id, user_id)
						REFERENCES memberships(organization_id, user_id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_membership_roles_role ON membership_roles(organization_id, role_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS memberships (
					organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					is_member BOOLEAN NOT NULL DEFAULT 1,
					joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_active
					ON memberships(organization_id, joined_at DESC, user_id DESC) WHERE is_member;
				CREATE INDEX IF NOT EXISTS idx_memberships_user_id ON memberships(user_id);

				CREATE TABLE IF NOT EXISTS membership_roles (
					organization_id INTEGER NOT NULL,
					user_id INTEGER NOT NULL,
					role_id INTEGER NOT NULL REFERENCES organization_roles(id) ON DELETE CASCADE,
					position INTEGER NOT NULL,
					assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (organization_id, user_id, role_id),
					FOREIGN KEY (organization_id, user_id)
						REFERENCES memberships(organization_id, user_id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_membership_roles_role ON membership_roles(organization_id, role_id);
			`,
		},
		{
			Version:     4,
			Description: "Create invitations table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS invitations (
					id BIGINT PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					sender_id BIGINT NOT NULL REFERENCES users(id),
					recipient_id BIGINT NOT NULL REFERENCES users(id),
					status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK (status IN ('PENDING', 'ACCEPTED', 'REJECTED', 'CANCELLED'))
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_one_pending
					ON invitations(organization_id, recipient_id) WHERE status = 'PENDING';
				CREATE INDEX IF NOT EXISTS idx_invitations_recipient
					ON invitations(recipient_id, created_at DESC, id DESC);
				CREATE INDEX IF NOT EXISTS idx_invitations_organization
					ON invitations(organization_id, created_at DESC, id DESC);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS invitations (
					id INTEGER PRIMARY KEY,
					organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					sender_id INTEGER NOT NULL REFERENCES users(id),
					recipient_id INTEGER NOT NULL REFERENCES users(id),
					status TEXT NOT NULL DEFAULT 'PENDING',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					CHECK (status IN ('PENDING', 'ACCEPTED', 'REJECTED', 'CANCELLED'))
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_one_pending
					ON invitations(organization_id, recipient_id) WHERE status = 'PENDING';
				CREATE INDEX IF NOT EXISTS idx_invitations_recipient
					ON invitations(recipient_id, created_at DESC, id DESC);
				CREATE INDEX IF NOT EXISTS idx_invitations_organization
					ON invitations(organization_id, created_at DESC, id DESC);
			`,
		},
		{
			Version:     5,
			Description: "Create global roles and permissions tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS global_permissions (
					id BIGINT PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					is_default_user BOOLEAN NOT NULL DEFAULT FALSE,
					is_default_admin BOOLEAN NOT NULL DEFAULT FALSE,
					is_default_superadmin BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE TABLE IF NOT EXISTS global_roles (
					id BIGINT PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL
				);

				CREATE TABLE IF NOT EXISTS global_role_permissions (
					role_id BIGINT NOT NULL REFERENCES global_roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES global_permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS global_permissions (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					is_default_user BOOLEAN NOT NULL DEFAULT 0,
					is_default_admin BOOLEAN NOT NULL DEFAULT 0,
					is_default_superadmin BOOLEAN NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS global_roles (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					display_name TEXT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS global_role_permissions (
					role_id INTEGER NOT NULL REFERENCES global_roles(id) ON DELETE CASCADE,
					permission_id INTEGER NOT NULL REFERENCES global_permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);
			`,
		},
	}
}

// RunMigrations applies every migration that has not been recorded in
// schema_migrations. Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect) ([]int, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var ran []int
	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.statement(dialect)); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.Version, err)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
				m.Version, m.Description, time.Now().UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return ran, err
		}
		ran = append(ran, m.Version)
	}

	return ran, nil
}
