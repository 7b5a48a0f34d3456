// Package databasetest opens migrated throwaway databases for tests.
package databasetest

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/platinummonkey/tenancy/pkg/database"
)

var counter atomic.Int64

// NewSQLite returns a migrated in-memory SQLite database private to the test.
// The pool is limited to one connection so every query sees the same
// in-memory database.
func NewSQLite(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:tenancy_test_%d?mode=memory&cache=private&_foreign_keys=1", counter.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := database.RunMigrations(context.Background(), db, database.SQLite); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// InsertUser creates a row in the users table
func InsertUser(t *testing.T, db *sql.DB, id int64, username string) {
	t.Helper()

	_, err := db.Exec(`INSERT INTO users (id, username, email) VALUES ($1, $2, $3)`,
		id, username, username+"@example.com")
	if err != nil {
		t.Fatalf("Failed to insert user %d: %v", id, err)
	}
}

// InsertOrganization creates a row in the organizations table. An ownerID of
// zero leaves the owner unset.
func InsertOrganization(t *testing.T, db *sql.DB, id int64, name string, ownerID int64) {
	t.Helper()

	var owner any
	if ownerID != 0 {
		owner = ownerID
	}
	now := database.Now()
	_, err := db.Exec(`
		INSERT INTO organizations (id, name, owner_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, name, owner, "{}", now, now)
	if err != nil {
		t.Fatalf("Failed to insert organization %d: %v", id, err)
	}
}
