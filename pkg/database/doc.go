// Package database holds the SQL plumbing shared by the stores: connection
// setup, dialect differences between PostgreSQL and SQLite, transaction
// helpers, constraint-violation detection, and the schema migrations.
//
// Stores are written against the Querier interface so the same code runs on a
// *sql.DB or inside a *sql.Tx:
//
//	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
//		return store.WithQuerier(tx).AddMembershipRole(ctx, orgID, userID, roleID)
//	})
//
// PostgreSQL is the production dialect. SQLite is supported for local
// development and tests; it has no row locks, so LockClause is empty and
// SQLite's database-level write lock provides the serialization instead.
package database
