// Package dbtest opens throwaway in-memory databases for package tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/starmint/starmint/starmint/database"
	"github.com/uptrace/bun"
)

// Open returns a bun handle to a fresh in-memory SQLite database with the
// full schema applied. The database is closed when the test ends.
func Open(t testing.TB) *bun.DB {
	t.Helper()

	db, err := database.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.InitializeSchema(context.Background()); err != nil {
		t.Fatalf("failed to initialize test schema: %v", err)
	}
	return db.BunDB()
}
