// Package database provides reelforge test database fixtures layered on
// top of test/util's testcontainers-backed Postgres.
package database

import (
	"testing"

	"github.com/kestrelmedia/reelforge/pkg/database"
	"github.com/kestrelmedia/reelforge/test/util"
)

// NewTestClient creates a *database.Client backed by a fresh, migrated,
// per-test schema. The schema is dropped and the pool closed via
// t.Cleanup when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	db := util.SetupTestDatabase(t)
	return database.NewClientFromDB(db)
}
