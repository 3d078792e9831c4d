// Package database provides test database clients backed by isolated
// per-test schemas.
package database

import (
	"testing"

	"github.com/spanlight/spanlight/pkg/database"
	"github.com/spanlight/spanlight/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to the external PostgreSQL
// service container. In local dev: spins up a PostgreSQL testcontainer.
// Schema and connections are cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	return database.NewClientFromDB(util.SetupTestDatabase(t))
}
