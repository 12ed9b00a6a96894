// Package dbtest opens throwaway conflict stores for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/database"
)

// New returns a migrated SQLite store in t.TempDir(), closed on cleanup
func New(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.Connect(config.DatabaseConfig{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "conflicts.db"),
		Silent:     true,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
