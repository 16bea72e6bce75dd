package sqlite

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewTestSqliteStorage opens an in-memory database, applies migrations,
// and returns a ready Storage, for use by this package's own tests and by
// other packages exercising document persistence in their own tests.
func NewTestSqliteStorage(t *testing.T, dbName string) *Storage {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	storage := NewStorage(db)
	require.NoError(t, storage.MigrateUp(dbName))

	return storage
}
