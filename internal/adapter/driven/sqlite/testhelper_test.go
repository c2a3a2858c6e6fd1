package sqlite

import (
	"context"
	"net/url"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens a named shared in-memory database and migrates it. The
// name is derived from t.Name() so parallel tests stay isolated.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	name := url.PathEscape(t.Name()) + "?mode=memory&cache=shared"
	db, err := open(context.Background(), dsn(name), ":memory:")
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(), "run migrations")
	return db
}

// setupMockDB returns a DB whose reader and writer are the same sqlmock
// connection.
func setupMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &DB{Writer: conn, Reader: conn, path: "sqlmock"}, mock
}
