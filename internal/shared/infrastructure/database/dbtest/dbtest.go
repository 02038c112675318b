// Package dbtest opens throwaway SQLite databases with the schema applied.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/migrations"
)

// Open returns a migrated SQLite connection closed at test cleanup.
func Open(t testing.TB) database.Connection {
	t.Helper()
	ctx := context.Background()

	conn, err := database.Open(ctx, database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "lessonpass.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = migrations.Apply(ctx, conn, nil)
	require.NoError(t, err)
	return conn
}

// Count runs a COUNT query and returns its result.
func Count(t testing.TB, conn database.Connection, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}
