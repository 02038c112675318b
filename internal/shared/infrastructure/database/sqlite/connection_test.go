package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lessonpass/internal/shared/application"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
)

func openTestConnection(t *testing.T) database.Connection {
	t.Helper()
	conn, err := database.Open(context.Background(), database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRebind(t *testing.T) {
	assert.Equal(t,
		"UPDATE t SET a = ?1 WHERE id = ?2 AND b > ?1",
		Rebind("UPDATE t SET a = $1 WHERE id = $2 AND b > $1"))
	assert.Equal(t, "SELECT 1", Rebind("SELECT 1"))
}

func TestConnection_ExecAndQuery(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)
	assert.Equal(t, database.DriverSQLite, conn.Driver())
	require.NoError(t, conn.Ping(ctx))

	_, err := conn.Exec(ctx, `CREATE TABLE centers (id TEXT PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)

	res, err := conn.Exec(ctx, `INSERT INTO centers (id, name) VALUES ($1, $2)`, "c1", "Downtown")
	require.NoError(t, err)
	ok, err := database.AffectedOne(res)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = conn.Exec(ctx, `INSERT INTO centers (id, name) VALUES ($1, $2)`, "c2", "Riverside")
	require.NoError(t, err)

	rows, err := conn.Query(ctx, `SELECT name FROM centers ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"Downtown", "Riverside"}, names)
}

func TestConnection_TimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)

	_, err := conn.Exec(ctx, `CREATE TABLE stamps (id INTEGER PRIMARY KEY, at TIMESTAMP, maybe TIMESTAMP)`)
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 9, 30, 0, 123000, time.UTC)
	_, err = conn.Exec(ctx, `INSERT INTO stamps (id, at, maybe) VALUES (1, $1, $2)`, at, nil)
	require.NoError(t, err)

	var got time.Time
	var maybe *time.Time
	require.NoError(t, conn.QueryRow(ctx, `SELECT at, maybe FROM stamps WHERE id = 1`).Scan(&got, &maybe))
	assert.True(t, at.Equal(got))
	assert.Nil(t, maybe)

	var n int
	require.NoError(t, conn.QueryRow(ctx, `SELECT COUNT(*) FROM stamps WHERE at > $1`, at.Add(-time.Second)).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestConnection_UniqueViolationIsTranslated(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)

	_, err := conn.Exec(ctx, `CREATE TABLE vouchers (code TEXT UNIQUE)`)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `INSERT INTO vouchers (code) VALUES ($1)`, "ABC")
	require.NoError(t, err)

	_, err = conn.Exec(ctx, `INSERT INTO vouchers (code) VALUES ($1)`, "ABC")
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
}

func TestUnitOfWork_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)
	uow := database.NewUnitOfWork(conn)

	_, err := conn.Exec(ctx, `CREATE TABLE ledger (id INTEGER PRIMARY KEY, note TEXT)`)
	require.NoError(t, err)

	err = application.WithUnitOfWork(ctx, uow, func(ctx context.Context) error {
		_, err := database.ExecutorFromContext(ctx, conn).Exec(ctx, `INSERT INTO ledger (note) VALUES ($1)`, "kept")
		return err
	})
	require.NoError(t, err)

	failure := errors.New("abort")
	err = application.WithUnitOfWork(ctx, uow, func(ctx context.Context) error {
		if _, err := database.ExecutorFromContext(ctx, conn).Exec(ctx, `INSERT INTO ledger (note) VALUES ($1)`, "dropped"); err != nil {
			return err
		}
		return failure
	})
	assert.ErrorIs(t, err, failure)

	var count int
	require.NoError(t, conn.QueryRow(ctx, `SELECT COUNT(*) FROM ledger`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUnitOfWork_NestedJoinsOuter(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)
	uow := database.NewUnitOfWork(conn)

	_, err := conn.Exec(ctx, `CREATE TABLE ledger (id INTEGER PRIMARY KEY, note TEXT)`)
	require.NoError(t, err)

	failure := errors.New("outer failed")
	err = application.WithUnitOfWork(ctx, uow, func(outer context.Context) error {
		innerErr := application.WithUnitOfWork(outer, uow, func(inner context.Context) error {
			assert.Same(t, database.TxFromContext(outer), database.TxFromContext(inner))
			_, err := database.ExecutorFromContext(inner, conn).Exec(inner, `INSERT INTO ledger (note) VALUES ($1)`, "inner")
			return err
		})
		require.NoError(t, innerErr)
		return failure
	})
	assert.ErrorIs(t, err, failure)

	var count int
	require.NoError(t, conn.QueryRow(ctx, `SELECT COUNT(*) FROM ledger`).Scan(&count))
	assert.Zero(t, count)
}

func TestUnitOfWork_ConcurrentUnitsSerialize(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)
	uow := database.NewUnitOfWork(conn)

	_, err := conn.Exec(ctx, `CREATE TABLE counter (id INTEGER PRIMARY KEY, n INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `INSERT INTO counter (id, n) VALUES (1, 0)`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = application.WithUnitOfWork(ctx, uow, func(ctx context.Context) error {
				_, err := database.ExecutorFromContext(ctx, conn).Exec(ctx, `UPDATE counter SET n = n + 1 WHERE id = 1`)
				return err
			})
		}()
	}
	wg.Wait()

	var n int
	require.NoError(t, conn.QueryRow(ctx, `SELECT n FROM counter WHERE id = 1`).Scan(&n))
	assert.Equal(t, 20, n)
}
