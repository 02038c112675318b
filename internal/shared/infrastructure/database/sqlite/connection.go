package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
)

func init() {
	database.RegisterDriver(database.DriverSQLite, NewConnection)
}

// pragmas applied to every connection. _time_format=sqlite stores time.Time
// as a sortable text layout so range predicates compare correctly.
const pragmas = "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_time_format=sqlite"

// placeholder matches PostgreSQL-style $N parameters.
var placeholder = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $N parameters to SQLite's ?N form so repositories can
// share one query text across drivers.
func Rebind(query string) string {
	return placeholder.ReplaceAllString(query, "?$1")
}

// Connection implements database.Connection on database/sql.
type Connection struct {
	db *sql.DB
}

// NewConnection opens (creating if needed) the database file at cfg.SQLitePath.
func NewConnection(ctx context.Context, cfg database.Config) (database.Connection, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = database.DefaultSQLitePath()
	}
	if err := database.EnsureDirectory(path); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// One writer at a time; transactions queue on the single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return &Connection{db: db}, nil
}

// DB exposes the handle for tests.
func (c *Connection) DB() *sql.DB { return c.db }

func (c *Connection) Driver() database.Driver { return database.DriverSQLite }

func (c *Connection) Close() error { return c.db.Close() }

func (c *Connection) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Connection) BeginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Transaction{tx: tx}, nil
}

func (c *Connection) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	res, err := c.db.ExecContext(ctx, Rebind(query), args...)
	if err != nil {
		return nil, translate(err)
	}
	return database.WrapSQLResult(res), nil
}

func (c *Connection) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return row{c.db.QueryRowContext(ctx, Rebind(query), args...)}
}

func (c *Connection) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := c.db.QueryContext(ctx, Rebind(query), args...)
	if err != nil {
		return nil, translate(err)
	}
	return database.WrapSQLRows(rows), nil
}

// Transaction implements database.Transaction on *sql.Tx.
type Transaction struct {
	tx *sql.Tx
}

func (t *Transaction) Commit(context.Context) error { return translate(t.tx.Commit()) }

func (t *Transaction) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (t *Transaction) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	res, err := t.tx.ExecContext(ctx, Rebind(query), args...)
	if err != nil {
		return nil, translate(err)
	}
	return database.WrapSQLResult(res), nil
}

func (t *Transaction) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return row{t.tx.QueryRowContext(ctx, Rebind(query), args...)}
}

func (t *Transaction) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, Rebind(query), args...)
	if err != nil {
		return nil, translate(err)
	}
	return database.WrapSQLRows(rows), nil
}

type row struct {
	*sql.Row
}

func (r row) Scan(dest ...any) error {
	return translate(r.Row.Scan(dest...))
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &database.UniqueViolationError{Err: err}
	}
	return err
}
