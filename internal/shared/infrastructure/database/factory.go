package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Config selects and tunes the storage backend.
type Config struct {
	// Driver forces a backend; empty means detect from URL.
	Driver Driver
	// URL is the PostgreSQL connection string.
	URL string
	// SQLitePath is the database file used by the SQLite backend.
	SQLitePath string
	// MaxConns caps the PostgreSQL pool.
	MaxConns int
}

type connector func(ctx context.Context, cfg Config) (Connection, error)

var connectors = map[Driver]connector{}

// RegisterDriver makes a backend available to Open. Driver packages call it
// from init, so importing the package is enough to enable it.
func RegisterDriver(d Driver, fn func(ctx context.Context, cfg Config) (Connection, error)) {
	connectors[d] = fn
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Connection, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDriver(cfg.URL)
	}
	if driver == DriverSQLite && cfg.SQLitePath == "" && cfg.URL != "" {
		cfg.SQLitePath = SQLitePathFromURL(cfg.URL)
	}

	open, ok := connectors[driver]
	if !ok {
		return nil, fmt.Errorf("database driver %q is not registered", driver)
	}
	return open(ctx, cfg)
}

// DefaultSQLitePath is the file used when neither URL nor path is set.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".lessonpass", "lessonpass.db")
}

// EnsureDirectory creates the parent directory of path.
func EnsureDirectory(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
