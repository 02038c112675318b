// Package migrations applies the embedded schema for each storage backend.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/lessonpass/internal/shared/application"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
)`

// Apply runs every migration for the connection's driver that has not been
// recorded in schema_migrations. Each file is applied in its own transaction.
// It returns the versions applied by this call.
func Apply(ctx context.Context, conn database.Connection, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	names, err := List(conn.Driver())
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, createVersionTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	uow := database.NewUnitOfWork(conn)
	var applied []string
	for _, name := range names {
		body, err := fs.ReadFile(files, conn.Driver().String()+"/"+name)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", name, err)
		}
		version := strings.TrimSuffix(name, ".sql")

		ran := false
		err = application.WithUnitOfWork(ctx, uow, func(ctx context.Context) error {
			exec := database.ExecutorFromContext(ctx, conn)

			var count int
			if err := exec.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, version).Scan(&count); err != nil {
				return err
			}
			if count > 0 {
				return nil
			}
			if _, err := exec.Exec(ctx, string(body)); err != nil {
				return err
			}
			if _, err := exec.Exec(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, version, time.Now().UTC()); err != nil {
				return err
			}
			ran = true
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", name, err)
		}
		if ran {
			logger.Info("migration applied", "version", version, "driver", conn.Driver())
			applied = append(applied, version)
		}
	}
	return applied, nil
}

// List returns the migration file names for a driver in apply order.
func List(driver database.Driver) ([]string, error) {
	if !driver.IsValid() {
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	entries, err := fs.ReadDir(files, driver.String())
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
