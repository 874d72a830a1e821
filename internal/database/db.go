// Package database keeps the message history the bridge uses to complete quote
// chains that the platform only delivers one level deep.
package database

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/polaris-bridge/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

const (
	// busyTimeoutMS is how long a writer waits for the lock held by another
	// handler before failing with SQLITE_BUSY.
	busyTimeoutMS = 5000
	// maxOpenConns allows concurrent readers next to the single WAL writer.
	maxOpenConns    = 4
	migrationsTable = "history_migrations"
)

// pragmas are applied by the modernc driver to every new connection.
var pragmas = []string{
	fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS),
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// Open opens the history database at path, which may be a plain file name or a
// file: URI, and migrates it to the latest schema.
func Open(path string, logger *slog.Logger) (*sqlx.DB, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "history_db")

	name := fileName(path)
	if name == "" {
		return nil, errors.New("history database path is empty")
	}

	db, err := sqlx.Connect("sqlite", DSN(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if err := migrateUp(db, name, logger); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Error closing history database after migration failure", "error", closeErr)
		}
		return nil, err
	}

	logger.Info("History database ready", "path", name)
	return db, nil
}

// Close closes the pool, logging instead of returning the error so it can be deferred.
func Close(db *sqlx.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.Close(); err != nil {
		logger.Error("Error closing history database", "error", err)
		return
	}
	logger.Info("History database closed.")
}

func migrateUp(db *sqlx.DB, name string, logger *slog.Logger) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{
		DatabaseName:    name,
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("History schema is up to date.")
			return nil
		}
		return fmt.Errorf("failed to migrate history database: %w", err)
	}
	version, _, _ := migrator.Version()
	logger.Info("History schema migrated", "version", version)
	return nil
}

// DSN builds the modernc connection string for a database file, enabling WAL
// and foreign keys on every connection.
func DSN(name string) string {
	q := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		q = append(q, "_pragma="+p)
	}
	return "file:" + name + "?" + strings.Join(q, "&")
}

// fileName strips a file: scheme and query parameters from a SQLite DSN.
func fileName(path string) string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "file:")
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		return decoded
	}
	return path
}
