// Package storage is the adapter between the runtime and persistent storage.
//
// It owns physical connections: the orchestrator and the connection cache
// tier only ever see opaque *Handle values with begin/commit/rollback/close
// lifecycle methods. Each handle wraps one SQLite database configured for a
// single writer.
package storage

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// Config describes how to open one logical storage alias.
type Config struct {
	// Driver is the database/sql driver name. Defaults to "sqlite3".
	Driver string `yaml:"driver,omitempty"`

	// DSN is the driver-specific data source name (for SQLite, a file path
	// or ":memory:").
	DSN string `yaml:"dsn"`
}

// Adapter opens storage handles for logical aliases.
//
// The adapter is stateless apart from its logger; handle lifetime is owned
// by the caller (in practice the connection cache tier or a dispatcher
// running a non-shared step).
type Adapter struct {
	logger *slog.Logger
}

// NewAdapter creates an adapter. A nil logger falls back to slog.Default().
func NewAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{logger: logger}
}

// Open creates a handle for the given alias.
//
// For SQLite the database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// The pool is limited to a single connection so that a transaction begun on
// the handle covers every statement issued through it.
func (a *Adapter) Open(alias string, cfg Config) (*Handle, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("open %q: empty DSN", alias)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", alias, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %q: connect: %w", alias, err)
	}

	// One physical connection per handle: BEGIN on the handle must bind all
	// subsequent statements to the same transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if driver == "sqlite3" {
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("open %q: %w", alias, err)
		}
	}

	a.logger.Debug("storage handle opened", "alias", alias, "driver", driver)
	return &Handle{alias: alias, db: db}, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}
