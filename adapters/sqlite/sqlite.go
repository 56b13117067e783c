// Package sqlite provides SQLite implementations of storage ports.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pixelpress/pixelpress/ports"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = ports.ErrNotFound

// DB wraps a SQLite database connection.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite database connection.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set pragmas for performance
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	return &DB{DB: db}, nil
}

// schema holds the DDL applied by Migrate. Statements are idempotent so
// Migrate can run on every startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		id                TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		hash              BLOB NOT NULL,
		prefix            TEXT NOT NULL,
		name              TEXT NOT NULL DEFAULT '',
		plan_tier         TEXT NOT NULL,
		monthly_limit     INTEGER NOT NULL DEFAULT 0,
		monthly_used      INTEGER NOT NULL DEFAULT 0,
		purchased_credits INTEGER NOT NULL DEFAULT 0,
		reset_at          DATETIME,
		sandbox           INTEGER NOT NULL DEFAULT 0,
		active            INTEGER NOT NULL DEFAULT 1,
		created_at        DATETIME NOT NULL,
		last_used_at      DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_prefix ON credentials(prefix)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_tenant ON credentials(tenant_id)`,
	`CREATE TABLE IF NOT EXISTS usage_events (
		id              TEXT PRIMARY KEY,
		key_id          TEXT NOT NULL,
		tenant_id       TEXT NOT NULL,
		request_id      TEXT NOT NULL,
		outcome         TEXT NOT NULL,
		error_code      TEXT NOT NULL DEFAULT '',
		pool            TEXT NOT NULL DEFAULT '',
		operations      TEXT NOT NULL DEFAULT '[]',
		original_bytes  INTEGER NOT NULL DEFAULT 0,
		optimized_bytes INTEGER NOT NULL DEFAULT 0,
		latency_ms      INTEGER NOT NULL DEFAULT 0,
		sandbox         INTEGER NOT NULL DEFAULT 0,
		ip_address      TEXT NOT NULL DEFAULT '',
		user_agent      TEXT NOT NULL DEFAULT '',
		timestamp       DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_tenant_time ON usage_events(tenant_id, timestamp)`,
}

// Migrate applies the schema.
func (db *DB) Migrate() error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
