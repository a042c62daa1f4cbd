// Package store provides the durable key-value store shared by the planner,
// the workflow engine and the event log. It is backed by SQLite and keeps
// every record as a JSON value with a per-key version counter.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverModernc is the pure-Go driver and the default.
	DriverModernc = "sqlite"
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
)

// DB wraps an SQLite database connection holding the key-value table.
type DB struct {
	conn   *sql.DB
	path   string
	driver string
	mu     sync.RWMutex
	now    func() time.Time
}

// DefaultPath returns the store location inside a project's state directory.
func DefaultPath(stateDir string) string {
	return filepath.Join(stateDir, "triad.db")
}

// Open opens the store at path with the default driver and applies
// pending migrations.
func Open(path string) (*DB, error) {
	return OpenDriver(DriverModernc, path)
}

// OpenDriver opens the store with an explicit database/sql driver name.
// It creates the parent directories if they don't exist.
func OpenDriver(driver, path string) (*DB, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageErr("open", "", fmt.Errorf("create db directory: %w", err))
	}

	conn, err := sql.Open(driver, path)
	if err != nil {
		return nil, storageErr("open", "", err)
	}
	// One connection keeps the pragmas below in force for every statement
	// and serializes writers inside this process.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, storageErr("open", "", fmt.Errorf("%s: %w", p, err))
		}
	}

	db := &DB{
		conn:   conn,
		path:   path,
		driver: driver,
		now:    time.Now,
	}
	if err := db.Migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return storageErr("migrate", "", fmt.Errorf("create schema_version table: %w", err))
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return storageErr("migrate", "", fmt.Errorf("get schema version: %w", err))
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1KV},
		{2, migrationV2Sequences},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return storageErr("migrate", "", fmt.Errorf("begin transaction: %w", err))
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return storageErr("migrate", "", fmt.Errorf("apply migration v%d: %w", m.version, err))
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return storageErr("migrate", "", fmt.Errorf("record migration v%d: %w", m.version, err))
		}

		if err := tx.Commit(); err != nil {
			return storageErr("migrate", "", fmt.Errorf("commit migration v%d: %w", m.version, err))
		}
	}

	return nil
}

const migrationV1KV = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
);
`

const migrationV2Sequences = `
CREATE TABLE IF NOT EXISTS sequences (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// formatTime formats a time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time stored by formatTime.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
