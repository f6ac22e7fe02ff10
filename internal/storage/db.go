package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database that holds show history.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the SQLite database in the given directory.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "onair.db")

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS shows (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at   DATETIME
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create shows table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS call_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			show_id     INTEGER NOT NULL REFERENCES shows(id),
			caller_id   TEXT NOT NULL,
			name        TEXT NOT NULL,
			contact     TEXT DEFAULT '',
			notes       TEXT DEFAULT '',
			priority    INTEGER DEFAULT 0,
			joined_at   DATETIME NOT NULL,
			resolved_at DATETIME NOT NULL,
			outcome     TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call_log table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_call_log_show ON call_log(show_id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call_log index: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}
