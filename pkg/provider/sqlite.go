package provider

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS branches (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS patrons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		card_number TEXT UNIQUE,
		surname TEXT NOT NULL DEFAULT '',
		firstname TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		branch_code TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS ill_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		borrower_id INTEGER NOT NULL,
		branch_code TEXT NOT NULL,
		backend TEXT NOT NULL,
		status TEXT NOT NULL,
		order_id TEXT,
		cost TEXT,
		access_url TEXT,
		biblio_id INTEGER,
		placed_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ill_request_attributes (
		request_id INTEGER NOT NULL REFERENCES ill_requests(id),
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (request_id, type)
	)`,
	`CREATE TABLE IF NOT EXISTS import_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		target TEXT NOT NULL,
		encoding TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		isbn TEXT NOT NULL DEFAULT '',
		raw BLOB NOT NULL,
		staged_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS biblio (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		framework TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		isbn TEXT NOT NULL DEFAULT '',
		suppressed BOOLEAN NOT NULL DEFAULT 0,
		raw BLOB NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ill_requests_status ON ill_requests(status)`,
}

// SQLiteProvider stores the broker's state in a single SQLite file.
type SQLiteProvider struct {
	*sqlStore
}

// NewSQLiteProvider opens (or creates) the database at path and makes sure
// the schema exists.
func NewSQLiteProvider(path string) (*SQLiteProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite provider requires a non-empty database path")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db at %s: %w", path, err)
	}
	// One writer keeps SQLITE_BUSY out of concurrent request handling.
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialise schema in %s: %w", path, err)
		}
	}
	slog.Info("sqlite store ready", "path", path)
	return &SQLiteProvider{sqlStore: newSQLStore(db, questionMark)}, nil
}
