package provider

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS branches (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS patrons (
		id BIGSERIAL PRIMARY KEY,
		card_number TEXT UNIQUE,
		surname TEXT NOT NULL DEFAULT '',
		firstname TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		branch_code TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS ill_requests (
		id BIGSERIAL PRIMARY KEY,
		borrower_id BIGINT NOT NULL,
		branch_code TEXT NOT NULL,
		backend TEXT NOT NULL,
		status TEXT NOT NULL,
		order_id TEXT,
		cost TEXT,
		access_url TEXT,
		biblio_id BIGINT,
		placed_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ill_request_attributes (
		request_id BIGINT NOT NULL REFERENCES ill_requests(id),
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (request_id, type)
	)`,
	`CREATE TABLE IF NOT EXISTS import_records (
		id BIGSERIAL PRIMARY KEY,
		batch_id TEXT NOT NULL,
		target TEXT NOT NULL,
		encoding TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		isbn TEXT NOT NULL DEFAULT '',
		raw BYTEA NOT NULL,
		staged_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS biblio (
		id BIGSERIAL PRIMARY KEY,
		framework TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		isbn TEXT NOT NULL DEFAULT '',
		suppressed BOOLEAN NOT NULL DEFAULT FALSE,
		raw BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ill_requests_status ON ill_requests(status)`,
}

type PostgresProvider struct {
	*sqlStore
}

func NewPostgresProvider(dsn string) (*PostgresProvider, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres provider requires a non-empty DSN")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres db: %w", err)
	}
	return newPostgresProvider(db)
}

func newPostgresProvider(db *sql.DB) (*PostgresProvider, error) {
	for _, stmt := range postgresSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialise postgres schema: %w", err)
		}
	}
	slog.Info("postgres store ready")
	return &PostgresProvider{sqlStore: newSQLStore(db, dollar)}, nil
}
