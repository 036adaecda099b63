package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTerminalOutcome is returned when a write would overwrite a
	// target outcome that already reached success or error.
	ErrTerminalOutcome = errors.New("target outcome already terminal")

	// ErrNotPaused is returned when a resume targets an outcome that is
	// not in the needs_additional_info pause state.
	ErrNotPaused = errors.New("target is not paused")
)

// DB is the durable job ledger plus the connected-account store.
type DB struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite serializes writes anyway; a single pooled connection also
	// keeps :memory: databases from splitting per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	l := logger.With().Str("component", "database").Logger()
	l.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db, logger: l}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS replication_jobs (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            source_account TEXT NOT NULL,
            source_item_id TEXT NOT NULL,
            mode TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            initiator TEXT NOT NULL DEFAULT '',
            total_targets INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS job_targets (
            job_id TEXT NOT NULL,
            account TEXT NOT NULL,
            item_id TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            produced_id TEXT NOT NULL DEFAULT '',
            error_kind TEXT NOT NULL DEFAULT '',
            last_error TEXT NOT NULL DEFAULT '',
            attempts INTEGER NOT NULL DEFAULT 0,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (job_id, account, item_id),
            FOREIGN KEY (job_id) REFERENCES replication_jobs(id)
        )`,
		`CREATE TABLE IF NOT EXISTS accounts (
            slug TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            user_id INTEGER NOT NULL DEFAULT 0,
            app_id TEXT NOT NULL DEFAULT '',
            app_secret TEXT NOT NULL DEFAULT '',
            active BOOLEAN NOT NULL DEFAULT 1,
            access_token TEXT NOT NULL DEFAULT '',
            refresh_token TEXT NOT NULL DEFAULT '',
            token_expires_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS admin_config (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            secret_hash TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON replication_jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_kind ON replication_jobs(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON replication_jobs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_job_id ON job_targets(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_status ON job_targets(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}
