// Package store owns all persisted state: tool runs, approvals, audit
// events, and the profile/session identity records they reference. Every
// write helper takes an already-open *sql.Tx; the store never begins or
// commits a transaction. The boundary owner (CLI command or HTTP handler)
// opens exactly one transaction per command via WithTx.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store wraps the sqlite database handle
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode lets concurrent commands read while one writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("Store opened")
	return s, nil
}

// DB exposes the underlying handle for boundary owners
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

/// WithTx runs fn inside a single transaction: commit on nil error, rollback
// otherwise. This is the one place a command's transaction is opened and
// committed; the gateway itself only ever receives the *sql.Tx.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			log.Error().Err(rbErr).Msg("Transaction rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			profile_id   TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			role         TEXT NOT NULL DEFAULT 'admin',
			timezone     TEXT NOT NULL DEFAULT 'America/Chicago',
			created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL REFERENCES profiles(profile_id),
			channel    TEXT NOT NULL DEFAULT 'cli',
			started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS tool_runs (
			tool_run_id  TEXT PRIMARY KEY,
			ts           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			profile_id   TEXT NOT NULL,
			session_id   TEXT NOT NULL,
			request_id   TEXT NOT NULL,
			tool_name    TEXT NOT NULL,
			tool_version TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			input_json   TEXT NOT NULL DEFAULT '{}',
			output_json  TEXT NOT NULL DEFAULT '{}',
			error_json   TEXT NOT NULL DEFAULT '{}',
			latency_ms   INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_tool_runs_profile_ts ON tool_runs(profile_id, ts DESC);
		CREATE INDEX IF NOT EXISTS idx_tool_runs_request ON tool_runs(request_id);

		CREATE TABLE IF NOT EXISTS approvals (
			approval_id  TEXT PRIMARY KEY,
			tool_run_id  TEXT NOT NULL UNIQUE REFERENCES tool_runs(tool_run_id),
			profile_id   TEXT NOT NULL,
			requested_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			resolved_at  TIMESTAMP,
			status       TEXT NOT NULL DEFAULT 'pending',
			context_json TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_approvals_status_requested ON approvals(status, requested_at DESC);

		CREATE TABLE IF NOT EXISTS events (
			event_id    TEXT PRIMARY KEY,
			ts          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			profile_id  TEXT NOT NULL,
			session_id  TEXT NOT NULL,
			event_type  TEXT NOT NULL,
			tool_run_id TEXT,
			payload_json TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_events_profile_ts ON events(profile_id, ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	`

	_, err := s.db.Exec(schema)
	return err
}
