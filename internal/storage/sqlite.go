package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &SQLiteStore{&sqlStore{db: db, logger: logger}}, nil
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Current manifest per network and artifact
	CREATE TABLE IF NOT EXISTS manifests (
		network TEXT NOT NULL,
		source_path TEXT NOT NULL,
		contract_name TEXT NOT NULL,
		id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		contract_address TEXT,
		tx_hash TEXT,
		body TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (network, source_path, contract_name)
	);

	-- Manifests replaced by a forced redeployment
	CREATE TABLE IF NOT EXISTS manifest_history (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		source_path TEXT NOT NULL,
		contract_name TEXT NOT NULL,
		body TEXT NOT NULL,
		archived_at TEXT NOT NULL
	);

	-- Verification attempts
	CREATE TABLE IF NOT EXISTS verification_attempts (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		address TEXT NOT NULL,
		artifact TEXT NOT NULL,
		outcome TEXT NOT NULL,
		failure TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		guid TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Reconciliation runs
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		artifact TEXT NOT NULL,
		address TEXT NOT NULL,
		verdict TEXT NOT NULL,
		verification TEXT NOT NULL,
		overall INTEGER NOT NULL,
		report TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_manifests_status ON manifests(status);
	CREATE INDEX IF NOT EXISTS idx_manifest_history_key ON manifest_history(network, source_path, contract_name);
	CREATE INDEX IF NOT EXISTS idx_attempts_address ON verification_attempts(network, address, created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_address ON reconciliation_runs(network, address, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}
