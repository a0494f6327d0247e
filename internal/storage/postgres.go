package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{&sqlStore{db: db, logger: logger, postgres: true}}, nil
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Current manifest per network and artifact
	CREATE TABLE IF NOT EXISTS manifests (
		network TEXT NOT NULL,
		source_path TEXT NOT NULL,
		contract_name TEXT NOT NULL,
		id UUID NOT NULL UNIQUE,
		status TEXT NOT NULL,
		contract_address TEXT,
		tx_hash TEXT,
		body JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (network, source_path, contract_name)
	);

	-- Manifests replaced by a forced redeployment
	CREATE TABLE IF NOT EXISTS manifest_history (
		id UUID PRIMARY KEY,
		network TEXT NOT NULL,
		source_path TEXT NOT NULL,
		contract_name TEXT NOT NULL,
		body JSONB NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL
	);

	-- Verification attempts
	CREATE TABLE IF NOT EXISTS verification_attempts (
		id UUID PRIMARY KEY,
		network TEXT NOT NULL,
		address TEXT NOT NULL,
		artifact TEXT NOT NULL,
		outcome TEXT NOT NULL,
		failure TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		guid TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	-- Reconciliation runs
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id UUID PRIMARY KEY,
		network TEXT NOT NULL,
		artifact TEXT NOT NULL,
		address TEXT NOT NULL,
		verdict TEXT NOT NULL,
		verification TEXT NOT NULL,
		overall BOOLEAN NOT NULL,
		report JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_manifests_status ON manifests(status);
	CREATE INDEX IF NOT EXISTS idx_manifest_history_key ON manifest_history(network, source_path, contract_name);
	CREATE INDEX IF NOT EXISTS idx_attempts_address ON verification_attempts(network, address, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_address ON reconciliation_runs(network, address, created_at DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}
