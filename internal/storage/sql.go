package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pendergraft/deployrecon/internal/chains"
	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
	"github.com/pendergraft/deployrecon/internal/reconcile"
	verification "github.com/pendergraft/deployrecon/internal/verification/domain"
	"github.com/pendergraft/deployrecon/internal/validation"
)

// sqlStore holds the queries shared by the SQLite and Postgres stores.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db       *sql.DB
	logger   *slog.Logger
	postgres bool
}

func (s *sqlStore) q(query string) string {
	if s.postgres {
		return rebind(query)
	}
	return query
}

// Ping checks the database connection
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// Get returns the manifest of an artifact on a network.
func (s *sqlStore) Get(ctx context.Context, network string, id chains.ArtifactID) (*deployments.Manifest, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT body FROM manifests
		WHERE network = ? AND source_path = ? AND contract_name = ?
	`), network, id.SourcePath, id.ContractName).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, deployments.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying manifest: %w", err)
	}
	var m deployments.Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

// Save writes a manifest. When a manifest with another id already holds
// the network and artifact key, it is moved to manifest_history first.
func (s *sqlStore) Save(ctx context.Context, m *deployments.Manifest) error {
	if m.ID == "" {
		return ErrEmptyID
	}
	if err := validation.ValidateNetworkName(m.Network); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var prevID string
	var prevBody []byte
	err = tx.QueryRowContext(ctx, s.q(`
		SELECT id, body FROM manifests
		WHERE network = ? AND source_path = ? AND contract_name = ?
	`), m.Network, m.Artifact.SourcePath, m.Artifact.ContractName).Scan(&prevID, &prevBody)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("querying manifest: %w", err)
	case prevID != m.ID:
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO manifest_history (id, network, source_path, contract_name, body, archived_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), prevID, m.Network, m.Artifact.SourcePath, m.Artifact.ContractName, string(prevBody), formatTime(m.UpdatedAt)); err != nil {
			return fmt.Errorf("archiving manifest %s: %w", prevID, err)
		}
		s.logger.Info("archived replaced manifest", "network", m.Network, "artifact", m.Artifact.String(), "id", prevID)
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO manifests (network, source_path, contract_name, id, status, contract_address, tx_hash, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (network, source_path, contract_name) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			contract_address = excluded.contract_address,
			tx_hash = excluded.tx_hash,
			body = excluded.body,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`), m.Network, m.Artifact.SourcePath, m.Artifact.ContractName, m.ID, string(m.Status),
		m.ContractAddress, m.TransactionHash, string(body), formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving manifest: %w", err)
	}
	return tx.Commit()
}

// List lists current manifests ordered by network and artifact.
func (s *sqlStore) List(ctx context.Context, filter deployments.ListFilter) ([]deployments.Manifest, error) {
	query := `SELECT body FROM manifests WHERE 1=1`
	var args []any
	if filter.Network != "" {
		query += ` AND network = ?`
		args = append(args, filter.Network)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY network, source_path, contract_name`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}
	defer rows.Close()

	var out []deployments.Manifest
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m deployments.Manifest
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decoding manifest: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// History returns the archived manifests of an artifact, oldest first.
func (s *sqlStore) History(ctx context.Context, network string, id chains.ArtifactID) ([]deployments.Manifest, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT body FROM manifest_history
		WHERE network = ? AND source_path = ? AND contract_name = ?
		ORDER BY archived_at
	`), network, id.SourcePath, id.ContractName)
	if err != nil {
		return nil, fmt.Errorf("listing manifest history: %w", err)
	}
	defer rows.Close()

	var out []deployments.Manifest
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m deployments.Manifest
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decoding manifest: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveAttempt records a verification attempt.
func (s *sqlStore) SaveAttempt(ctx context.Context, a *verification.Attempt) error {
	if a.ID == "" {
		return ErrEmptyID
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO verification_attempts (id, network, address, artifact, outcome, failure, reason, guid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.Network, strings.ToLower(a.Address), a.Artifact, string(a.Outcome), string(a.Failure), a.Reason, a.GUID, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving verification attempt: %w", err)
	}
	return nil
}

// ListAttempts lists verification attempts, newest first.
func (s *sqlStore) ListAttempts(ctx context.Context, filter verification.AttemptFilter) ([]verification.Attempt, error) {
	query := `SELECT id, network, address, artifact, outcome, failure, reason, guid, created_at FROM verification_attempts WHERE 1=1`
	var args []any
	if filter.Network != "" {
		query += ` AND network = ?`
		args = append(args, filter.Network)
	}
	if filter.Address != "" {
		query += ` AND address = ?`
		args = append(args, strings.ToLower(filter.Address))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing verification attempts: %w", err)
	}
	defer rows.Close()

	var out []verification.Attempt
	for rows.Next() {
		var a verification.Attempt
		var outcome, failure string
		var created scanTime
		if err := rows.Scan(&a.ID, &a.Network, &a.Address, &a.Artifact, &outcome, &failure, &a.Reason, &a.GUID, &created); err != nil {
			return nil, err
		}
		a.Outcome = verification.Outcome(outcome)
		a.Failure = verification.FailureKind(failure)
		a.CreatedAt = created.Time
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveRun records a reconciliation run.
func (s *sqlStore) SaveRun(ctx context.Context, r *reconcile.Run) error {
	if r.ID == "" {
		return ErrEmptyID
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO reconciliation_runs (id, network, artifact, address, verdict, verification, overall, report, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), r.ID, r.Network, r.Artifact, strings.ToLower(r.Address), string(r.Verdict), r.Verification, r.Overall, string(r.Report), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving reconciliation run: %w", err)
	}
	return nil
}

const runColumns = `id, network, artifact, address, verdict, verification, overall, report, created_at`

func scanRun(row interface{ Scan(...any) error }) (*reconcile.Run, error) {
	var r reconcile.Run
	var verdict string
	var body []byte
	var created scanTime
	if err := row.Scan(&r.ID, &r.Network, &r.Artifact, &r.Address, &verdict, &r.Verification, &r.Overall, &body, &created); err != nil {
		return nil, err
	}
	r.Verdict = chains.Verdict(verdict)
	r.Report = json.RawMessage(body)
	r.CreatedAt = created.Time
	return &r, nil
}

// GetRun returns a recorded run.
func (s *sqlStore) GetRun(ctx context.Context, id string) (*reconcile.Run, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+runColumns+` FROM reconciliation_runs WHERE id = ?`), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reconcile.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying reconciliation run: %w", err)
	}
	return r, nil
}

// ListRuns lists runs, newest first.
func (s *sqlStore) ListRuns(ctx context.Context, filter reconcile.RunFilter) ([]reconcile.Run, error) {
	query := `SELECT ` + runColumns + ` FROM reconciliation_runs WHERE 1=1`
	var args []any
	if filter.Network != "" {
		query += ` AND network = ?`
		args = append(args, filter.Network)
	}
	if filter.Address != "" {
		query += ` AND address = ?`
		args = append(args, strings.ToLower(filter.Address))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing reconciliation runs: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
