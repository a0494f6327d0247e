package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/config"
	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
	"github.com/pendergraft/deployrecon/internal/reconcile"
	verification "github.com/pendergraft/deployrecon/internal/verification/domain"
)

const tokenAddress = "0x00000000000000000000000000000000000000Aa"

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Migrations are idempotent
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	return store
}

var tokenID = chains.ArtifactID{SourcePath: "src/Token.sol", ContractName: "Token"}

func manifest(id string, status deployments.Status, at time.Time) *deployments.Manifest {
	return &deployments.Manifest{
		ID:              id,
		Artifact:        tokenID,
		Network:         "base",
		ChainID:         8453,
		ConstructorArgs: []deployments.ConstructorArg{{Type: "uint256", Value: "1000"}},
		Status:          status,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func TestSQLiteStore_Manifests(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "base", tokenID)
		if !errors.Is(err, deployments.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("SaveAndGet", func(t *testing.T) {
		m := manifest("11111111-1111-1111-1111-111111111111", deployments.StatusPending, start)
		m.TransactionHash = "0xabc"
		m.SignedTx = "02f8"
		if err := store.Save(ctx, m); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Get(ctx, "base", tokenID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != deployments.StatusPending || got.TransactionHash != "0xabc" || got.SignedTx != "02f8" {
			t.Errorf("Get() = %+v", got)
		}
		if len(got.ConstructorArgs) != 1 || got.ConstructorArgs[0].Value != "1000" {
			t.Errorf("Get().ConstructorArgs = %v", got.ConstructorArgs)
		}
	})

	t.Run("UpdateSameID", func(t *testing.T) {
		m := manifest("11111111-1111-1111-1111-111111111111", deployments.StatusMined, start.Add(time.Minute))
		m.ContractAddress = tokenAddress
		if err := store.Save(ctx, m); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		history, err := store.History(ctx, "base", tokenID)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 0 {
			t.Errorf("History() = %d entries, want 0", len(history))
		}
	})

	t.Run("ReplaceArchives", func(t *testing.T) {
		m := manifest("22222222-2222-2222-2222-222222222222", deployments.StatusRequested, start.Add(time.Hour))
		if err := store.Save(ctx, m); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := store.Get(ctx, "base", tokenID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ID != m.ID {
			t.Errorf("Get().ID = %s, want %s", got.ID, m.ID)
		}
		history, err := store.History(ctx, "base", tokenID)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 1 || history[0].Status != deployments.StatusMined || history[0].ContractAddress != tokenAddress {
			t.Errorf("History() = %+v", history)
		}
	})

	t.Run("List", func(t *testing.T) {
		other := manifest("33333333-3333-3333-3333-333333333333", deployments.StatusFailed, start)
		other.Network = "base-sepolia"
		if err := store.Save(ctx, other); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		tests := []struct {
			name   string
			filter deployments.ListFilter
			want   int
		}{
			{"all", deployments.ListFilter{}, 2},
			{"network", deployments.ListFilter{Network: "base-sepolia"}, 1},
			{"status", deployments.ListFilter{Status: deployments.StatusRequested}, 1},
			{"no match", deployments.ListFilter{Network: "base", Status: deployments.StatusFailed}, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := store.List(ctx, tt.filter)
				if err != nil {
					t.Fatalf("List() error = %v", err)
				}
				if len(got) != tt.want {
					t.Errorf("List() = %d manifests, want %d", len(got), tt.want)
				}
			})
		}
	})

	t.Run("InvalidNetwork", func(t *testing.T) {
		m := manifest("44444444-4444-4444-4444-444444444444", deployments.StatusRequested, start)
		m.Network = "Base Mainnet"
		if err := store.Save(ctx, m); err == nil {
			t.Error("Save() should reject an invalid network name")
		}
	})
}

func TestSQLiteStore_Attempts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, outcome := range []verification.Outcome{verification.OutcomeFailed, verification.OutcomeSubmitted} {
		a := &verification.Attempt{
			ID:        []string{"a-1", "a-2"}[i],
			Network:   "base",
			Address:   tokenAddress,
			Artifact:  tokenID.String(),
			Outcome:   outcome,
			CreatedAt: start.Add(time.Duration(i) * time.Second),
		}
		if outcome == verification.OutcomeFailed {
			a.Failure = verification.FailureTransient
			a.Reason = "rate limited"
		}
		if err := store.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt() error = %v", err)
		}
	}

	got, err := store.ListAttempts(ctx, verification.AttemptFilter{Address: "0x00000000000000000000000000000000000000AA"})
	if err != nil {
		t.Fatalf("ListAttempts() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListAttempts() = %d, want 2", len(got))
	}
	if got[0].ID != "a-2" {
		t.Errorf("ListAttempts()[0].ID = %s, want newest first", got[0].ID)
	}
	if got[1].Failure != verification.FailureTransient || !got[1].CreatedAt.Equal(start) {
		t.Errorf("ListAttempts()[1] = %+v", got[1])
	}

	limited, err := store.ListAttempts(ctx, verification.AttemptFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListAttempts() error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListAttempts(limit 1) = %d", len(limited))
	}

	if err := store.SaveAttempt(ctx, &verification.Attempt{}); !errors.Is(err, ErrEmptyID) {
		t.Errorf("SaveAttempt() without id error = %v", err)
	}
}

func TestSQLiteStore_Runs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := &reconcile.Run{
		ID:           "r-1",
		Network:      "base",
		Artifact:     tokenID.String(),
		Address:      tokenAddress,
		Verdict:      chains.MatchModuloMetadata,
		Verification: "already_verified",
		Overall:      true,
		Report:       json.RawMessage(`{"overall":true}`),
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := store.GetRun(ctx, "r-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !got.Overall || got.Verdict != chains.MatchModuloMetadata || string(got.Report) != `{"overall":true}` {
		t.Errorf("GetRun() = %+v", got)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, reconcile.ErrRunNotFound) {
		t.Errorf("GetRun(missing) error = %v", err)
	}

	runs, err := store.ListRuns(ctx, reconcile.RunFilter{Network: "base", Address: tokenAddress})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("ListRuns() = %d, want 1", len(runs))
	}
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(config.StorageConfig{Type: "mongo"}, nil)
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("New() error = %v, want ErrUnknownType", err)
	}
}
