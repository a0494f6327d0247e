package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
)

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func manifestAttrs(m *Manifest) []any {
	if m == nil {
		return nil
	}
	return []any{"status", m.Status, "tx", m.TransactionHash, "address", m.ContractAddress}
}

func (mw *loggingMiddleware) Deploy(ctx context.Context, req DeployRequest) (*Manifest, error) {
	start := time.Now()
	m, err := mw.next.Deploy(ctx, req)
	attrs := append([]any{
		"network", req.Network,
		"artifact", req.Artifact.ID().String(),
		"force", req.Force,
		"duration", time.Since(start),
		"error", err,
	}, manifestAttrs(m)...)
	mw.logger.Info("Deploy", attrs...)
	return m, err
}

func (mw *loggingMiddleware) Prepare(ctx context.Context, req PrepareRequest) (*Manifest, *evm.PreparedCreation, error) {
	start := time.Now()
	m, p, err := mw.next.Prepare(ctx, req)
	mw.logger.Info("Prepare",
		"network", req.Network,
		"artifact", req.Artifact.ID().String(),
		"executor", req.Executor,
		"duration", time.Since(start),
		"error", err,
	)
	return m, p, err
}

func (mw *loggingMiddleware) Track(ctx context.Context, req TrackRequest) (*Manifest, error) {
	start := time.Now()
	m, err := mw.next.Track(ctx, req)
	attrs := append([]any{
		"network", req.Network,
		"artifact", req.Artifact.ID().String(),
		"tx", req.TxHash,
		"duration", time.Since(start),
		"error", err,
	}, manifestAttrs(m)...)
	mw.logger.Info("Track", attrs...)
	return m, err
}

func (mw *loggingMiddleware) Await(ctx context.Context, network string, id chains.ArtifactID) (*Manifest, error) {
	start := time.Now()
	m, err := mw.next.Await(ctx, network, id)
	attrs := append([]any{
		"network", network,
		"artifact", id.String(),
		"duration", time.Since(start),
		"error", err,
	}, manifestAttrs(m)...)
	mw.logger.Info("Await", attrs...)
	return m, err
}

func (mw *loggingMiddleware) Get(ctx context.Context, network string, id chains.ArtifactID) (*Manifest, error) {
	start := time.Now()
	m, err := mw.next.Get(ctx, network, id)
	mw.logger.Debug("Get",
		"network", network,
		"artifact", id.String(),
		"duration", time.Since(start),
		"error", err,
	)
	return m, err
}

func (mw *loggingMiddleware) List(ctx context.Context, filter ListFilter) ([]Manifest, error) {
	start := time.Now()
	ms, err := mw.next.List(ctx, filter)
	mw.logger.Debug("List",
		"network", filter.Network,
		"status", filter.Status,
		"count", len(ms),
		"duration", time.Since(start),
		"error", err,
	)
	return ms, err
}
