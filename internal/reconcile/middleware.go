package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/pendergraft/deployrecon/internal/report"
)

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{next: next, logger: logger}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func (mw *loggingMiddleware) Reconcile(ctx context.Context, req Request) (*report.Report, error) {
	start := time.Now()
	rep, err := mw.next.Reconcile(ctx, req)
	attrs := []any{
		"network", req.Network.Name,
		"address", req.Address,
		"submit", req.Submit,
		"duration", time.Since(start),
		"error", err,
	}
	if req.Artifact != nil {
		attrs = append(attrs, "artifact", req.Artifact.ID().String())
	}
	if rep != nil {
		attrs = append(attrs, "run", rep.RunID, "verdict", rep.Bytecode.Verdict, "overall", rep.Overall)
	}
	mw.logger.Info("Reconcile", attrs...)
	return rep, err
}

func (mw *loggingMiddleware) GetRun(ctx context.Context, id string) (*Run, error) {
	start := time.Now()
	run, err := mw.next.GetRun(ctx, id)
	mw.logger.Debug("GetRun", "id", id, "duration", time.Since(start), "error", err)
	return run, err
}

func (mw *loggingMiddleware) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	start := time.Now()
	runs, err := mw.next.ListRuns(ctx, filter)
	mw.logger.Debug("ListRuns",
		"network", filter.Network,
		"address", filter.Address,
		"count", len(runs),
		"duration", time.Since(start),
		"error", err,
	)
	return runs, err
}
