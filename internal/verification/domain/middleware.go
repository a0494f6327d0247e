package domain

import (
	"context"
	"log/slog"
	"time"
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

func (mw *loggingMiddleware) Verify(ctx context.Context, req VerifyRequest) (*Result, error) {
	start := time.Now()
	res, err := mw.next.Verify(ctx, req)
	attrs := []any{
		"network", req.Network,
		"address", req.Address,
		"duration", time.Since(start),
		"error", err,
	}
	if res != nil {
		attrs = append(attrs, "outcome", res.Outcome, "failure", res.Failure, "guid", res.GUID)
	}
	mw.logger.Info("Verify", attrs...)
	return res, err
}

func (mw *loggingMiddleware) Status(ctx context.Context, address string) (*Result, error) {
	start := time.Now()
	res, err := mw.next.Status(ctx, address)
	attrs := []any{"address", address, "duration", time.Since(start), "error", err}
	if res != nil {
		attrs = append(attrs, "outcome", res.Outcome)
	}
	mw.logger.Debug("Status", attrs...)
	return res, err
}

func (mw *loggingMiddleware) ListAttempts(ctx context.Context, filter AttemptFilter) ([]Attempt, error) {
	start := time.Now()
	attempts, err := mw.next.ListAttempts(ctx, filter)
	mw.logger.Debug("ListAttempts",
		"network", filter.Network,
		"address", filter.Address,
		"count", len(attempts),
		"duration", time.Since(start),
		"error", err,
	)
	return attempts, err
}
