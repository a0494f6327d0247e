package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackoffStrategy implements retry with exponential backoff
type ExponentialBackoffStrategy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	retryable    func(error) bool
	onRetry      func(attempt int, err error, delay time.Duration)
	logger       *slog.Logger
}

// Option configures an ExponentialBackoffStrategy.
type Option func(*ExponentialBackoffStrategy)

// WithRetryable sets the predicate deciding which errors are retried. By
// default every error not marked Permanent is retried.
func WithRetryable(fn func(error) bool) Option {
	return func(s *ExponentialBackoffStrategy) {
		s.retryable = fn
	}
}

// WithMultiplier sets the growth factor between delays.
func WithMultiplier(m float64) Option {
	return func(s *ExponentialBackoffStrategy) {
		s.multiplier = m
	}
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(s *ExponentialBackoffStrategy) {
		s.onRetry = fn
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ExponentialBackoffStrategy) {
		s.logger = logger
	}
}

// NewExponentialBackoffStrategy creates a new ExponentialBackoffStrategy.
// The operation runs at most maxRetries+1 times.
func NewExponentialBackoffStrategy(maxRetries int, initialDelay, maxDelay time.Duration, opts ...Option) *ExponentialBackoffStrategy {
	s := &ExponentialBackoffStrategy{
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		multiplier:   2,
		retryable:    func(error) bool { return true },
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ExponentialBackoffStrategy) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialDelay
	b.MaxInterval = s.maxDelay
	b.Multiplier = s.multiplier
	// delays grow strictly between attempts
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxRetries)), ctx)
}

// Execute runs the operation with exponential backoff retry logic
func (s *ExponentialBackoffStrategy) Execute(ctx context.Context, operation Operation) error {
	attempt := 0
	permanent := false

	err := backoff.RetryNotify(func() error {
		attempt++
		err := operation()
		if err == nil {
			return nil
		}
		var perr *backoff.PermanentError
		if errors.As(err, &perr) {
			permanent = true
			return err
		}
		if !s.retryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}, s.policy(ctx), func(err error, delay time.Duration) {
		s.logger.Warn("operation failed, retrying with exponential backoff",
			"attempt", attempt,
			"max_attempts", s.maxRetries+1,
			"retry_in", delay,
			"error", err,
		)
		if s.onRetry != nil {
			s.onRetry(attempt, err, delay)
		}
	})

	switch {
	case err == nil:
		if attempt > 1 {
			s.logger.Info("operation succeeded after retry", "attempt", attempt)
		}
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
	case permanent:
		return err
	default:
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
	}
}

// Name returns the strategy name
func (s *ExponentialBackoffStrategy) Name() string {
	return "ExponentialBackoff"
}
