// Package retry provides retry strategies for chain polling and explorer
// calls.
package retry

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when every attempt failed with a retryable error.
var ErrExhausted = errors.New("retries exhausted")

// Operation is a single attempt.
type Operation func() error

// Strategy runs an operation until it succeeds or the strategy gives up.
type Strategy interface {
	Execute(ctx context.Context, operation Operation) error
	Name() string
}

// Permanent marks err as not worth retrying. Strategies return the wrapped
// error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
