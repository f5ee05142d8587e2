package db

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultRetryAttempts = 3

// WithRetry runs fn until it succeeds, fails with a non-transient error or
// attempts are exhausted. fn must be safe to repeat, typically one whole transaction.
func WithRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = 0

	op := func() error {
		err := fn(ctx)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))
}
