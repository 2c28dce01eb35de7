// Package retry calls a function until it succeeds, with backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrRetry marks an error as retryable.
var ErrRetry = errors.New("retry")

// Backoff is a (blocking) function returns when to retry.
//
// If context is canceled, Backoff should return ctx.Err().
type Backoff func(context.Context) error

// StaticBackoff waits for a fixed interval.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1, 0)
}

// ExponentialBackoff waits with exponential backoff.
//
// For N-th call, it waits for min(initialInterval * r^N, max) or context to be done.
// max <= 0 means no limit.
func ExponentialBackoff(initialInterval time.Duration, r float64, max time.Duration) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * r)
			if 0 < max && max < interval {
				interval = max
			}
			return nil
		}
	}
}

// Blocking calls f until it returns nil or an error which is not ErrRetry.
//
// The first call to f is made without waiting. Between calls, b is waited.
//
// # Returns
//
// - T: last return value of f
//
// - error: error returned by f, or by b.
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	for {
		last, err := f()
		if err == nil || !errors.Is(err, ErrRetry) {
			return last, err
		}
		if berr := b(ctx); berr != nil {
			return last, errors.Join(berr, err)
		}
	}
}
