// ABOUTME: Fixed-delay retry policy for absorbing eventual-consistency lag on the backend.
// ABOUTME: Retry runs fn until it succeeds, the attempts run out, or the context ends.
package api

import (
	"context"
	"time"
)

// RetryPolicy configures Retry. MaxRetries does not count the first call.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration

	// ShouldRetry decides whether err is worth another attempt. Nil retries
	// every error.
	ShouldRetry func(err error) bool

	// OnRetry, if set, runs before each retry with the error that caused it
	// and the zero-based attempt number.
	OnRetry func(err error, attempt int)
}

// HistoryRetryPolicy is used right after an application was created, when
// the backend may not have persisted its first exchange yet: 5 retries, 300ms apart.
func HistoryRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, Delay: 300 * time.Millisecond}
}

// Retry calls fn and retries failures per policy. It returns nil on the
// first success, otherwise the last error (or ctx.Err() if ctx ended while
// waiting).
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= policy.MaxRetries {
			return err
		}
		if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			return err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt)
		}

		timer := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
