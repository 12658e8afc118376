package store

import (
	"context"
	"time"
)

// RetryPolicy controls the exponential backoff applied to transient-error
// retries, matching spec.md §4.A / §5 (3 attempts, 150ms base, factor 2).
type RetryPolicy struct {
	Attempts int
	BaseMs   int
	Factor   float64
}

// DefaultRetryPolicy is spec.md's default storeRetry configuration.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseMs: 150, Factor: 2}

// withRetry runs fn, retrying on KindTransient errors per policy. It is
// used only for idempotent reads and upsertAgentActivity, per spec.md §4.A.
func withRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	delay := time.Duration(policy.BaseMs) * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * policy.Factor)
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
