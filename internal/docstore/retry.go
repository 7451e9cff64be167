package docstore

import (
	"context"
	"time"

	"github.com/noah-isme/toko-pos/internal/resilience"
)

// RetryBase is the wait after the first transaction conflict. Later waits
// double up to maxRetryShift doublings, each jittered by half.
var RetryBase = 2 * time.Millisecond

const (
	maxRetryShift = 5
	retryJitter   = 0.5
)

// RetryDelay is the pause before retrying after the given failed attempt
// (1-based).
func RetryDelay(attempt int) time.Duration {
	return resilience.Backoff(RetryBase, min(max(attempt, 1), maxRetryShift+1), retryJitter)
}

// WaitRetry sleeps RetryDelay(attempt) unless ctx ends first.
func WaitRetry(ctx context.Context, attempt int) error {
	t := time.NewTimer(RetryDelay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
