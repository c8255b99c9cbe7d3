package pipeline

import (
	"context"
	"time"
)

// RetryPolicy bounds retries of collaborator calls with exponential
// backoff. A timeout counts as a transient failure like any other.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Base is the backoff delay before the second attempt; subsequent
	// delays double (base * 2^attempt).
	Base time.Duration
}

// Delay returns the backoff delay after the given zero-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.Base * (1 << attempt)
}

// Do runs fn up to MaxAttempts times, sleeping the backoff delay between
// attempts. It returns the number of attempts made and the last error
// (nil on success). Context cancellation aborts the backoff sleep and
// surfaces the context error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}

		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, ctx.Err()
		}
	}

	return attempts, lastErr
}
