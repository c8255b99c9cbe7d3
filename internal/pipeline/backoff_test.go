package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayDoubles(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, Base: 100 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, policy.Delay(0))
	assert.Equal(t, 200*time.Millisecond, policy.Delay(1))
	assert.Equal(t, 400*time.Millisecond, policy.Delay(2))
	assert.Equal(t, 800*time.Millisecond, policy.Delay(3))
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Base: time.Millisecond}

	calls := 0
	attempts, err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Base: time.Millisecond}

	calls := 0
	attempts, err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Base: time.Millisecond}

	wantErr := errors.New("still broken")
	attempts, err := policy.Do(context.Background(), func(ctx context.Context) error {
		return wantErr
	})

	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, wantErr)
}

func TestDoAbortsOnContextCancel(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, Base: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var attempts int
	var err error
	go func() {
		defer close(done)
		attempts, err = policy.Do(ctx, func(ctx context.Context) error {
			return errors.New("transient")
		})
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoClampsZeroAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 0, Base: time.Millisecond}

	calls := 0
	attempts, _ := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("nope")
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}
