package esign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetries_TransientThenSuccess(t *testing.T) {
	calls := 0
	err := withRetries(context.Background(), fastRetry(), func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetries_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	permanent := errors.New("bad request")
	err := withRetries(context.Background(), fastRetry(), func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithRetries_Exhaustion(t *testing.T) {
	calls := 0
	err := withRetries(context.Background(), fastRetry(), func() error {
		calls++
		return Transient(errors.New("down"))
	})
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestWithRetries_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxAttempts: 5, BackoffBase: time.Hour, BackoffMultiplier: 2.0}
	err := withRetries(ctx, cfg, func() error {
		return Transient(errors.New("down"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffGrowth(t *testing.T) {
	cfg := RetryConfig{BackoffBase: 100 * time.Millisecond, BackoffMultiplier: 2.0}
	assert.Equal(t, 100*time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 200*time.Millisecond, cfg.backoff(2))
	assert.Equal(t, 400*time.Millisecond, cfg.backoff(3))
}
