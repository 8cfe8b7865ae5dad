package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "membank-backend/pkg/errors"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	t.Run("SucceedsFirstTry", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(ctx, fastRetryConfig(3), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("RetriesTransient", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(ctx, fastRetryConfig(3), func() error {
			calls++
			if calls < 3 {
				return apperrors.NewTransientError("flaky", nil)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("ExhaustsAttempts", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(ctx, fastRetryConfig(3), func() error {
			calls++
			return apperrors.NewTransientError("always down", nil)
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, apperrors.IsTransient(err))
	})

	t.Run("PermanentFailsImmediately", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(ctx, fastRetryConfig(3), func() error {
			calls++
			return apperrors.NewPermanentError("bad request", nil)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err := RetryWithBackoff(cancelled, fastRetryConfig(3), func() error {
			return apperrors.NewTransientError("never reached", nil)
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2.0}

	assert.Equal(t, 100*time.Millisecond, backoffDelay(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(cfg, 1))
	// Capped at MaxDelay from the third attempt on.
	assert.Equal(t, 300*time.Millisecond, backoffDelay(cfg, 2))
	assert.Equal(t, 300*time.Millisecond, backoffDelay(cfg, 10))
}
