package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_Success(t *testing.T) {
	config := DefaultRetryConfig()
	attempts := 0

	err := Retry(context.Background(), config, func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_EventualSuccess(t *testing.T) {
	config := DefaultRetryConfig()
	config.BaseDelay = time.Millisecond
	attempts := 0

	err := Retry(context.Background(), config, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_MaxAttempts(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.BaseDelay = time.Millisecond
	attempts := 0
	persistent := errors.New("persistent error")

	err := Retry(context.Background(), config, func() error {
		attempts++
		return persistent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, persistent)
	assert.Equal(t, 3, attempts)
}

func TestRetry_WithResult(t *testing.T) {
	config := DefaultRetryConfig()
	config.BaseDelay = time.Millisecond
	attempts := 0

	result, err := RetryWithResult(context.Background(), config, func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("temporary error")
		}
		return "success", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 2, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 10
	config.BaseDelay = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Retry(ctx, config, func() error {
		return errors.New("error")
	})

	assert.Error(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	config := DefaultRetryConfig()
	config.Retryable = IsRetryableError
	attempts := 0

	err := Retry(context.Background(), config, func() error {
		attempts++
		return errors.New("syntax error at or near")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ExponentialBackoff(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.BaseDelay = 10 * time.Millisecond
	config.Jitter = false
	config.BackoffType = Exponential

	start := time.Now()
	_ = Retry(context.Background(), config, func() error {
		return errors.New("error")
	})

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestBackoffDelay(t *testing.T) {
	base := 60 * time.Second

	assert.Equal(t, 60*time.Second, BackoffDelay(base, 1))
	assert.Equal(t, 120*time.Second, BackoffDelay(base, 2))
	assert.Equal(t, 240*time.Second, BackoffDelay(base, 3))
	assert.Equal(t, 60*time.Second, BackoffDelay(base, 0))
}

func TestBackoffDelay_StrictlyIncreasing(t *testing.T) {
	prev := time.Duration(0)
	for k := 1; k <= 12; k++ {
		d := BackoffDelay(time.Second, k)
		assert.Greater(t, d, prev, "attempt %d", k)
		prev = d
	}
}

func TestBackoffDelay_SaturatesForLargeBase(t *testing.T) {
	base := 86400 * time.Second

	prev := time.Duration(0)
	for k := 1; k <= 21; k++ {
		d := BackoffDelay(base, k)
		require.Positive(t, d, "attempt %d", k)
		if prev == MaxBackoffDelay {
			assert.Equal(t, MaxBackoffDelay, d, "attempt %d", k)
		} else {
			assert.Greater(t, d, prev, "attempt %d", k)
		}
		prev = d
	}
	assert.Equal(t, base<<16, BackoffDelay(base, 17))
	assert.Equal(t, MaxBackoffDelay, BackoffDelay(base, 18))
	assert.Equal(t, MaxBackoffDelay, BackoffDelay(time.Nanosecond, 100))
}
