package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	limiter := CreateRateLimiter(RateLimitConfig{RequestsPerSecond: 5, Burst: 5})
	defer limiter.Close()

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("sub-1"), "request %d", i+1)
	}
	assert.False(t, limiter.Allow("sub-1"))

	assert.True(t, limiter.Allow("sub-2"), "keys are independent")
	assert.Equal(t, 2, limiter.Size())
}

func TestRateLimiter_Refill(t *testing.T) {
	limiter := CreateRateLimiter(RateLimitConfig{RequestsPerSecond: 10, Burst: 2})
	defer limiter.Close()

	limiter.Allow("k")
	limiter.Allow("k")
	assert.False(t, limiter.Allow("k"))

	time.Sleep(150 * time.Millisecond)
	assert.True(t, limiter.Allow("k"))
}

func TestRateLimiter_Unlimited(t *testing.T) {
	limiter := CreateRateLimiter(RateLimitConfig{})
	defer limiter.Close()

	for i := 0; i < 100; i++ {
		require.True(t, limiter.Allow("k"))
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	limiter := CreateRateLimiter(RateLimitConfig{RequestsPerSecond: 0.1, Burst: 1})
	defer limiter.Close()

	require.NoError(t, limiter.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(ctx, "k"))
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	limiter := CreateRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000})
	defer limiter.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limiter.Allow("shared")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, limiter.Size())
}
