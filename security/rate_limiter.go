package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per key. The delivery worker keys it
// by subscription so a single slow endpoint cannot be flooded.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	config   RateLimitConfig
	mu       sync.Mutex
	cleanup  *time.Timer
	closed   bool
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func CreateRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		config:   config,
	}
	rl.startCleanup()
	return rl
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limit := rate.Limit(rl.config.RequestsPerSecond)
		if rl.config.RequestsPerSecond <= 0 {
			limit = rate.Inf
		}
		limiter = rate.NewLimiter(limit, rl.config.Burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.limiter(key).Wait(ctx)
}

func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) startCleanup() {
	rl.cleanup = time.AfterFunc(5*time.Minute, func() {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		if rl.closed {
			return
		}

		now := time.Now()
		for key, limiter := range rl.limiters {
			if limiter.TokensAt(now) >= float64(limiter.Burst()) {
				delete(rl.limiters, key)
			}
		}

		rl.cleanup.Reset(5 * time.Minute)
	})
}

func (rl *RateLimiter) Close() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.closed = true
	if rl.cleanup != nil {
		rl.cleanup.Stop()
	}
}
