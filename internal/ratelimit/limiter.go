package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sentinelgate/pkg/errors"
)

const idleEvictionAge = 15 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles operations per key. Login uses it keyed by
// username, so hammering one account from many visits is damped even
// though lockout counting stays per-visit.
type RateLimiter struct {
	limiters map[string]*entry
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps int, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*entry),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// GetLimiter returns a limiter for the given key (username, visit ID)
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.limiters[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = time.Now()

	return e.limiter
}

// Allow checks if the request is allowed
func (rl *RateLimiter) Allow(key string) bool {
	limiter := rl.GetLimiter(key)
	return limiter.Allow()
}

// Wait waits until the request is allowed or context is cancelled
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	limiter := rl.GetLimiter(key)
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}
	return nil
}

// CheckLimit checks rate limit and returns error if exceeded
func (rl *RateLimiter) CheckLimit(key string) error {
	if !rl.Allow(key) {
		return errors.ErrRateLimitExceeded
	}
	return nil
}

// Cleanup evicts limiters idle longer than idleEvictionAge. Active
// keys keep their token state; only abandoned ones go.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-idleEvictionAge)
	evicted := 0
	for key, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			evicted++
		}
	}

	return evicted
}

// Size returns the number of tracked keys
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// StartCleanupWorker starts a background worker to cleanup old limiters
func (rl *RateLimiter) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}
