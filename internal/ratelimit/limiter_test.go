package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sentinelgate/pkg/errors"
)

// TestCheckLimit tests that the burst budget is enforced per key.
func TestCheckLimit(t *testing.T) {
	rl := NewRateLimiter(0, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.CheckLimit("login:alice"), "attempt %d should fit the burst", i+1)
	}

	err := rl.CheckLimit("login:alice")
	require.True(t, errors.Is(err, errors.ErrRateLimitExceeded), "the budget should be spent")

	require.NoError(t, rl.CheckLimit("login:bob"), "another key should have its own budget")
}

// TestAllowRefills tests that tokens come back over time.
func TestAllowRefills(t *testing.T) {
	rl := NewRateLimiter(100, 1)

	require.True(t, rl.Allow("k"), "the first call should pass")
	require.False(t, rl.Allow("k"), "the burst should be spent")

	time.Sleep(50 * time.Millisecond)
	require.True(t, rl.Allow("k"), "a token should have come back")
}

// TestCleanup tests that only keys idle past the eviction age are
// dropped.
func TestCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10)

	rl.Allow("stale")
	rl.Allow("fresh")
	require.Equal(t, 2, rl.Size(), "both keys should be tracked")

	rl.mu.Lock()
	rl.limiters["stale"].lastSeen = time.Now().Add(-idleEvictionAge - time.Minute)
	rl.mu.Unlock()

	require.Equal(t, 1, rl.Cleanup(), "only the idle key should be evicted")
	require.Equal(t, 1, rl.Size(), "the fresh key should survive")

	_, kept := rl.limiters["fresh"]
	require.True(t, kept, "the surviving key should be the fresh one")
}

// TestConcurrentKeys tests limiter creation racing across goroutines.
func TestConcurrentKeys(t *testing.T) {
	rl := NewRateLimiter(1000, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				rl.Allow("shared")
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, rl.Size(), "one key should map to one limiter")
}
