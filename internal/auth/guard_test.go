package auth

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAttemptGuard_LocksAtThreshold tests that the guard locks on the
// configured failure and not before.
func TestAttemptGuard_LocksAtThreshold(t *testing.T) {
	guard := NewAttemptGuard(5)

	for i := 0; i < 4; i++ {
		tripped := guard.RecordFailure()
		require.False(t, tripped, "failure %d should not trip the lock", i+1)
		require.False(t, guard.IsLocked())
	}
	require.Equal(t, 4, guard.Failures())
	require.Equal(t, 1, guard.Remaining())

	require.True(t, guard.RecordFailure(), "fifth failure should trip the lock")
	require.True(t, guard.IsLocked())
	require.Equal(t, 0, guard.Remaining())
}

// TestAttemptGuard_TripsExactlyOnce tests that only the tripping call
// reports the transition.
func TestAttemptGuard_TripsExactlyOnce(t *testing.T) {
	guard := NewAttemptGuard(3)

	trips := 0
	for i := 0; i < 10; i++ {
		if guard.RecordFailure() {
			trips++
		}
	}

	require.Equal(t, 1, trips, "lock transition should be reported once")
	require.True(t, guard.IsLocked())
}

// TestAttemptGuard_LockedCountStopsGrowing tests that failures on a
// locked guard are not counted further.
func TestAttemptGuard_LockedCountStopsGrowing(t *testing.T) {
	guard := NewAttemptGuard(2)

	guard.RecordFailure()
	guard.RecordFailure()
	require.True(t, guard.IsLocked())
	require.Equal(t, 2, guard.Failures())

	guard.RecordFailure()
	require.Equal(t, 2, guard.Failures(), "locked guard should not count more failures")
}

// TestAttemptGuard_SuccessClearsCounter tests that a successful login
// resets the failure count.
func TestAttemptGuard_SuccessClearsCounter(t *testing.T) {
	guard := NewAttemptGuard(5)

	guard.RecordFailure()
	guard.RecordFailure()
	guard.RecordFailure()
	require.Equal(t, 3, guard.Failures())

	guard.RecordSuccess()
	require.Equal(t, 0, guard.Failures())
	require.False(t, guard.IsLocked())
	require.Equal(t, 5, guard.Remaining())
}

// TestAttemptGuard_NoTimeUnlock tests that a locked guard stays locked
// until an explicit reset.
func TestAttemptGuard_NoTimeUnlock(t *testing.T) {
	guard := NewAttemptGuard(1)

	require.True(t, guard.RecordFailure())
	require.True(t, guard.IsLocked())

	// No amount of further activity unlocks it
	for i := 0; i < 100; i++ {
		guard.RecordFailure()
		require.True(t, guard.IsLocked())
	}

	guard.Reset()
	require.False(t, guard.IsLocked())
	require.Equal(t, 0, guard.Failures())
}

// TestAttemptGuard_DefaultThreshold tests the fallback for
// non-positive thresholds.
func TestAttemptGuard_DefaultThreshold(t *testing.T) {
	guard := NewAttemptGuard(0)
	require.Equal(t, DefaultMaxAttempts, guard.Remaining())

	guard = NewAttemptGuard(-3)
	require.Equal(t, DefaultMaxAttempts, guard.Remaining())
}

// TestAttemptGuard_ConcurrentFailures tests that concurrent failures
// trip the lock exactly once without races.
func TestAttemptGuard_ConcurrentFailures(t *testing.T) {
	guard := NewAttemptGuard(50)

	var mu sync.Mutex
	trips := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if guard.RecordFailure() {
				mu.Lock()
				trips++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, trips)
	require.True(t, guard.IsLocked())
	require.Equal(t, 50, guard.Failures())
}
