package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sentinelgate/internal/models"
)

// TestVisitRegistry_BeginAndLookup tests that visits are handed out
// with unique IDs and can be found again.
func TestVisitRegistry_BeginAndLookup(t *testing.T) {
	vr := NewVisitRegistry(30*time.Minute, 5)

	first := vr.Begin()
	second := vr.Begin()
	require.NotEmpty(t, first.ID, "a visit should carry an ID")
	require.NotEqual(t, first.ID, second.ID, "visit IDs should be unique")
	require.Equal(t, 2, vr.Size(), "both visits should be registered")

	found, ok := vr.Lookup(first.ID)
	require.True(t, ok, "a registered visit should be found")
	require.Same(t, first, found, "lookup should return the registered visit")

	_, ok = vr.Lookup("no-such-visit")
	require.False(t, ok, "an unknown ID should not resolve")
}

// TestVisitRegistry_LookupTouches tests that lookups refresh the
// last-seen stamp the janitor prunes by.
func TestVisitRegistry_LookupTouches(t *testing.T) {
	clock := newFakeClock()
	vr := NewVisitRegistry(30*time.Minute, 5)
	vr.now = clock.Now

	visit := vr.Begin()
	begun := visit.LastSeen()

	clock.Advance(1 * time.Hour)
	_, ok := vr.Lookup(visit.ID)
	require.True(t, ok, "the visit should still resolve")
	require.True(t, visit.LastSeen().After(begun), "a lookup should refresh the stamp")
	require.True(t, visit.LastSeen().Equal(clock.Now()), "the stamp should be the lookup time")
}

// TestVisitRegistry_EndInvalidatesSession tests that ending a visit
// drops it and closes any session it still holds.
func TestVisitRegistry_EndInvalidatesSession(t *testing.T) {
	vr := NewVisitRegistry(30*time.Minute, 5)
	visit := vr.Begin()

	_, err := visit.Session.Create(&models.User{ID: 7, Username: "alice", Role: models.RoleAnalyst})
	require.NoError(t, err, "the fixture session should open")

	vr.End(visit.ID)
	require.Equal(t, 0, vr.Size(), "the visit should be gone")
	require.False(t, visit.Session.Authenticated(), "the session should be closed with the visit")

	_, ok := vr.Lookup(visit.ID)
	require.False(t, ok, "an ended visit should not resolve")

	vr.End("no-such-visit")
}

// TestVisitRegistry_PruneIdle tests that only visits idle past the
// cutoff are evicted, and their sessions closed.
func TestVisitRegistry_PruneIdle(t *testing.T) {
	clock := newFakeClock()
	vr := NewVisitRegistry(30*time.Minute, 5)
	vr.now = clock.Now

	fresh := vr.Begin()
	stale := vr.Begin()
	_, err := stale.Session.Create(&models.User{ID: 7, Username: "alice", Role: models.RoleAnalyst})
	require.NoError(t, err, "the fixture session should open")

	clock.Advance(3 * time.Hour)
	_, ok := vr.Lookup(fresh.ID)
	require.True(t, ok, "the fresh visit should resolve")

	dropped := vr.PruneIdle(2 * time.Hour)
	require.Equal(t, 1, dropped, "only the idle visit should be evicted")
	require.Equal(t, 1, vr.Size(), "the touched visit should survive")
	require.False(t, stale.Session.Authenticated(), "the evicted visit's session should be closed")

	_, ok = vr.Lookup(stale.ID)
	require.False(t, ok, "the evicted visit should not resolve")
	_, ok = vr.Lookup(fresh.ID)
	require.True(t, ok, "the surviving visit should resolve")

	require.Equal(t, 0, vr.PruneIdle(2*time.Hour), "a second prune should find nothing")
}

// TestVisitRegistry_ConcurrentUse tests begin, lookup, and end racing
// across goroutines.
func TestVisitRegistry_ConcurrentUse(t *testing.T) {
	vr := NewVisitRegistry(30*time.Minute, 5)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			visit := vr.Begin()
			_, ok := vr.Lookup(visit.ID)
			require.True(t, ok, "a visit should resolve from its own goroutine")
			vr.End(visit.ID)
		}()
	}
	wg.Wait()

	require.Equal(t, 0, vr.Size(), "every visit should have been ended")
}
