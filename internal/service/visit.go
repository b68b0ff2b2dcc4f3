package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinelgate/internal/auth"
	"sentinelgate/internal/session"
)

// DefaultVisitIdleAge is how long a visit may go without a lookup
// before the janitor evicts it together with any session it holds.
const DefaultVisitIdleAge = 2 * time.Hour

// Visit bundles the state that belongs to one browsing context: a
// single session slot and a lockout counter. Visits never outlive
// the process.
type Visit struct {
	ID      string
	Session *session.Store
	Guard   *auth.AttemptGuard

	mu       sync.Mutex
	lastSeen time.Time
}

func (v *Visit) touch(now time.Time) {
	v.mu.Lock()
	v.lastSeen = now
	v.mu.Unlock()
}

// LastSeen returns the time of the visit's most recent lookup
func (v *Visit) LastSeen() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeen
}

// VisitRegistry hands out visits and finds them again by ID, so a
// frontend can key each browsing context the way a browser tab keeps
// its own state.
type VisitRegistry struct {
	mu             sync.Mutex
	visits         map[string]*Visit
	sessionTimeout time.Duration
	maxAttempts    int
	now            func() time.Time
}

// NewVisitRegistry creates a registry whose visits carry a session
// store with the given timeout and a guard with the given attempt
// ceiling
func NewVisitRegistry(sessionTimeout time.Duration, maxAttempts int) *VisitRegistry {
	return &VisitRegistry{
		visits:         make(map[string]*Visit),
		sessionTimeout: sessionTimeout,
		maxAttempts:    maxAttempts,
		now:            time.Now,
	}
}

// Begin creates and registers a fresh visit
func (vr *VisitRegistry) Begin() *Visit {
	visit := &Visit{
		ID:       uuid.NewString(),
		Session:  session.NewStore(vr.sessionTimeout),
		Guard:    auth.NewAttemptGuard(vr.maxAttempts),
		lastSeen: vr.now(),
	}

	vr.mu.Lock()
	vr.visits[visit.ID] = visit
	vr.mu.Unlock()

	return visit
}

// Lookup returns the visit with the given ID and marks it seen
func (vr *VisitRegistry) Lookup(id string) (*Visit, bool) {
	vr.mu.Lock()
	visit, ok := vr.visits[id]
	vr.mu.Unlock()

	if ok {
		visit.touch(vr.now())
	}
	return visit, ok
}

// End drops a visit and invalidates any session it still holds.
// Ending an unknown visit is a no-op.
func (vr *VisitRegistry) End(id string) {
	vr.mu.Lock()
	visit, ok := vr.visits[id]
	delete(vr.visits, id)
	vr.mu.Unlock()

	if ok {
		visit.Session.Invalidate()
	}
}

// PruneIdle evicts visits that have not been looked up for longer
// than maxIdle and returns how many were dropped
func (vr *VisitRegistry) PruneIdle(maxIdle time.Duration) int {
	cutoff := vr.now().Add(-maxIdle)

	vr.mu.Lock()
	var stale []*Visit
	for id, visit := range vr.visits {
		if visit.LastSeen().Before(cutoff) {
			stale = append(stale, visit)
			delete(vr.visits, id)
		}
	}
	vr.mu.Unlock()

	for _, visit := range stale {
		visit.Session.Invalidate()
	}
	return len(stale)
}

// Size returns the number of live visits
func (vr *VisitRegistry) Size() int {
	vr.mu.Lock()
	defer vr.mu.Unlock()
	return len(vr.visits)
}

// StartJanitor starts a background goroutine that prunes idle visits
// until the context is cancelled
func (vr *VisitRegistry) StartJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				vr.PruneIdle(maxIdle)
			}
		}
	}()
}
