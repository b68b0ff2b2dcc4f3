package auth

import (
	"sync"
)

// DefaultMaxAttempts is the number of consecutive failures a visit
// gets before its login form locks.
const DefaultMaxAttempts = 5

// AttemptGuard counts consecutive failed logins for one browsing
// context. Reaching the threshold locks the guard; the lock holds
// until Reset, there is no time-based unlock. A successful login
// clears the counter.
type AttemptGuard struct {
	mu          sync.Mutex
	maxAttempts int
	failures    int
	locked      bool
}

// NewAttemptGuard creates a guard with the given threshold.
// Non-positive thresholds fall back to DefaultMaxAttempts.
func NewAttemptGuard(maxAttempts int) *AttemptGuard {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &AttemptGuard{maxAttempts: maxAttempts}
}

// RecordFailure counts one failed attempt. The return value is true
// only on the call that trips the lock, so callers can audit the
// lockout exactly once.
func (g *AttemptGuard) RecordFailure() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.locked {
		return false
	}

	g.failures++
	if g.failures >= g.maxAttempts {
		g.locked = true
		return true
	}
	return false
}

// RecordSuccess clears the failure count after a successful login
func (g *AttemptGuard) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	g.locked = false
}

// IsLocked reports whether the visit's login form is locked
func (g *AttemptGuard) IsLocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}

// Failures returns the current consecutive failure count
func (g *AttemptGuard) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}

// Remaining returns how many attempts are left before lockout
func (g *AttemptGuard) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.maxAttempts - g.failures
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears the counter and the lock. A fresh browsing context
// starts from this state.
func (g *AttemptGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	g.locked = false
}
