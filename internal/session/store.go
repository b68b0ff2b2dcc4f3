package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"sentinelgate/internal/models"
)

// DefaultTimeout is the sliding inactivity window applied when no
// timeout is configured.
const DefaultTimeout = 30 * time.Minute

const tokenLength = 32

// State is the outcome of a session check.
type State int

const (
	// StateNone means the store never held a session, or it was
	// cleared by an explicit logout.
	StateNone State = iota

	// StateValid means a live session exists and its expiry was
	// pushed forward by the check.
	StateValid

	// StateExpired means a session existed but its inactivity
	// window lapsed; the store has been cleared.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Session is the authenticated state for one browsing context. The
// identity fields are a snapshot taken at login; role changes made
// elsewhere do not reach a live session.
type Session struct {
	UserID    int
	Username  string
	Role      models.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	Token     string
}

// Identity returns the page-facing view of the session
func (s *Session) Identity() models.Identity {
	return models.Identity{
		UserID:   s.UserID,
		Username: s.Username,
		Role:     s.Role,
	}
}

// Store owns the single session of one browsing context. Exactly one
// session is live at a time; creating a new one replaces the old.
// Either all session fields are populated, or none are.
type Store struct {
	mu      sync.Mutex
	timeout time.Duration
	now     func() time.Time
	current *Session
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source. Expiry tests depend on this.
func WithClock(now func() time.Time) Option {
	return func(st *Store) {
		if now != nil {
			st.now = now
		}
	}
}

// NewStore creates a session store with the given inactivity timeout.
// Non-positive timeouts fall back to DefaultTimeout.
func NewStore(timeout time.Duration, opts ...Option) *Store {
	st := &Store{
		timeout: timeout,
		now:     time.Now,
	}

	if st.timeout <= 0 {
		st.timeout = DefaultTimeout
	}

	for _, opt := range opts {
		opt(st)
	}

	return st
}

// Create starts a session for the given user, replacing any session
// already held. The returned value is a copy; the store keeps the
// authoritative one.
func (st *Store) Create(user *models.User) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	st.current = &Session{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(st.timeout),
		Token:     token,
	}

	copied := *st.current
	return &copied, nil
}

// Invalidate clears the session. Calling it on an empty store is a
// no-op, so repeated logouts are safe.
func (st *Store) Invalidate() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.current = nil
}

// CheckAndSlide validates the session against the clock. A live
// session gets its expiry pushed to now+timeout; a lapsed one is
// cleared. Callers run this exactly once per protected access.
func (st *Store) CheckAndSlide() State {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil {
		return StateNone
	}

	now := st.now()
	if now.After(st.current.ExpiresAt) {
		st.current = nil
		return StateExpired
	}

	st.current.ExpiresAt = now.Add(st.timeout)
	return StateValid
}

// Current returns the identity snapshot without touching the expiry
func (st *Store) Current() (models.Identity, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil {
		return models.Identity{}, false
	}
	return st.current.Identity(), true
}

// Authenticated reports whether a session is held. It does not check
// or slide the expiry; that is CheckAndSlide's job.
func (st *Store) Authenticated() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current != nil
}

// ExpiresAt returns the current expiry deadline
func (st *Store) ExpiresAt() (time.Time, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil {
		return time.Time{}, false
	}
	return st.current.ExpiresAt, true
}

// Token returns the audit-correlation token of the live session
func (st *Store) Token() (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil {
		return "", false
	}
	return st.current.Token, true
}

// TimeRemaining returns how long the session has before expiry,
// without sliding it. Zero when no session is held.
func (st *Store) TimeRemaining() time.Duration {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil {
		return 0
	}

	remaining := st.current.ExpiresAt.Sub(st.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// generateToken produces a random token for audit correlation. It
// is not a bearer credential; the store's in-memory state is the
// source of truth.
func generateToken() (string, error) {
	bytes := make([]byte, tokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
