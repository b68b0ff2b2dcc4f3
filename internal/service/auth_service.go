package service

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"sentinelgate/internal/audit"
	"sentinelgate/internal/auth"
	"sentinelgate/internal/models"
	"sentinelgate/internal/ratelimit"
	"sentinelgate/internal/repository"
	"sentinelgate/internal/security"
	"sentinelgate/internal/session"
	"sentinelgate/pkg/errors"
	"sentinelgate/pkg/validator"
)

// passwordUpdater is satisfied by directories that can persist a new
// hash. Legacy hashes are upgraded on login when the directory
// supports it.
type passwordUpdater interface {
	UpdatePassword(ctx context.Context, userID int, passwordHash string) error
}

// auditSink is the slice of the audit logger the services write to
type auditSink interface {
	Log(event *audit.Event) error
	QueryLogs(filters audit.QueryFilters) ([]*audit.Event, error)
}

// sessionTrail persists session rows for audit correlation
type sessionTrail interface {
	Record(ctx context.Context, rec *repository.SessionRecord) error
	Revoke(ctx context.Context, fingerprint string) error
	RevokeAllForUser(ctx context.Context, userID int) error
	RevokeAllForUserTx(tx *sql.Tx, userID int) error
}

// AuthService runs the login and logout flows and the session gate.
// Every refused login surfaces as the same generic credential error;
// the audit trail keeps the real reason.
type AuthService struct {
	directory     auth.UserDirectory
	authenticator *auth.Authenticator
	hasher        *security.PasswordHasher
	validator     *validator.Validator
	rateLimiter   *ratelimit.RateLimiter
	auditLogger   auditSink
	sessions      sessionTrail
	log           *zap.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	directory auth.UserDirectory,
	sessions sessionTrail,
	rateLimiter *ratelimit.RateLimiter,
	auditLogger auditSink,
	log *zap.Logger,
) *AuthService {
	hasher := security.NewPasswordHasher()

	return &AuthService{
		directory:     directory,
		authenticator: auth.NewAuthenticator(directory, hasher),
		hasher:        hasher,
		validator:     validator.New(),
		rateLimiter:   rateLimiter,
		auditLogger:   auditLogger,
		sessions:      sessions,
		log:           log,
	}
}

// Login verifies credentials and opens a session on the visit,
// replacing any session the visit already had
func (s *AuthService) Login(ctx context.Context, visit *Visit, req *models.LoginRequest) (*models.LoginResult, error) {
	username := s.validator.SanitizeString(req.Username)

	// Validate input
	if err := s.validator.ValidateLoginInput(username, req.Password); err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			VisitID:  visit.ID,
			Action:   audit.ActionLoginInvalidInput,
			Resource: "auth",
			Success:  false,
			ErrorMsg: err.Error(),
			Metadata: username,
		})
		return nil, err
	}

	// Lockout check comes before any directory access
	if visit.Guard.IsLocked() {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			VisitID:  visit.ID,
			Action:   audit.ActionLoginLockedOut,
			Resource: "auth",
			Success:  false,
			Metadata: username,
		})
		return nil, errors.ErrAccountLocked
	}

	// Rate limiting per username
	rateLimitKey := fmt.Sprintf("login:%s", username)
	if err := s.rateLimiter.CheckLimit(rateLimitKey); err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			VisitID:  visit.ID,
			Action:   audit.ActionLoginRateLimited,
			Resource: "auth",
			Success:  false,
			ErrorMsg: "rate limit exceeded",
			Metadata: username,
		})
		return nil, err
	}

	// Verify credentials
	user, err := s.authenticator.Authenticate(ctx, username, req.Password)
	if err != nil {
		return nil, s.refuseLogin(visit, username, err)
	}

	visit.Guard.RecordSuccess()

	sess, err := visit.Session.Create(user)
	if err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelError,
			UserID:   &user.ID,
			VisitID:  visit.ID,
			Action:   audit.ActionSessionCreateFailed,
			Resource: "session",
			Success:  false,
			ErrorMsg: err.Error(),
		})
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// Last-login stamp is best effort and never blocks the login
	if err := s.directory.UpdateLastLogin(ctx, user.ID, sess.IssuedAt); err != nil {
		s.log.Warn("failed to update last login",
			zap.Int("user_id", user.ID),
			zap.Error(err))
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			UserID:   &user.ID,
			VisitID:  visit.ID,
			Action:   audit.ActionLoginAuditLag,
			Resource: "auth",
			Success:  false,
			ErrorMsg: err.Error(),
		})
	}

	s.maybeUpgradeHash(ctx, user, req.Password)

	// The session row exists for audit correlation, so losing it
	// degrades the trail but not the login
	rec := &repository.SessionRecord{
		UserID:           user.ID,
		TokenFingerprint: repository.TokenFingerprint(sess.Token),
		VisitID:          visit.ID,
		CreatedAt:        sess.IssuedAt,
		ExpiresAt:        sess.ExpiresAt,
	}
	if err := s.sessions.Record(ctx, rec); err != nil {
		s.log.Warn("failed to record session",
			zap.Int("user_id", user.ID),
			zap.Error(err))
	}

	// Audit log
	s.auditLogger.Log(&audit.Event{
		Level:    audit.LevelInfo,
		UserID:   &user.ID,
		VisitID:  visit.ID,
		Action:   audit.ActionLoginSuccess,
		Resource: "auth",
		Success:  true,
		Metadata: username,
	})
	s.auditLogger.Log(&audit.Event{
		Level:    audit.LevelInfo,
		UserID:   &user.ID,
		VisitID:  visit.ID,
		Action:   audit.ActionSessionCreated,
		Resource: "session",
		Success:  true,
		Metadata: fmt.Sprintf("expires_at=%s", sess.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")),
	})

	return &models.LoginResult{
		Identity:  sess.Identity(),
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// refuseLogin audits a refused attempt. Credential failures consume a
// lockout attempt; directory faults never do. The returned error
// unwraps to the generic credential error either way.
func (s *AuthService) refuseLogin(visit *Visit, username string, err error) error {
	var failure *auth.AuthFailure
	if !errors.As(err, &failure) {
		return err
	}

	if failure.Reason == auth.ReasonDirectoryError {
		s.log.Error("user directory unavailable", zap.Error(failure.Cause))
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelError,
			VisitID:  visit.ID,
			Action:   audit.ActionLoginDirectoryError,
			Resource: "auth",
			Success:  false,
			ErrorMsg: failure.Cause.Error(),
			Metadata: username,
		})
		return err
	}

	action := audit.ActionLoginBadPassword
	switch failure.Reason {
	case auth.ReasonUnknownUser:
		action = audit.ActionLoginUnknownUser
	case auth.ReasonInactive:
		action = audit.ActionLoginInactive
	}

	tripped := visit.Guard.RecordFailure()

	s.auditLogger.Log(&audit.Event{
		Level:    audit.LevelWarning,
		VisitID:  visit.ID,
		Action:   action,
		Resource: "auth",
		Success:  false,
		Metadata: username,
	})

	if tripped {
		s.log.Warn("visit locked out after repeated failures",
			zap.String("visit_id", visit.ID),
			zap.Int("failures", visit.Guard.Failures()))
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelCritical,
			VisitID:  visit.ID,
			Action:   audit.ActionLoginLockoutTripped,
			Resource: "auth",
			Success:  false,
			ErrorMsg: fmt.Sprintf("visit locked after %d failed attempts", visit.Guard.Failures()),
			Metadata: fmt.Sprintf("username=%s", username),
		})
	}

	return err
}

// maybeUpgradeHash rewrites a legacy or under-parameterized hash with
// the current scheme. Best effort: the login has already succeeded.
func (s *AuthService) maybeUpgradeHash(ctx context.Context, user *models.User, password string) {
	if !s.hasher.NeedsRehash(user.PasswordHash) {
		return
	}

	updater, ok := s.directory.(passwordUpdater)
	if !ok {
		return
	}

	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.log.Warn("failed to rehash password",
			zap.Int("user_id", user.ID),
			zap.Error(err))
		return
	}

	if err := updater.UpdatePassword(ctx, user.ID, newHash); err != nil {
		s.log.Warn("failed to store upgraded hash",
			zap.Int("user_id", user.ID),
			zap.Error(err))
	}
}

// IsAuthenticated is the session gate. It runs exactly one
// expiry-check-and-slide against the visit's session; expiry clears
// the session and revokes its trail row.
func (s *AuthService) IsAuthenticated(ctx context.Context, visit *Visit) bool {
	// Peek before the check so an expired session can still be
	// identified for the audit trail
	identity, had := visit.Session.Current()
	token, _ := visit.Session.Token()

	switch visit.Session.CheckAndSlide() {
	case session.StateValid:
		return true
	case session.StateExpired:
		if had {
			s.auditLogger.Log(&audit.Event{
				Level:    audit.LevelInfo,
				UserID:   &identity.UserID,
				VisitID:  visit.ID,
				Action:   audit.ActionSessionExpired,
				Resource: "session",
				Success:  true,
				Metadata: identity.Username,
			})
			if token != "" {
				if err := s.sessions.Revoke(ctx, repository.TokenFingerprint(token)); err != nil {
					s.log.Warn("failed to revoke expired session", zap.Error(err))
				}
			}
		}
		return false
	default:
		return false
	}
}

// CurrentIdentity returns the signed-in identity without touching the
// expiry clock
func (s *AuthService) CurrentIdentity(visit *Visit) (models.Identity, bool) {
	return visit.Session.Current()
}

// Logout closes the visit's session. Logging out twice is harmless.
func (s *AuthService) Logout(ctx context.Context, visit *Visit) {
	identity, had := visit.Session.Current()
	token, _ := visit.Session.Token()

	visit.Session.Invalidate()
	if !had {
		return
	}

	if token != "" {
		if err := s.sessions.Revoke(ctx, repository.TokenFingerprint(token)); err != nil {
			s.log.Warn("failed to revoke session",
				zap.Int("user_id", identity.UserID),
				zap.Error(err))
		}
	}

	s.auditLogger.Log(&audit.Event{
		Level:    audit.LevelInfo,
		UserID:   &identity.UserID,
		VisitID:  visit.ID,
		Action:   audit.ActionSessionLogout,
		Resource: "session",
		Success:  true,
		Metadata: identity.Username,
	})
}

// RequireRole gates an operation on a live session holding at least
// the given role and returns the acting identity
func (s *AuthService) RequireRole(ctx context.Context, visit *Visit, required models.Role) (models.Identity, error) {
	if !s.IsAuthenticated(ctx, visit) {
		return models.Identity{}, errors.ErrNotAuthenticated
	}

	identity, ok := visit.Session.Current()
	if !ok {
		return models.Identity{}, errors.ErrNotAuthenticated
	}

	if !identity.Role.AtLeast(required) {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			UserID:   &identity.UserID,
			VisitID:  visit.ID,
			Action:   audit.ActionUserDenied,
			Resource: "auth",
			Success:  false,
			Metadata: fmt.Sprintf("required_role=%s actual_role=%s", required, identity.Role),
		})
		return models.Identity{}, errors.ErrUnauthorized
	}

	return identity, nil
}

// RecentEvents returns the latest audit events. Reading the trail
// requires at least the analyst role.
func (s *AuthService) RecentEvents(ctx context.Context, visit *Visit, limit int) ([]*audit.Event, error) {
	if _, err := s.RequireRole(ctx, visit, models.RoleAnalyst); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.auditLogger.QueryLogs(audit.QueryFilters{Limit: limit})
}
