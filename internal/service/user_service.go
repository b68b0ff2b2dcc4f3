package service

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"sentinelgate/internal/audit"
	"sentinelgate/internal/models"
	"sentinelgate/internal/ratelimit"
	"sentinelgate/internal/security"
	"sentinelgate/pkg/errors"
	"sentinelgate/pkg/validator"
)

// userStore is the account persistence surface the service needs
type userStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	SetActive(ctx context.Context, userID int, active bool) error
	SetRole(ctx context.Context, userID int, role models.Role) error
	UpdatePasswordTx(tx *sql.Tx, userID int, passwordHash string) error
}

// txRunner executes a function inside one database transaction
type txRunner interface {
	Execute(ctx context.Context, fn func(*sql.Tx) error) error
}

// UserService carries the admin-side account operations. Every method
// runs behind the admin role gate on the caller's visit.
type UserService struct {
	users       userStore
	sessions    sessionTrail
	txManager   txRunner
	auth        *AuthService
	hasher      *security.PasswordHasher
	validator   *validator.Validator
	rateLimiter *ratelimit.RateLimiter
	auditLogger auditSink
	log         *zap.Logger
}

// NewUserService creates a new user management service
func NewUserService(
	users userStore,
	sessions sessionTrail,
	txManager txRunner,
	authService *AuthService,
	rateLimiter *ratelimit.RateLimiter,
	auditLogger auditSink,
	log *zap.Logger,
) *UserService {
	return &UserService{
		users:       users,
		sessions:    sessions,
		txManager:   txManager,
		auth:        authService,
		hasher:      security.NewPasswordHasher(),
		validator:   validator.New(),
		rateLimiter: rateLimiter,
		auditLogger: auditLogger,
		log:         log,
	}
}

// CreateUser provisions a new account
func (s *UserService) CreateUser(ctx context.Context, visit *Visit, req *models.CreateUserRequest) (*models.User, error) {
	actor, err := s.auth.RequireRole(ctx, visit, models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	// Rate limiting
	rateLimitKey := fmt.Sprintf("users:%d", actor.UserID)
	if err := s.rateLimiter.CheckLimit(rateLimitKey); err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   "USER_CREATE_RATE_LIMITED",
			Resource: "users",
			Success:  false,
		})
		return nil, err
	}

	// Validate input
	req.Username = s.validator.SanitizeString(req.Username)
	req.Email = s.validator.SanitizeString(req.Email)

	if err := s.validator.ValidateUsername(req.Username); err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   "USER_CREATE_INVALID_USERNAME",
			Resource: "users",
			Success:  false,
			ErrorMsg: err.Error(),
		})
		return nil, err
	}

	if err := s.validator.ValidateEmail(req.Email); err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   "USER_CREATE_INVALID_EMAIL",
			Resource: "users",
			Success:  false,
			ErrorMsg: err.Error(),
		})
		return nil, err
	}

	if err := s.validator.ValidatePassword(req.Password); err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   "USER_CREATE_WEAK_PASSWORD",
			Resource: "users",
			Success:  false,
			ErrorMsg: err.Error(),
		})
		return nil, err
	}

	role, err := models.ParseRole(string(req.Role))
	if err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   "USER_CREATE_INVALID_ROLE",
			Resource: "users",
			Success:  false,
			ErrorMsg: err.Error(),
		})
		return nil, err
	}

	// Check if user already exists
	if _, err := s.users.FindByUsername(ctx, req.Username); err == nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   "USER_CREATE_DUPLICATE",
			Resource: "users",
			Success:  false,
			ErrorMsg: "username already exists",
		})
		return nil, errors.ErrUserAlreadyExists
	}

	// Hash password
	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelError,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   "USER_CREATE_HASH_FAILED",
			Resource: "users",
			Success:  false,
			ErrorMsg: err.Error(),
		})
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// Create user
	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Role:         role,
		Active:       true,
	}

	if err := s.users.Create(ctx, user); err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelError,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   "USER_CREATE_DB_ERROR",
			Resource: "users",
			Success:  false,
			ErrorMsg: err.Error(),
		})
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// Audit log
	s.auditLogger.Log(&audit.Event{
		Level:    audit.LevelInfo,
		UserID:   &actor.UserID,
		VisitID:  visit.ID,
		Action:   audit.ActionUserCreated,
		Resource: "users",
		Success:  true,
		Metadata: fmt.Sprintf("target_id=%d username=%s role=%s", user.ID, user.Username, user.Role),
	})

	return user, nil
}

// ListUsers returns every account in the directory
func (s *UserService) ListUsers(ctx context.Context, visit *Visit) ([]*models.User, error) {
	actor, err := s.auth.RequireRole(ctx, visit, models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	users, err := s.users.List(ctx)
	if err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelError,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   "USER_LIST_FAILED",
			Resource: "users",
			Success:  false,
			ErrorMsg: err.Error(),
		})
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return users, nil
}

// SetUserActive enables or disables an account. Admins cannot disable
// themselves.
func (s *UserService) SetUserActive(ctx context.Context, visit *Visit, userID int, active bool) error {
	actor, err := s.auth.RequireRole(ctx, visit, models.RoleAdmin)
	if err != nil {
		return err
	}

	if userID == actor.UserID && !active {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   audit.ActionUserDenied,
			Resource: "users",
			Success:  false,
			Metadata: "self_disable",
		})
		return errors.NewAppError(errors.ErrInvalidInput, "cannot disable your own account", 400)
	}

	target, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.users.SetActive(ctx, userID, active); err != nil {
		return fmt.Errorf("failed to update account state: %w", err)
	}

	action := audit.ActionUserEnabled
	if !active {
		action = audit.ActionUserDisabled

		// Disabling revokes the account's open session rows in the
		// audit trail. A session already live on another visit keeps
		// its identity snapshot until its sliding window lapses.
		if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
			s.log.Warn("failed to revoke sessions for disabled user",
				zap.Int("user_id", userID),
				zap.Error(err))
		}
	}

	s.auditLogger.Log(&audit.Event{
		Level:    audit.LevelInfo,
		UserID:   &actor.UserID,
		VisitID:  visit.ID,
		Action:   action,
		Resource: "users",
		Success:  true,
		Metadata: fmt.Sprintf("target_id=%d username=%s", target.ID, target.Username),
	})

	return nil
}

// SetUserRole changes an account's role. Admins cannot change their
// own role.
func (s *UserService) SetUserRole(ctx context.Context, visit *Visit, userID int, roleName string) error {
	actor, err := s.auth.RequireRole(ctx, visit, models.RoleAdmin)
	if err != nil {
		return err
	}

	if userID == actor.UserID {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   audit.ActionUserDenied,
			Resource: "users",
			Success:  false,
			Metadata: "self_role_change",
		})
		return errors.NewAppError(errors.ErrInvalidInput, "cannot change your own role", 400)
	}

	role, err := models.ParseRole(roleName)
	if err != nil {
		return err
	}

	target, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.users.SetRole(ctx, userID, role); err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	s.auditLogger.Log(&audit.Event{
		Level:    audit.LevelInfo,
		UserID:   &actor.UserID,
		VisitID:  visit.ID,
		Action:   audit.ActionUserRoleChanged,
		Resource: "users",
		Success:  true,
		Metadata: fmt.Sprintf("target_id=%d username=%s role=%s", target.ID, target.Username, role),
	})

	return nil
}

// ResetPassword rewrites an account's password hash and revokes the
// account's session rows in one transaction. Resetting your own
// password is allowed.
func (s *UserService) ResetPassword(ctx context.Context, visit *Visit, userID int, newPassword string) error {
	actor, err := s.auth.RequireRole(ctx, visit, models.RoleAdmin)
	if err != nil {
		return err
	}

	// Rate limiting
	rateLimitKey := fmt.Sprintf("users:%d", actor.UserID)
	if err := s.rateLimiter.CheckLimit(rateLimitKey); err != nil {
		return err
	}

	// Validate input
	if err := s.validator.ValidatePassword(newPassword); err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelWarning,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   "USER_RESET_WEAK_PASSWORD",
			Resource: "users",
			Success:  false,
			ErrorMsg: err.Error(),
		})
		return err
	}

	target, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	// Hash password
	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	// New hash and session revocation land together or not at all
	err = s.txManager.Execute(ctx, func(tx *sql.Tx) error {
		if err := s.users.UpdatePasswordTx(tx, userID, passwordHash); err != nil {
			return err
		}
		return s.sessions.RevokeAllForUserTx(tx, userID)
	})
	if err != nil {
		s.auditLogger.Log(&audit.Event{
			Level:    audit.LevelError,
			UserID:   &actor.UserID,
			VisitID:  visit.ID,
			Action:   "USER_RESET_TX_FAILED",
			Resource: "users",
			Success:  false,
			ErrorMsg: err.Error(),
		})
		return fmt.Errorf("failed to reset password: %w", err)
	}

	s.auditLogger.Log(&audit.Event{
		Level:    audit.LevelInfo,
		UserID:   &actor.UserID,
		VisitID:  visit.ID,
		Action:   audit.ActionUserPasswordReset,
		Resource: "users",
		Success:  true,
		Metadata: fmt.Sprintf("target_id=%d username=%s", target.ID, target.Username),
	})

	return nil
}
