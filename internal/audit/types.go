package audit

import "time"

type LogLevel string

const (
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

// Action vocabulary. Failure reasons appear here and nowhere else;
// the user-facing surface collapses them into one generic message.
const (
	ActionLoginSuccess        = "LOGIN_SUCCESS"
	ActionLoginUnknownUser    = "LOGIN_UNKNOWN_USER"
	ActionLoginInactive       = "LOGIN_INACTIVE_ACCOUNT"
	ActionLoginBadPassword    = "LOGIN_BAD_PASSWORD"
	ActionLoginLockedOut      = "LOGIN_LOCKED_OUT"
	ActionLoginLockoutTripped = "LOGIN_LOCKOUT_TRIPPED"
	ActionLoginRateLimited    = "LOGIN_RATE_LIMITED"
	ActionLoginInvalidInput   = "LOGIN_INVALID_INPUT"
	ActionLoginDirectoryError = "LOGIN_DIRECTORY_ERROR"
	ActionLoginAuditLag       = "LOGIN_AUDIT_LAG"

	ActionSessionCreated      = "SESSION_CREATED"
	ActionSessionCreateFailed = "SESSION_CREATE_FAILED"
	ActionSessionExpired      = "SESSION_EXPIRED"
	ActionSessionLogout       = "SESSION_LOGOUT"

	ActionUserCreated       = "USER_CREATED"
	ActionUserEnabled       = "USER_ENABLED"
	ActionUserDisabled      = "USER_DISABLED"
	ActionUserRoleChanged   = "USER_ROLE_CHANGED"
	ActionUserPasswordReset = "USER_PASSWORD_RESET"
	ActionUserDenied        = "USER_ACTION_DENIED"

	ActionAdminBootstrapped = "ADMIN_BOOTSTRAPPED"
	ActionBackupCreated     = "BACKUP_CREATED"
	ActionBackupFailed      = "BACKUP_FAILED"
	ActionFailedLoginBurst  = "FAILED_LOGIN_BURST"
)

type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	UserID    *int      `json:"user_id,omitempty"`
	VisitID   string    `json:"visit_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Success   bool      `json:"success"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
}

type QueryFilters struct {
	StartTime    *time.Time
	EndTime      *time.Time
	UserID       *int
	Action       string
	ActionPrefix string
	Level        LogLevel
	Limit        int
}
