package auth

import (
	"context"
	"time"

	"sentinelgate/internal/models"
)

// UserDirectory is the slice of the user store that authentication
// needs. The SQL repository implements it; tests supply fakes.
type UserDirectory interface {
	// FindByUsername returns the user record for a username, or
	// errors.ErrUserNotFound when no such user exists. Any other
	// error is an infrastructure fault.
	FindByUsername(ctx context.Context, username string) (*models.User, error)

	// UpdateLastLogin stamps the user's last successful login.
	// Callers treat failures as audit lag, never as login failure.
	UpdateLastLogin(ctx context.Context, userID int, at time.Time) error
}
