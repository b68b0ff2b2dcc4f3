package auth

import (
	"context"

	"sentinelgate/internal/models"
	"sentinelgate/internal/security"
	"sentinelgate/pkg/errors"
)

// FailureReason says why an authentication attempt failed. Reasons
// feed the audit trail only; every one of them surfaces to the user
// as the same generic invalid-credentials message.
type FailureReason string

const (
	ReasonUnknownUser    FailureReason = "unknown_user"
	ReasonInactive       FailureReason = "inactive_account"
	ReasonBadPassword    FailureReason = "bad_password"
	ReasonDirectoryError FailureReason = "directory_error"
)

// AuthFailure carries the internal reason for a refused login. Its
// message and unwrap target are the generic credential error, so
// nothing outside the audit path can tell the reasons apart.
type AuthFailure struct {
	Reason FailureReason

	// Cause holds the infrastructure error behind
	// ReasonDirectoryError. Nil for credential reasons.
	Cause error
}

func (f *AuthFailure) Error() string {
	return errors.ErrInvalidCredentials.Error()
}

func (f *AuthFailure) Unwrap() error {
	return errors.ErrInvalidCredentials
}

// Fallback decoy when hashing one at startup fails. Burning a verify
// against it keeps the unknown-user path as slow as a real check.
const staticDecoyHash = "$argon2id$v=19$m=65536,t=3,p=2$c29tZXNhbHQ$c29tZWhhc2g"

// Authenticator runs the credential checks for a login attempt in a
// fixed order: existence and active status are settled before the
// password is ever verified.
type Authenticator struct {
	directory UserDirectory
	hasher    *security.PasswordHasher
	decoyHash string
}

// NewAuthenticator creates an authenticator over the given directory
func NewAuthenticator(directory UserDirectory, hasher *security.PasswordHasher) *Authenticator {
	decoy, err := hasher.Hash("decoy-credential-timing-equalizer")
	if err != nil {
		decoy = staticDecoyHash
	}

	return &Authenticator{
		directory: directory,
		hasher:    hasher,
		decoyHash: decoy,
	}
}

// Authenticate verifies a username/password pair against the
// directory. On success it returns the user record; the caller owns
// session creation and the last-login stamp. On failure it returns
// an *AuthFailure whose reason is for audit use only.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := a.directory.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			// Burn a verification so response timing does not
			// reveal whether the username exists
			a.hasher.Verify(password, a.decoyHash)
			return nil, &AuthFailure{Reason: ReasonUnknownUser}
		}
		return nil, &AuthFailure{Reason: ReasonDirectoryError, Cause: err}
	}

	// Inactive accounts are refused before the password is looked at
	if !user.Active {
		return nil, &AuthFailure{Reason: ReasonInactive}
	}

	if !a.hasher.Verify(password, user.PasswordHash) {
		return nil, &AuthFailure{Reason: ReasonBadPassword}
	}

	return user, nil
}
