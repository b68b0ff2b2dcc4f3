package models

import (
	"time"

	"sentinelgate/pkg/errors"
)

// Role determines which console pages a user may open.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

// ParseRole validates and normalizes a role string
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleAnalyst, RoleViewer:
		return Role(s), nil
	}
	return "", errors.ErrInvalidRole
}

func (r Role) String() string {
	return string(r)
}

var roleRank = map[Role]int{
	RoleViewer:  1,
	RoleAnalyst: 2,
	RoleAdmin:   3,
}

// AtLeast reports whether the role grants at least the given level
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// CanManageUsers reports whether the role may open the user management page
func (r Role) CanManageUsers() bool {
	return r.AtLeast(RoleAdmin)
}

// CanViewAudit reports whether the role may read the audit trail
func (r Role) CanViewAudit() bool {
	return r.AtLeast(RoleAnalyst)
}

type User struct {
	ID           int        `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // Never expose in JSON
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	Active       bool       `json:"active"`
}

// Identity is the snapshot of a user handed to pages after login.
// It is fixed at session creation; later role or status changes do
// not alter a live session.
type Identity struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResult struct {
	Identity  Identity  `json:"identity"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
