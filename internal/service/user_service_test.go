package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sentinelgate/internal/audit"
	"sentinelgate/internal/auth"
	"sentinelgate/internal/models"
	"sentinelgate/internal/ratelimit"
	"sentinelgate/internal/session"
	"sentinelgate/pkg/errors"
)

const strongPassword = "Brand-New-Pass-77!"

// Account management surface of fakeUsers. The directory surface lives
// next to the login tests.

func (f *fakeUsers) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.ID = f.nextID
	f.nextID++
	clone := *user
	f.users[user.Username] = &clone
	return nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id int) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ID == id {
			clone := *user
			return &clone, nil
		}
	}
	return nil, errors.ErrUserNotFound
}

func (f *fakeUsers) List(ctx context.Context) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.User, 0, len(f.users))
	for _, user := range f.users {
		clone := *user
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeUsers) SetActive(ctx context.Context, userID int, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ID == userID {
			user.Active = active
			return nil
		}
	}
	return errors.ErrUserNotFound
}

func (f *fakeUsers) SetRole(ctx context.Context, userID int, role models.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ID == userID {
			user.Role = role
			return nil
		}
	}
	return errors.ErrUserNotFound
}

func (f *fakeUsers) UpdatePasswordTx(tx *sql.Tx, userID int, passwordHash string) error {
	return f.UpdatePassword(context.Background(), userID, passwordHash)
}

// fakeTx satisfies txRunner without a database. The callback runs with
// a nil transaction handle, which the in-memory store ignores.
type fakeTx struct {
	runs    int
	execErr error
}

func (x *fakeTx) Execute(ctx context.Context, fn func(*sql.Tx) error) error {
	x.runs++
	if x.execErr != nil {
		return x.execErr
	}
	return fn(nil)
}

type userFixture struct {
	userSvc *UserService
	authSvc *AuthService
	users   *fakeUsers
	trail   *fakeTrail
	sink    *fakeSink
	tx      *fakeTx
	clock   *fakeClock
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	users := newFakeUsers(t)
	trail := &fakeTrail{}
	sink := &fakeSink{}
	tx := &fakeTx{}
	authSvc := NewAuthService(users, trail, ratelimit.NewRateLimiter(1000, 1000), sink, zap.NewNop())
	userSvc := NewUserService(users, trail, tx, authSvc, ratelimit.NewRateLimiter(1000, 1000), sink, zap.NewNop())
	return &userFixture{userSvc: userSvc, authSvc: authSvc, users: users, trail: trail, sink: sink, tx: tx, clock: newFakeClock()}
}

func (fx *userFixture) newVisit(id string) *Visit {
	return &Visit{
		ID:      id,
		Session: session.NewStore(30*time.Minute, session.WithClock(fx.clock.Now)),
		Guard:   auth.NewAttemptGuard(5),
	}
}

func (fx *userFixture) signIn(t *testing.T, username string) *Visit {
	t.Helper()
	visit := fx.newVisit("visit-" + username)
	_, err := fx.authSvc.Login(context.Background(), visit, &models.LoginRequest{Username: username, Password: testPassword})
	require.NoError(t, err, "fixture login should succeed")
	return visit
}

// TestUserService_CreateUser tests that an admin can provision an
// account that is immediately able to sign in.
func TestUserService_CreateUser(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	adminVisit := fx.signIn(t, "alice")

	created, err := fx.userSvc.CreateUser(ctx, adminVisit, &models.CreateUserRequest{
		Username: "nina",
		Email:    "nina@example.com",
		Password: strongPassword,
		Role:     models.RoleAnalyst,
	})
	require.NoError(t, err, "an admin should create accounts")
	require.Equal(t, 5, created.ID, "the new account should get the next ID")
	require.True(t, created.Active, "new accounts start active")
	require.True(t, strings.HasPrefix(created.PasswordHash, "$argon2id$"), "the password should be stored hashed")

	event := fx.sink.last(audit.ActionUserCreated)
	require.NotNil(t, event, "the creation should be audited")
	require.Equal(t, "target_id=5 username=nina role=analyst", event.Metadata, "the event should describe the account")

	_, err = fx.authSvc.Login(ctx, fx.newVisit("visit-nina"), &models.LoginRequest{Username: "nina", Password: strongPassword})
	require.NoError(t, err, "the new account should be able to sign in")
}

// TestUserService_CreateUserRequiresAdmin tests that the admin gate
// holds for viewers and anonymous visits alike.
func TestUserService_CreateUserRequiresAdmin(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()

	req := &models.CreateUserRequest{Username: "nina", Email: "nina@example.com", Password: strongPassword, Role: models.RoleViewer}

	viewerVisit := fx.signIn(t, "victor")
	_, err := fx.userSvc.CreateUser(ctx, viewerVisit, req)
	require.True(t, errors.Is(err, errors.ErrUnauthorized), "a viewer should not create accounts")

	_, err = fx.userSvc.CreateUser(ctx, fx.newVisit("visit-empty"), req)
	require.True(t, errors.Is(err, errors.ErrNotAuthenticated), "an anonymous visit should not create accounts")

	_, err = fx.users.FindByUsername(ctx, "nina")
	require.True(t, errors.Is(err, errors.ErrUserNotFound), "no account should have been created")
}

// TestUserService_CreateUserValidation tests the rejection paths for
// malformed account requests.
func TestUserService_CreateUserValidation(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	adminVisit := fx.signIn(t, "alice")

	cases := []struct {
		name string
		req  models.CreateUserRequest
		want error
	}{
		{"short username", models.CreateUserRequest{Username: "x", Email: "x@example.com", Password: strongPassword, Role: models.RoleViewer}, errors.ErrInvalidUsername},
		{"sql keyword in username", models.CreateUserRequest{Username: "drop_table", Email: "d@example.com", Password: strongPassword, Role: models.RoleViewer}, errors.ErrInvalidUsername},
		{"bad email", models.CreateUserRequest{Username: "nina", Email: "not-an-email", Password: strongPassword, Role: models.RoleViewer}, errors.ErrInvalidEmail},
		{"weak password", models.CreateUserRequest{Username: "nina", Email: "nina@example.com", Password: "short", Role: models.RoleViewer}, errors.ErrWeakPassword},
		{"unknown role", models.CreateUserRequest{Username: "nina", Email: "nina@example.com", Password: strongPassword, Role: models.Role("superuser")}, errors.ErrInvalidRole},
		{"duplicate username", models.CreateUserRequest{Username: "alice", Email: "alice2@example.com", Password: strongPassword, Role: models.RoleViewer}, errors.ErrUserAlreadyExists},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.userSvc.CreateUser(ctx, adminVisit, &tc.req)
			require.True(t, errors.Is(err, tc.want), "the request should be refused for the right reason")
		})
	}

	users, err := fx.users.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 4, "no refused request should have created an account")
}

// TestUserService_ListUsers tests the directory listing behind the
// admin gate.
func TestUserService_ListUsers(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	adminVisit := fx.signIn(t, "alice")

	users, err := fx.userSvc.ListUsers(ctx, adminVisit)
	require.NoError(t, err, "an admin should list accounts")
	require.Len(t, users, 4, "all seeded accounts should be returned")
	require.Equal(t, "alice", users[0].Username, "accounts should come back in ID order")

	viewerVisit := fx.signIn(t, "victor")
	_, err = fx.userSvc.ListUsers(ctx, viewerVisit)
	require.True(t, errors.Is(err, errors.ErrUnauthorized), "a viewer should not list accounts")
}

// TestUserService_SelfLockoutRefused tests that admins cannot disable
// their own account or change their own role.
func TestUserService_SelfLockoutRefused(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	adminVisit := fx.signIn(t, "alice")

	err := fx.userSvc.SetUserActive(ctx, adminVisit, 1, false)
	require.True(t, errors.Is(err, errors.ErrInvalidInput), "disabling your own account should be refused")
	target, err := fx.users.GetByID(ctx, 1)
	require.NoError(t, err)
	require.True(t, target.Active, "the account should stay active")
	require.NotContains(t, fx.trail.revokedUsers, 1, "no sessions should be revoked")

	err = fx.userSvc.SetUserRole(ctx, adminVisit, 1, "viewer")
	require.True(t, errors.Is(err, errors.ErrInvalidInput), "changing your own role should be refused")
	target, err = fx.users.GetByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, target.Role, "the role should stay put")

	require.Equal(t, 2, fx.sink.count(audit.ActionUserDenied), "both refusals should be audited")
	denied := fx.sink.last(audit.ActionUserDenied)
	require.Equal(t, "self_role_change", denied.Metadata, "the refusal should say what was attempted")

	require.NoError(t, fx.userSvc.SetUserActive(ctx, adminVisit, 1, true), "self-targeting is only refused for disabling")
}

// TestUserService_DisableRevokesSessions tests that disabling an
// account revokes its session rows and blocks fresh logins, while a
// session already live ages out on its own.
func TestUserService_DisableRevokesSessions(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	adminVisit := fx.signIn(t, "alice")
	victorVisit := fx.signIn(t, "victor")

	require.NoError(t, fx.userSvc.SetUserActive(ctx, adminVisit, 2, false), "disabling another account should succeed")

	target, err := fx.users.GetByID(ctx, 2)
	require.NoError(t, err)
	require.False(t, target.Active, "the account should be disabled")
	require.Contains(t, fx.trail.revokedUsers, 2, "open session rows should be revoked")
	disabled := fx.sink.last(audit.ActionUserDisabled)
	require.NotNil(t, disabled, "the disable should be audited")
	require.Equal(t, "target_id=2 username=victor", disabled.Metadata, "the event should name the target")

	require.True(t, fx.authSvc.IsAuthenticated(ctx, victorVisit), "a session already live keeps its snapshot until expiry")

	_, err = fx.authSvc.Login(ctx, fx.newVisit("visit-3"), &models.LoginRequest{Username: "victor", Password: testPassword})
	require.True(t, errors.Is(err, errors.ErrInvalidCredentials), "a fresh login on a disabled account should be refused")

	require.NoError(t, fx.userSvc.SetUserActive(ctx, adminVisit, 2, true), "re-enabling should succeed")
	target, err = fx.users.GetByID(ctx, 2)
	require.NoError(t, err)
	require.True(t, target.Active, "the account should be active again")
	require.Equal(t, 1, fx.sink.count(audit.ActionUserEnabled), "the enable should be audited")
}

// TestUserService_SetUserRole tests role changes, including that an
// open session keeps the role it signed in with.
func TestUserService_SetUserRole(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	adminVisit := fx.signIn(t, "alice")
	victorVisit := fx.signIn(t, "victor")

	require.NoError(t, fx.userSvc.SetUserRole(ctx, adminVisit, 2, "analyst"), "changing another account's role should succeed")
	target, err := fx.users.GetByID(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, models.RoleAnalyst, target.Role, "the directory should hold the new role")
	changed := fx.sink.last(audit.ActionUserRoleChanged)
	require.NotNil(t, changed, "the change should be audited")
	require.Equal(t, "target_id=2 username=victor role=analyst", changed.Metadata, "the event should carry the new role")

	_, err = fx.authSvc.RequireRole(ctx, victorVisit, models.RoleAnalyst)
	require.True(t, errors.Is(err, errors.ErrUnauthorized), "an open session should keep the role it signed in with")

	fx.authSvc.Logout(ctx, victorVisit)
	_, err = fx.authSvc.Login(ctx, victorVisit, &models.LoginRequest{Username: "victor", Password: testPassword})
	require.NoError(t, err, "re-login should succeed")
	_, err = fx.authSvc.RequireRole(ctx, victorVisit, models.RoleAnalyst)
	require.NoError(t, err, "the next login should pick up the new role")

	require.True(t, errors.Is(fx.userSvc.SetUserRole(ctx, adminVisit, 2, "superuser"), errors.ErrInvalidRole), "an unknown role name should be refused")
	require.True(t, errors.Is(fx.userSvc.SetUserRole(ctx, adminVisit, 99, "viewer"), errors.ErrUserNotFound), "an unknown account should be refused")
}

// TestUserService_ResetPassword tests that a reset rewrites the hash
// and revokes sessions in one transaction, and that self-reset is
// allowed.
func TestUserService_ResetPassword(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	adminVisit := fx.signIn(t, "alice")

	require.NoError(t, fx.userSvc.ResetPassword(ctx, adminVisit, 2, strongPassword), "resetting another account should succeed")
	require.Equal(t, 1, fx.tx.runs, "hash rewrite and revocation should share one transaction")
	require.True(t, strings.HasPrefix(fx.users.rehashedFor(2), "$argon2id$"), "the new hash should use the current scheme")
	require.Contains(t, fx.trail.revokedUsers, 2, "the account's session rows should be revoked")
	reset := fx.sink.last(audit.ActionUserPasswordReset)
	require.NotNil(t, reset, "the reset should be audited")
	require.Equal(t, "target_id=2 username=victor", reset.Metadata, "the event should name the target")

	_, err := fx.authSvc.Login(ctx, fx.newVisit("visit-fresh"), &models.LoginRequest{Username: "victor", Password: strongPassword})
	require.NoError(t, err, "the new password should work")

	_, err = fx.authSvc.Login(ctx, fx.newVisit("visit-stale"), &models.LoginRequest{Username: "victor", Password: testPassword})
	require.True(t, errors.Is(err, errors.ErrInvalidCredentials), "the old password should be dead")

	require.NoError(t, fx.userSvc.ResetPassword(ctx, adminVisit, 1, strongPassword), "resetting your own password is allowed")

	err = fx.userSvc.ResetPassword(ctx, adminVisit, 2, "short")
	require.True(t, errors.Is(err, errors.ErrWeakPassword), "a weak replacement should be refused")
}

// TestUserService_ResetPasswordTxFailure tests that a failed
// transaction leaves the account untouched.
func TestUserService_ResetPasswordTxFailure(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	adminVisit := fx.signIn(t, "alice")

	fx.tx.execErr = fmt.Errorf("disk I/O error")
	err := fx.userSvc.ResetPassword(ctx, adminVisit, 2, strongPassword)
	require.Error(t, err, "a failed transaction should surface")
	require.Equal(t, 1, fx.sink.count("USER_RESET_TX_FAILED"), "the failure should be audited")
	require.Empty(t, fx.users.rehashedFor(2), "the stored hash should be untouched")
	require.NotContains(t, fx.trail.revokedUsers, 2, "no sessions should have been revoked")
}
