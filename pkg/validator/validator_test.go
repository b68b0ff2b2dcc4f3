package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sentinelgate/pkg/errors"
)

// TestValidateUsername tests the username rules, including the SQL
// keyword screen.
func TestValidateUsername(t *testing.T) {
	v := New()

	valid := []string{"alice", "bob_smith", "User123", "a_b_c_1"}
	for _, username := range valid {
		require.NoError(t, v.ValidateUsername(username), "%q should be a valid username", username)
	}

	invalid := []struct {
		name     string
		username string
	}{
		{"too short", "ab"},
		{"too long", strings.Repeat("a", 21)},
		{"illegal characters", "bad!name"},
		{"hyphen", "bad-name"},
		{"spaces", "bad name"},
		{"sql keyword drop", "drop_table"},
		{"sql keyword select", "select123"},
		{"sql comment", "ab--cd"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateUsername(tc.username)
			require.True(t, errors.Is(err, errors.ErrInvalidUsername), "%q should be refused", tc.username)
		})
	}
}

// TestValidateEmail tests the email format check.
func TestValidateEmail(t *testing.T) {
	v := New()

	require.NoError(t, v.ValidateEmail("alice@example.com"), "a plain address should pass")
	require.NoError(t, v.ValidateEmail("a.b+c@sub.example.co"), "tags and subdomains should pass")

	invalid := []string{
		"",
		"not-an-email",
		"missing@tld",
		"@example.com",
		"spaces in@example.com",
		strings.Repeat("a", 250) + "@example.com",
	}
	for _, email := range invalid {
		err := v.ValidateEmail(email)
		require.True(t, errors.Is(err, errors.ErrInvalidEmail), "%q should be refused", email)
	}
}

// TestValidatePassword tests the strength rules for new credentials.
func TestValidatePassword(t *testing.T) {
	v := New()

	require.NoError(t, v.ValidatePassword("Str0ng-Enough-Pass!"), "a strong password should pass")

	invalid := []struct {
		name     string
		password string
	}{
		{"too short", "Sh0rt-pw!"},
		{"too long", strings.Repeat("Aa1!", 33)},
		{"no uppercase", "all-lower-case-123!"},
		{"no lowercase", "ALL-UPPER-CASE-123!"},
		{"no digit", "No-Digits-In-Here!"},
		{"no special", "NoSpecialChars12345"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidatePassword(tc.password)
			require.True(t, errors.Is(err, errors.ErrWeakPassword), "%q should be refused", tc.password)
		})
	}
}

// TestValidateLoginInput tests that only presence is enforced at
// login; strength rules never apply to existing credentials.
func TestValidateLoginInput(t *testing.T) {
	v := New()

	require.NoError(t, v.ValidateLoginInput("alice", "pw"), "any non-empty pair should pass")

	for _, tc := range []struct{ username, password string }{
		{"", "secret"},
		{"   ", "secret"},
		{"alice", ""},
	} {
		err := v.ValidateLoginInput(tc.username, tc.password)
		require.True(t, errors.Is(err, errors.ErrInvalidInput), "blank credentials should be refused")
	}
}

// TestSanitizeString tests whitespace trimming and null byte removal.
func TestSanitizeString(t *testing.T) {
	v := New()

	require.Equal(t, "alice", v.SanitizeString("  alice  "), "whitespace should be trimmed")
	require.Equal(t, "alice", v.SanitizeString("ali\x00ce"), "null bytes should be stripped")
	require.Equal(t, "", v.SanitizeString(" \t\n "), "pure whitespace should collapse to empty")
}
