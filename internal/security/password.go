package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Argon2id parameters (OWASP recommendations)
	argon2Time      = 3
	argon2Memory    = 64 * 1024 // 64 MB
	argon2Threads   = 2
	argon2KeyLength = 32
	saltLength      = 16

	// Upper bound accepted when verifying against a stored hash,
	// so a corrupted parameter block cannot exhaust memory.
	maxVerifyMemory = 1 << 21 // 2 GB in KiB
)

type argon2Params struct {
	memory  uint32
	time    uint32
	threads uint8
}

type PasswordHasher struct {
	time      uint32
	memory    uint32
	threads   uint8
	keyLength uint32
}

func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{
		time:      argon2Time,
		memory:    argon2Memory,
		threads:   argon2Threads,
		keyLength: argon2KeyLength,
	}
}

// Hash generates a secure hash from password using Argon2id.
// Every call draws a fresh random salt, so hashing the same
// password twice yields different encodings.
func (ph *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		ph.time,
		ph.memory,
		ph.threads,
		ph.keyLength,
	)

	// Encode hash with parameters for verification
	encodedHash := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		ph.memory,
		ph.time,
		ph.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encodedHash, nil
}

// Verify reports whether password matches the stored hash.
// Malformed, truncated, or unknown-format input simply does not
// match; verification never returns an error. Legacy bcrypt hashes
// from the previous deployment are still accepted.
func (ph *PasswordHasher) Verify(password, encodedHash string) bool {
	if isBcryptHash(encodedHash) {
		return bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password)) == nil
	}

	params, salt, hash, ok := decodeArgon2Hash(encodedHash)
	if !ok {
		return false
	}

	testHash := argon2.IDKey(
		[]byte(password),
		salt,
		params.time,
		params.memory,
		params.threads,
		uint32(len(hash)),
	)

	// Use constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare(hash, testHash) == 1
}

// NeedsRehash reports whether a stored hash should be upgraded to the
// current Argon2id parameters. Callers invoke this after a successful
// Verify so legacy bcrypt entries migrate transparently.
func (ph *PasswordHasher) NeedsRehash(encodedHash string) bool {
	if isBcryptHash(encodedHash) {
		return true
	}

	params, _, hash, ok := decodeArgon2Hash(encodedHash)
	if !ok {
		return true
	}

	return params.memory != ph.memory ||
		params.time != ph.time ||
		params.threads != ph.threads ||
		uint32(len(hash)) != ph.keyLength
}

func isBcryptHash(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}

// decodeArgon2Hash parses a PHC-format Argon2id string. ok is false
// for anything that cannot be verified against.
func decodeArgon2Hash(encodedHash string) (argon2Params, []byte, []byte, bool) {
	var params argon2Params

	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, false
	}
	if version != argon2.Version {
		return params, nil, nil, false
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return params, nil, nil, false
	}
	if params.memory == 0 || params.memory > maxVerifyMemory || params.time == 0 || params.threads == 0 {
		return params, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return params, nil, nil, false
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return params, nil, nil, false
	}

	return params, salt, hash, true
}
