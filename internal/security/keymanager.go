package security

import (
	"crypto/sha256"
)

// KeyManager holds the two key materials the application needs: the
// SQLCipher passphrase and the derived backup encryption key.
type KeyManager struct {
	dbPassphrase string
	backupKey    []byte
}

// NewKeyManager creates a key manager from the configured key strings
func NewKeyManager(dbPassphrase, backupKeyStr string) *KeyManager {
	return &KeyManager{
		dbPassphrase: dbPassphrase,
		backupKey:    deriveKey(backupKeyStr),
	}
}

// DBPassphrase returns the SQLCipher passphrase for the connection DSN
func (km *KeyManager) DBPassphrase() string {
	return km.dbPassphrase
}

// BackupKey returns the 32-byte AES key for backup encryption
func (km *KeyManager) BackupKey() []byte {
	return km.backupKey
}

// deriveKey derives a 32-byte key from a string using SHA-256
func deriveKey(keyStr string) []byte {
	hash := sha256.Sum256([]byte(keyStr))
	return hash[:]
}
