package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"sentinelgate/internal/audit"
	"sentinelgate/internal/security"
	"sentinelgate/pkg/errors"
)

type Manager struct {
	db            *sql.DB
	encryptor     *security.Encryptor
	auditLogger   *audit.Logger
	log           *zap.Logger
	backupDir     string
	retentionDays int
}

// NewManager creates a new backup manager
func NewManager(db *sql.DB, encryptor *security.Encryptor, auditLogger *audit.Logger, log *zap.Logger, backupDir string, retentionDays int) (*Manager, error) {
	// Ensure backup directory exists with secure permissions
	if err := os.MkdirAll(backupDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &Manager{
		db:            db,
		encryptor:     encryptor,
		auditLogger:   auditLogger,
		log:           log,
		backupDir:     backupDir,
		retentionDays: retentionDays,
	}, nil
}

// CreateBackup snapshots the auth database into an encrypted,
// compressed archive with a checksum sidecar.
func (m *Manager) CreateBackup() (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	backupFileName := fmt.Sprintf("backup_%s.db", timestamp)
	backupPath := filepath.Join(m.backupDir, backupFileName)

	// Use VACUUM INTO to create backup
	vacuumQuery := fmt.Sprintf("VACUUM INTO '%s'", backupPath)
	if _, err := m.db.Exec(vacuumQuery); err != nil {
		return "", m.fail(fmt.Errorf("%w: vacuum failed: %v", errors.ErrBackupFailed, err))
	}

	// Encrypt and compress the backup
	encryptedPath := backupPath + ".enc.gz"
	if err := m.encryptAndCompressFile(backupPath, encryptedPath); err != nil {
		os.Remove(backupPath)
		return "", m.fail(fmt.Errorf("%w: %v", errors.ErrBackupFailed, err))
	}

	// Remove unencrypted backup
	os.Remove(backupPath)

	// Set secure file permissions
	if err := os.Chmod(encryptedPath, 0600); err != nil {
		return "", m.fail(fmt.Errorf("%w: chmod failed: %v", errors.ErrBackupFailed, err))
	}

	// Create checksum file
	if err := m.createChecksumFile(encryptedPath); err != nil {
		return "", m.fail(fmt.Errorf("%w: checksum failed: %v", errors.ErrBackupFailed, err))
	}

	m.log.Info("backup created", zap.String("path", encryptedPath))
	m.auditLogger.Log(&audit.Event{
		Level:    audit.LevelInfo,
		Action:   audit.ActionBackupCreated,
		Resource: "backup",
		Success:  true,
		Metadata: encryptedPath,
	})

	return encryptedPath, nil
}

func (m *Manager) fail(err error) error {
	m.log.Error("backup failed", zap.Error(err))
	m.auditLogger.Log(&audit.Event{
		Level:    audit.LevelError,
		Action:   audit.ActionBackupFailed,
		Resource: "backup",
		Success:  false,
		ErrorMsg: err.Error(),
	})
	return err
}

// encryptAndCompressFile encrypts and compresses a file
func (m *Manager) encryptAndCompressFile(srcPath, dstPath string) error {
	plaintext, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}

	ciphertext, err := m.encryptor.EncryptBytes(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt backup: %w", err)
	}

	// Create destination file with compression
	dstFile, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	gzWriter := gzip.NewWriter(dstFile)
	defer gzWriter.Close()

	if _, err := gzWriter.Write(ciphertext); err != nil {
		return fmt.Errorf("failed to write compressed data: %w", err)
	}

	return nil
}

// createChecksumFile creates SHA-256 checksum file
func (m *Manager) createChecksumFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	hash := sha256.Sum256(data)
	checksumPath := filePath + ".sha256"

	return os.WriteFile(checksumPath, []byte(fmt.Sprintf("%x", hash)), 0600)
}

// VerifyBackup verifies backup integrity
func (m *Manager) VerifyBackup(backupPath string) error {
	checksumPath := backupPath + ".sha256"

	// Read stored checksum
	storedChecksum, err := os.ReadFile(checksumPath)
	if err != nil {
		return fmt.Errorf("failed to read checksum file: %w", err)
	}

	// Calculate current checksum
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	hash := sha256.Sum256(data)
	currentChecksum := fmt.Sprintf("%x", hash)

	if currentChecksum != string(storedChecksum) {
		return fmt.Errorf("checksum mismatch: backup file may be corrupted")
	}

	return nil
}

// RestoreBackup decrypts an archive back into a plain database file
// at targetPath. It never touches the live database; swapping files
// is an operator action done with the service stopped.
func (m *Manager) RestoreBackup(backupPath, targetPath string) error {
	if err := m.VerifyBackup(backupPath); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrRestoreFailed, err)
	}

	compressed, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("%w: failed to read backup: %v", errors.ErrRestoreFailed, err)
	}

	gzReader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("%w: failed to open archive: %v", errors.ErrRestoreFailed, err)
	}
	defer gzReader.Close()

	ciphertext, err := io.ReadAll(gzReader)
	if err != nil {
		return fmt.Errorf("%w: failed to decompress: %v", errors.ErrRestoreFailed, err)
	}

	plaintext, err := m.encryptor.DecryptBytes(ciphertext)
	if err != nil {
		return fmt.Errorf("%w: failed to decrypt: %v", errors.ErrRestoreFailed, err)
	}

	if err := os.WriteFile(targetPath, plaintext, 0600); err != nil {
		return fmt.Errorf("%w: failed to write restored database: %v", errors.ErrRestoreFailed, err)
	}

	return nil
}

// ListBackups returns the encrypted archives currently on disk,
// newest first.
func (m *Manager) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == ".gz" {
			backups = append(backups, filepath.Join(m.backupDir, entry.Name()))
		}
	}

	// Names embed the timestamp, so reverse lexical order is newest first
	for i, j := 0, len(backups)-1; i < j; i, j = i+1, j-1 {
		backups[i], backups[j] = backups[j], backups[i]
	}

	return backups, nil
}

// CleanOldBackups removes old backups based on retention policy
func (m *Manager) CleanOldBackups() error {
	cutoffTime := time.Now().AddDate(0, 0, -m.retentionDays)

	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return fmt.Errorf("failed to read backup directory: %w", err)
	}

	deletedCount := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		// Delete old backups
		if info.ModTime().Before(cutoffTime) {
			filePath := filepath.Join(m.backupDir, entry.Name())
			if err := os.Remove(filePath); err != nil {
				m.log.Warn("failed to delete old backup", zap.String("path", filePath), zap.Error(err))
				continue
			}
			deletedCount++
		}
	}

	if deletedCount > 0 {
		m.log.Info("cleaned old backups", zap.Int("deleted", deletedCount))
	}

	return nil
}

// StartAutomatedBackups starts automated backup scheduler
func (m *Manager) StartAutomatedBackups(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("automated backups started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			m.log.Info("stopping automated backups")
			return
		case <-ticker.C:
			if _, err := m.CreateBackup(); err != nil {
				m.log.Error("scheduled backup failed", zap.Error(err))
			}

			if err := m.CleanOldBackups(); err != nil {
				m.log.Error("backup cleanup failed", zap.Error(err))
			}
		}
	}
}
