package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnsureAdminUser seeds the first administrator when the directory is
// empty. The caller supplies an already-hashed password; nothing here
// touches plaintext. Returns true when a user was created.
func EnsureAdminUser(ctx context.Context, db *sql.DB, username, email, passwordHash string) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count users: %w", err)
	}

	if count > 0 {
		return false, nil
	}

	now := time.Now()
	_, err := db.ExecContext(ctx, `
        INSERT INTO users (username, email, password_hash, role, created_at, updated_at, active)
        VALUES (?, ?, ?, 'admin', ?, ?, 1)
    `, username, email, passwordHash, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to seed admin user: %w", err)
	}

	return true, nil
}
