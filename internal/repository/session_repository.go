package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// SessionRecord is the durable trace of an issued session. The live
// session itself is in-memory state owned by the visit's store; these
// rows exist so the audit trail can be correlated after the fact.
type SessionRecord struct {
	ID               int
	UserID           int
	TokenFingerprint string
	VisitID          string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time
}

type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// TokenFingerprint derives the stored form of a session token. Raw
// tokens never reach the database.
func TokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Record inserts a trace row for a freshly issued session
func (r *SessionRepository) Record(ctx context.Context, rec *SessionRecord) error {
	query := `
        INSERT INTO sessions (user_id, token_fingerprint, visit_id, created_at, expires_at)
        VALUES (?, ?, ?, ?, ?)
    `

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	result, err := r.db.ExecContext(ctx, query,
		rec.UserID,
		rec.TokenFingerprint,
		rec.VisitID,
		rec.CreatedAt,
		rec.ExpiresAt,
	)

	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get session ID: %w", err)
	}

	rec.ID = int(id)
	return nil
}

// Revoke marks the session with the given fingerprint as ended. A
// fingerprint that is unknown or already revoked is not an error, so
// logout stays idempotent end to end.
func (r *SessionRepository) Revoke(ctx context.Context, fingerprint string) error {
	query := `
        UPDATE sessions
        SET revoked_at = ?
        WHERE token_fingerprint = ? AND revoked_at IS NULL
    `

	if _, err := r.db.ExecContext(ctx, query, time.Now(), fingerprint); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	return nil
}

// RevokeAllForUser ends every open session record of one user
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID int) error {
	query := `
        UPDATE sessions
        SET revoked_at = ?
        WHERE user_id = ? AND revoked_at IS NULL
    `

	if _, err := r.db.ExecContext(ctx, query, time.Now(), userID); err != nil {
		return fmt.Errorf("failed to revoke user sessions: %w", err)
	}

	return nil
}

// RevokeAllForUserTx is the transactional form of RevokeAllForUser,
// used by password resets.
func (r *SessionRepository) RevokeAllForUserTx(tx *sql.Tx, userID int) error {
	query := `
        UPDATE sessions
        SET revoked_at = ?
        WHERE user_id = ? AND revoked_at IS NULL
    `

	if _, err := tx.Exec(query, time.Now(), userID); err != nil {
		return fmt.Errorf("failed to revoke user sessions: %w", err)
	}

	return nil
}

// PruneExpired deletes trace rows whose expiry passed before the
// cutoff. Returns the number of rows removed.
func (r *SessionRepository) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < ?`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

// OpenCountForUser returns how many unrevoked, unexpired records a
// user currently has.
func (r *SessionRepository) OpenCountForUser(ctx context.Context, userID int) (int, error) {
	query := `
        SELECT COUNT(*)
        FROM sessions
        WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
    `

	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, time.Now()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	return count, nil
}
