package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sentinelgate/internal/models"
	"sentinelgate/pkg/errors"
)

const userColumns = `id, username, email, password_hash, role, created_at, updated_at, last_login, active`

type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
        INSERT INTO users (username, email, password_hash, role, created_at, updated_at, active)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `

	now := time.Now()
	result, err := r.db.ExecContext(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Role,
		now,
		now,
		user.Active,
	)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user ID: %w", err)
	}

	user.ID = int(id)
	user.CreatedAt = now
	user.UpdatedAt = now

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := r.scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByUsername retrieves a user by username. Returns
// errors.ErrUserNotFound when no row matches.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`

	user, err := r.scanUser(r.db.QueryRowContext(ctx, query, username))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// List retrieves all users ordered by username
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY username`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Email,
			&user.PasswordHash,
			&user.Role,
			&user.CreatedAt,
			&user.UpdatedAt,
			&user.LastLogin,
			&user.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return users, nil
}

// UpdateLastLogin stamps the user's last successful login time
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID int, at time.Time) error {
	query := `
        UPDATE users
        SET last_login = ?, updated_at = ?
        WHERE id = ?
    `

	_, err := r.db.ExecContext(ctx, query, at, at, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return nil
}

// SetActive enables or disables an account
func (r *UserRepository) SetActive(ctx context.Context, userID int, active bool) error {
	query := `
        UPDATE users
        SET active = ?, updated_at = ?
        WHERE id = ?
    `

	result, err := r.db.ExecContext(ctx, query, active, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to set active state: %w", err)
	}

	return requireRowAffected(result)
}

// SetRole changes an account's role. Live sessions keep the role
// they were issued with.
func (r *UserRepository) SetRole(ctx context.Context, userID int, role models.Role) error {
	query := `
        UPDATE users
        SET role = ?, updated_at = ?
        WHERE id = ?
    `

	result, err := r.db.ExecContext(ctx, query, role, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}

	return requireRowAffected(result)
}

// UpdatePassword replaces the stored credential hash
func (r *UserRepository) UpdatePassword(ctx context.Context, userID int, passwordHash string) error {
	query := `
        UPDATE users
        SET password_hash = ?, updated_at = ?
        WHERE id = ?
    `

	result, err := r.db.ExecContext(ctx, query, passwordHash, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return requireRowAffected(result)
}

// UpdatePasswordTx is the transactional form of UpdatePassword, used
// when a password reset must land together with session revocation.
func (r *UserRepository) UpdatePasswordTx(tx *sql.Tx, userID int, passwordHash string) error {
	query := `
        UPDATE users
        SET password_hash = ?, updated_at = ?
        WHERE id = ?
    `

	result, err := tx.Exec(query, passwordHash, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return requireRowAffected(result)
}

func (r *UserRepository) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLogin,
		&user.Active,
	)

	if err == sql.ErrNoRows {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

func requireRowAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return errors.ErrUserNotFound
	}

	return nil
}
