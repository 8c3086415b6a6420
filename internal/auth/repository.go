package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egida/backend/internal/models"
)

// Repository handles user and token persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userCols = `id, email, password_hash, is_active, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, q, id))
}

// GetByEmail returns a user by email, matched case-insensitively.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(r.pool.QueryRow(ctx, q, email))
}

// Create inserts a new user.
func (r *Repository) Create(ctx context.Context, email, passwordHash string) (*models.User, error) {
	const q = `INSERT INTO users (email, password_hash)
		VALUES (LOWER($1), $2)
		RETURNING ` + userCols
	return scanUser(r.pool.QueryRow(ctx, q, email, passwordHash))
}

// UpdatePassword sets a new password hash and bumps updated_at.
func (r *Repository) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	const q = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, userID, passwordHash)
	return err
}

// CreateRefreshToken stores a hashed refresh token.
func (r *Repository) CreateRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash, client string, expiresAt time.Time) error {
	const q = `INSERT INTO refresh_tokens (user_id, token_hash, client, expires_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, q, userID, tokenHash, client, expiresAt)
	return err
}

// GetRefreshToken looks up a refresh token row by hash.
func (r *Repository) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const q = `SELECT id, user_id, token_hash, created_at, expires_at, revoked, client
		FROM refresh_tokens WHERE token_hash = $1`
	var t models.RefreshToken
	err := r.pool.QueryRow(ctx, q, tokenHash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.Revoked, &t.Client)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RevokeRefreshToken marks a single refresh token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	const q = `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1`
	_, err := r.pool.Exec(ctx, q, tokenHash)
	return err
}

// RevokeUserRefreshTokens revokes all refresh tokens of a user.
func (r *Repository) RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	const q = `UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND NOT revoked`
	_, err := r.pool.Exec(ctx, q, userID)
	return err
}

// CreatePasswordResetToken stores a hashed password reset token. Any earlier
// unused token for the user is consumed so only one reset link is live.
func (r *Repository) CreatePasswordResetToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	const q = `WITH stale AS (
			UPDATE password_reset_tokens SET used = TRUE, used_at = NOW()
			WHERE user_id = $1 AND NOT used
		)
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)`
	_, err := r.pool.Exec(ctx, q, userID, tokenHash, expiresAt)
	return err
}

// GetPasswordResetToken looks up a reset token row by hash.
func (r *Repository) GetPasswordResetToken(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	const q = `SELECT id, user_id, token_hash, created_at, expires_at, used, used_at
		FROM password_reset_tokens WHERE token_hash = $1`
	var t models.PasswordResetToken
	err := r.pool.QueryRow(ctx, q, tokenHash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.Used, &t.UsedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkPasswordResetUsed marks a reset token consumed.
func (r *Repository) MarkPasswordResetUsed(ctx context.Context, tokenHash string) error {
	const q = `UPDATE password_reset_tokens SET used = TRUE, used_at = NOW() WHERE token_hash = $1`
	_, err := r.pool.Exec(ctx, q, tokenHash)
	return err
}
