package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/database"
)

// PostgresUserRepository implements UserRepository using PostgreSQL
type PostgresUserRepository struct {
	db database.DBTX
}

// NewPostgresUserRepository creates a new PostgresUserRepository
func NewPostgresUserRepository(db database.DBTX) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

const userColumns = `id, email, password_hash, COALESCE(full_name, ''), email_confirmed, is_active, last_sign_in_at, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FullName,
		&u.EmailConfirmed,
		&u.IsActive,
		&u.LastSignInAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// Create creates a new user
func (r *PostgresUserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, full_name, email_confirmed, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.Email,
		u.PasswordHash,
		u.FullName,
		u.EmailConfirmed,
		u.IsActive,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrUserAlreadyExists
	}
	return err
}

// GetByID retrieves a user by ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail retrieves a user by email
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

// ExistsByEmail checks if a user exists with the given email
func (r *PostgresUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE lower(email) = lower($1))`, email).Scan(&exists)
	return exists, err
}

// UpdatePassword replaces a user's password hash
func (r *PostgresUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpdateLastSignIn stamps the last sign-in time
func (r *PostgresUserRepository) UpdateLastSignIn(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_sign_in_at = $2 WHERE id = $1`, id, at)
	return err
}

// PostgresSessionRepository implements SessionRepository using PostgreSQL
type PostgresSessionRepository struct {
	db database.DBTX
}

// NewPostgresSessionRepository creates a new PostgresSessionRepository
func NewPostgresSessionRepository(db database.DBTX) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

// Create stores a session; RefreshToken must already be hashed
func (r *PostgresSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, refresh_token_hash, user_agent, ip, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query, s.ID, s.UserID, s.RefreshToken, s.UserAgent, s.IP, s.ExpiresAt, s.CreatedAt)
	return err
}

// GetByID retrieves a session, or nil, nil
func (r *PostgresSessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT id, user_id, refresh_token_hash, COALESCE(user_agent, ''), COALESCE(ip, ''), expires_at, created_at
		FROM sessions
		WHERE id = $1
	`
	s := &domain.Session{}
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.UserAgent, &s.IP, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// Rotate replaces the refresh token hash and extends the session
func (r *PostgresSessionRepository) Rotate(ctx context.Context, id, refreshTokenHash string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET refresh_token_hash = $2, expires_at = $3 WHERE id = $1`, id, refreshTokenHash, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Delete removes a session
func (r *PostgresSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// DeleteByUserID removes every session of a user
func (r *PostgresSessionRepository) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

// PostgresPasswordResetRepository implements PasswordResetRepository using PostgreSQL
type PostgresPasswordResetRepository struct {
	db database.DBTX
}

// NewPostgresPasswordResetRepository creates a new PostgresPasswordResetRepository
func NewPostgresPasswordResetRepository(db database.DBTX) *PostgresPasswordResetRepository {
	return &PostgresPasswordResetRepository{db: db}
}

// Create stores a reset request
func (r *PostgresPasswordResetRepository) Create(ctx context.Context, p *domain.PasswordReset) error {
	query := `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query, p.ID, p.UserID, p.TokenHash, p.ExpiresAt, p.CreatedAt)
	return err
}

// GetByTokenHash finds a reset request, or nil, nil
func (r *PostgresPasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.PasswordReset, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_resets
		WHERE token_hash = $1
	`
	p := &domain.PasswordReset{}
	err := r.db.QueryRow(ctx, query, tokenHash).Scan(&p.ID, &p.UserID, &p.TokenHash, &p.ExpiresAt, &p.UsedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// MarkUsed consumes a reset request so it cannot be replayed
func (r *PostgresPasswordResetRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE password_resets SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidToken
	}
	return nil
}
