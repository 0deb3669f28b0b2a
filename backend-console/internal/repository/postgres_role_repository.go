package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/database"
	"github.com/Ebrudra/desk-access-hub/pkg/telemetry"
)

// PostgresRoleRepository implements RoleRepository using PostgreSQL
type PostgresRoleRepository struct {
	db database.DBTX
}

// NewPostgresRoleRepository creates a new PostgresRoleRepository
func NewPostgresRoleRepository(db database.DBTX) *PostgresRoleRepository {
	return &PostgresRoleRepository{db: db}
}

// GetByUserID retrieves the role row of a user
func (r *PostgresRoleRepository) GetByUserID(ctx context.Context, userID string) (*domain.RoleAssignment, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.role.get")
	defer span.End()

	a := &domain.RoleAssignment{}
	err := r.db.QueryRow(ctx, `SELECT user_id, role FROM user_roles WHERE user_id = $1`, userID).Scan(&a.UserID, &a.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		telemetry.RecordError(span, err)
		return nil, err
	}
	return a, nil
}

// Upsert sets the role of a user
func (r *PostgresRoleRepository) Upsert(ctx context.Context, a *domain.RoleAssignment) error {
	query := `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role
	`
	if _, err := r.db.Exec(ctx, query, a.UserID, a.Role); err != nil {
		return fmt.Errorf("failed to upsert role: %w", err)
	}
	return nil
}

// List returns every role assignment
func (r *PostgresRoleRepository) List(ctx context.Context) ([]*domain.RoleAssignment, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id, role FROM user_roles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var out []*domain.RoleAssignment
	for rows.Next() {
		a := &domain.RoleAssignment{}
		if err := rows.Scan(&a.UserID, &a.Role); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// isUniqueViolation reports unique (23505) and exclusion (23P01) constraint failures
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" || pgErr.Code == "23P01"
	}
	return false
}
