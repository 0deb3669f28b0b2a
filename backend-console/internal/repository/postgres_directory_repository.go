package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/database"
	"github.com/Ebrudra/desk-access-hub/pkg/telemetry"
)

// PostgresMemberRepository implements MemberRepository using PostgreSQL
type PostgresMemberRepository struct {
	db database.DBTX
}

// NewPostgresMemberRepository creates a new PostgresMemberRepository
func NewPostgresMemberRepository(db database.DBTX) *PostgresMemberRepository {
	return &PostgresMemberRepository{db: db}
}

const memberColumns = `id, user_id, email, COALESCE(full_name, ''), tier, status, joined_at, created_at`

func scanMember(row pgx.Row) (*domain.Member, error) {
	m := &domain.Member{}
	err := row.Scan(&m.ID, &m.UserID, &m.Email, &m.FullName, &m.Tier, &m.Status, &m.JoinedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// List returns every member
func (r *PostgresMemberRepository) List(ctx context.Context) ([]*domain.Member, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.member.list")
	defer span.End()

	rows, err := r.db.Query(ctx, `SELECT `+memberColumns+` FROM members ORDER BY joined_at DESC`)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var out []*domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetByUserID returns the membership of a user, or nil, nil
func (r *PostgresMemberRepository) GetByUserID(ctx context.Context, userID string) (*domain.Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// PostgresResourceRepository implements ResourceRepository using PostgreSQL
type PostgresResourceRepository struct {
	db database.DBTX
}

// NewPostgresResourceRepository creates a new PostgresResourceRepository
func NewPostgresResourceRepository(db database.DBTX) *PostgresResourceRepository {
	return &PostgresResourceRepository{db: db}
}

const resourceColumns = `id, name, type, capacity, hourly_rate, available`

func scanResource(row pgx.Row) (*domain.Resource, error) {
	res := &domain.Resource{}
	if err := row.Scan(&res.ID, &res.Name, &res.Type, &res.Capacity, &res.HourlyRate, &res.Available); err != nil {
		return nil, err
	}
	return res, nil
}

// List returns every resource ordered by name
func (r *PostgresResourceRepository) List(ctx context.Context) ([]*domain.Resource, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.resource.list")
	defer span.End()

	rows, err := r.db.Query(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY name`)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var out []*domain.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// GetByID returns a resource, or nil, nil
func (r *PostgresResourceRepository) GetByID(ctx context.Context, id string) (*domain.Resource, error) {
	res, err := scanResource(r.db.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// PostgresPaymentRepository implements PaymentRepository using PostgreSQL
type PostgresPaymentRepository struct {
	db database.DBTX
}

// NewPostgresPaymentRepository creates a new PostgresPaymentRepository
func NewPostgresPaymentRepository(db database.DBTX) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

const paymentColumns = `id, user_id, COALESCE(booking_id::text, ''), amount, currency, COALESCE(tier, ''), status, created_at`

func (r *PostgresPaymentRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		p := &domain.Payment{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.BookingID, &p.Amount, &p.Currency, &p.Tier, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListSince returns every payment created at or after since
func (r *PostgresPaymentRepository) ListSince(ctx context.Context, since time.Time) ([]*domain.Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.payment.list_since")
	defer span.End()
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE created_at >= $1 ORDER BY created_at`, since)
}

// ListByUser returns a user's payments created at or after since
func (r *PostgresPaymentRepository) ListByUser(ctx context.Context, userID string, since time.Time) ([]*domain.Payment, error) {
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at`, userID, since)
}
