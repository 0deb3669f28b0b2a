package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/database"
	"github.com/Ebrudra/desk-access-hub/pkg/telemetry"
)

const bookingColumns = `
	b.id, b.user_id, b.resource_id, COALESCE(r.name, ''), b.start_time, b.end_time,
	b.status, b.total_amount, COALESCE(b.notes, ''), b.created_at, b.updated_at`

// PostgresBookingRepository implements BookingRepository using PostgreSQL
type PostgresBookingRepository struct {
	db database.DBTX
}

// NewPostgresBookingRepository creates a new PostgresBookingRepository
func NewPostgresBookingRepository(db database.DBTX) *PostgresBookingRepository {
	return &PostgresBookingRepository{db: db}
}

// Create inserts a booking
func (r *PostgresBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.booking.create")
	defer span.End()

	query := `
		INSERT INTO bookings (id, user_id, resource_id, start_time, end_time, status, total_amount, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		b.ID,
		b.UserID,
		b.ResourceID,
		b.StartTime,
		b.EndTime,
		b.Status,
		b.TotalAmount,
		b.Notes,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		telemetry.RecordError(span, err)
		if isUniqueViolation(err) {
			return domain.ErrBookingOverlap
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// GetByID retrieves a booking by ID
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.booking.get")
	defer span.End()

	query := `SELECT` + bookingColumns + `
		FROM bookings b
		LEFT JOIN resources r ON r.id = b.resource_id
		WHERE b.id = $1
	`
	b, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		telemetry.RecordError(span, err)
		return nil, err
	}
	return b, nil
}

// List returns bookings matching filter, newest start first
func (r *PostgresBookingRepository) List(ctx context.Context, filter domain.BookingFilter) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.booking.list")
	defer span.End()

	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != "" {
		add("b.user_id = $%d", filter.UserID)
	}
	if filter.Status != "" {
		add("b.status = $%d", filter.Status)
	}
	if !filter.From.IsZero() {
		add("b.start_time >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("b.start_time < $%d", filter.To)
	}

	query := `SELECT` + bookingColumns + `
		FROM bookings b
		LEFT JOIN resources r ON r.id = b.resource_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY b.start_time DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// UpdateStatus sets a booking's status
func (r *PostgresBookingRepository) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, updatedAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.booking.update_status")
	defer span.End()

	tag, err := r.db.Exec(ctx, `UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1`, id, status, updatedAt)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

// Delete deletes a booking
func (r *PostgresBookingRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

// ExpirePending cancels stale pending bookings in one statement and returns them
func (r *PostgresBookingRepository) ExpirePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.booking.expire_pending")
	defer span.End()

	query := `
		WITH expired AS (
			UPDATE bookings SET status = 'cancelled', updated_at = NOW()
			WHERE id IN (
				SELECT id FROM bookings
				WHERE status = 'pending' AND start_time < $1
				ORDER BY start_time
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *
		)
		SELECT` + strings.ReplaceAll(bookingColumns, "b.", "e.") + `
		FROM expired e
		LEFT JOIN resources r ON r.id = e.resource_id
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to expire pending bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	b := &domain.Booking{}
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.ResourceID,
		&b.ResourceName,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.TotalAmount,
		&b.Notes,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}
