package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/dto"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/realtime"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/repository"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Authorizer re-checks a user's role against a predicate, failing closed
type Authorizer interface {
	Authorize(ctx context.Context, userID string, allowed func(domain.Role) bool) (domain.Role, error)
}

// BookingService defines the interface for booking business logic
type BookingService interface {
	// Get returns a booking the user owns, or any booking for managers and admins
	Get(ctx context.Context, userID, bookingID string) (*domain.Booking, error)

	// List returns the user's bookings, or everyone's when q.All is set
	List(ctx context.Context, userID string, q *dto.ListBookingsQuery) ([]*domain.Booking, error)

	// Create books a resource for the user as pending
	Create(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*domain.Booking, error)

	// UpdateStatus moves a booking through its lifecycle
	UpdateStatus(ctx context.Context, userID, bookingID string, status domain.BookingStatus) (*domain.Booking, error)

	// Delete removes a booking
	Delete(ctx context.Context, userID, bookingID string) error
}

// bookingService implements BookingService
type bookingService struct {
	bookings  repository.BookingRepository
	resources repository.ResourceRepository
	auth      Authorizer
	publisher realtime.ChangePublisher
	now       func() time.Time
	log       *logger.Logger
}

// BookingServiceConfig contains configuration for booking service
type BookingServiceConfig struct {
	Now    func() time.Time
	Logger *logger.Logger
}

// NewBookingService creates a new booking service. publisher may be nil.
func NewBookingService(
	bookings repository.BookingRepository,
	resources repository.ResourceRepository,
	auth Authorizer,
	publisher realtime.ChangePublisher,
	cfg *BookingServiceConfig,
) BookingService {
	s := &bookingService{
		bookings:  bookings,
		resources: resources,
		auth:      auth,
		publisher: publisher,
		now:       time.Now,
		log:       logger.Get(),
	}
	if cfg != nil {
		if cfg.Now != nil {
			s.now = cfg.Now
		}
		if cfg.Logger != nil {
			s.log = cfg.Logger
		}
	}
	return s
}

func (s *bookingService) canManage(ctx context.Context, userID string) error {
	_, err := s.auth.Authorize(ctx, userID, domain.Role.CanManageBookings)
	return err
}

// Get returns a booking the user owns, or any booking for managers and admins
func (s *bookingService) Get(ctx context.Context, userID, bookingID string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.get")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	if strings.TrimSpace(bookingID) == "" {
		return nil, domain.ErrInvalidBookingID
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if b == nil {
		return nil, domain.ErrBookingNotFound
	}
	if !b.BelongsToUser(userID) {
		// other users' bookings are invisible to members
		if err := s.canManage(ctx, userID); err != nil {
			return nil, domain.ErrBookingNotFound
		}
	}
	return b, nil
}

// List returns the user's bookings, or everyone's when q.All is set
func (s *bookingService) List(ctx context.Context, userID string, q *dto.ListBookingsQuery) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.list")
	defer span.End()

	if q == nil {
		q = &dto.ListBookingsQuery{}
	}
	filter := domain.BookingFilter{UserID: userID, Limit: q.Limit}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	filter.Limit = min(filter.Limit, maxListLimit)
	if q.Status != "" {
		filter.Status = domain.BookingStatus(q.Status)
		if !filter.Status.IsValid() {
			return nil, domain.ErrInvalidBookingStatus
		}
	}
	if q.All {
		if err := s.canManage(ctx, userID); err != nil {
			span.SetStatus(codes.Error, "forbidden")
			return nil, err
		}
		filter.UserID = ""
	}

	rows, err := s.bookings.List(ctx, filter)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if rows == nil {
		rows = []*domain.Booking{}
	}
	return rows, nil
}

// Create books a resource for the user as pending. The total is the hourly
// rate times the booked hours, rounded to cents.
func (s *bookingService) Create(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.create")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("resource_id", req.ResourceID))

	res, err := s.resources.GetByID(ctx, req.ResourceID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if res == nil || !res.Available {
		span.SetStatus(codes.Error, "resource not found")
		return nil, domain.ErrResourceNotFound
	}

	now := s.now().UTC()
	b := &domain.Booking{
		ID:           uuid.NewString(),
		UserID:       userID,
		ResourceID:   res.ID,
		ResourceName: res.Name,
		StartTime:    req.StartTime.UTC(),
		EndTime:      req.EndTime.UTC(),
		Status:       domain.BookingStatusPending,
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := b.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	b.TotalAmount = totalFor(res.HourlyRate, b.EndTime.Sub(b.StartTime))

	if err := s.bookings.Create(ctx, b); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.publish(ctx, domain.ChangeInsert, b, nil)
	return b, nil
}

func totalFor(hourlyRate float64, d time.Duration) float64 {
	minutes := decimal.NewFromInt(int64(d / time.Minute))
	total := decimal.NewFromFloat(hourlyRate).Mul(minutes).Div(decimal.NewFromInt(60)).Round(2)
	return total.InexactFloat64()
}

// UpdateStatus moves a booking through its lifecycle. Owners may cancel
// their own bookings; every other change takes a manager or admin.
func (s *bookingService) UpdateStatus(ctx context.Context, userID, bookingID string, status domain.BookingStatus) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.update_status")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID), attribute.String("status", string(status)))

	if !status.IsValid() {
		return nil, domain.ErrInvalidBookingStatus
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if b == nil {
		return nil, domain.ErrBookingNotFound
	}
	if !(b.BelongsToUser(userID) && status == domain.BookingStatusCancelled) {
		if err := s.canManage(ctx, userID); err != nil {
			span.SetStatus(codes.Error, "forbidden")
			if !b.BelongsToUser(userID) {
				return nil, domain.ErrBookingNotFound
			}
			return nil, err
		}
	}

	old := *b
	if err := b.TransitionTo(status, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.bookings.UpdateStatus(ctx, b.ID, b.Status, b.UpdatedAt); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.publish(ctx, domain.ChangeUpdate, b, &old)
	return b, nil
}

// Delete removes a booking owned by the user, or any booking for managers
// and admins
func (s *bookingService) Delete(ctx context.Context, userID, bookingID string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.delete")
	defer span.End()

	b, err := s.Get(ctx, userID, bookingID)
	if err != nil {
		return err
	}
	if err := s.bookings.Delete(ctx, b.ID); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	s.publish(ctx, domain.ChangeDelete, nil, b)
	return nil
}

// publish announces a committed change; failures only delay other consoles
// until their data goes stale
func (s *bookingService) publish(ctx context.Context, typ domain.ChangeType, record, old *domain.Booking) {
	if s.publisher == nil {
		return
	}
	var rec, prev any
	if record != nil {
		rec = record
	}
	if old != nil {
		prev = old
	}
	if err := s.publisher.Publish(ctx, domain.TableBookings, typ, rec, prev); err != nil {
		s.log.WarnContext(ctx, "failed to publish booking change", zap.String("type", string(typ)), zap.Error(err))
	}
}
