package repository

import (
	"context"
	"time"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
)

// RoleRepository reads and writes user_roles
type RoleRepository interface {
	// GetByUserID returns nil, nil when the user has no assignment
	GetByUserID(ctx context.Context, userID string) (*domain.RoleAssignment, error)
	Upsert(ctx context.Context, assignment *domain.RoleAssignment) error
	List(ctx context.Context) ([]*domain.RoleAssignment, error)
}

// BookingRepository reads and writes bookings
type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	// GetByID returns nil, nil when the booking does not exist
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	List(ctx context.Context, filter domain.BookingFilter) ([]*domain.Booking, error)
	UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	// ExpirePending cancels pending bookings that started before cutoff and returns them
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error)
}

// MemberRepository reads members
type MemberRepository interface {
	List(ctx context.Context) ([]*domain.Member, error)
	GetByUserID(ctx context.Context, userID string) (*domain.Member, error)
}

// ResourceRepository reads resources
type ResourceRepository interface {
	List(ctx context.Context) ([]*domain.Resource, error)
	GetByID(ctx context.Context, id string) (*domain.Resource, error)
}

// PaymentRepository reads payments
type PaymentRepository interface {
	ListSince(ctx context.Context, since time.Time) ([]*domain.Payment, error)
	ListByUser(ctx context.Context, userID string, since time.Time) ([]*domain.Payment, error)
}

// UserRepository reads and writes auth users
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastSignIn(ctx context.Context, id string, at time.Time) error
}

// SessionRepository reads and writes refresh sessions. Refresh tokens are
// stored as hashes.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Rotate(ctx context.Context, id, refreshTokenHash string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
}

// PasswordResetRepository reads and writes password reset requests
type PasswordResetRepository interface {
	Create(ctx context.Context, reset *domain.PasswordReset) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.PasswordReset, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
}
