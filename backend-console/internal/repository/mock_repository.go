package repository

import (
	"context"
	"time"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
)

// Func-field mocks shared by service and handler tests. A nil func returns zero values.

type MockRoleRepository struct {
	GetByUserIDFunc func(ctx context.Context, userID string) (*domain.RoleAssignment, error)
	UpsertFunc      func(ctx context.Context, a *domain.RoleAssignment) error
	ListFunc        func(ctx context.Context) ([]*domain.RoleAssignment, error)
}

func (m *MockRoleRepository) GetByUserID(ctx context.Context, userID string) (*domain.RoleAssignment, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockRoleRepository) Upsert(ctx context.Context, a *domain.RoleAssignment) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, a)
	}
	return nil
}

func (m *MockRoleRepository) List(ctx context.Context) ([]*domain.RoleAssignment, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

type MockBookingRepository struct {
	CreateFunc        func(ctx context.Context, b *domain.Booking) error
	GetByIDFunc       func(ctx context.Context, id string) (*domain.Booking, error)
	ListFunc          func(ctx context.Context, filter domain.BookingFilter) ([]*domain.Booking, error)
	UpdateStatusFunc  func(ctx context.Context, id string, status domain.BookingStatus, updatedAt time.Time) error
	DeleteFunc        func(ctx context.Context, id string) error
	ExpirePendingFunc func(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error)
}

func (m *MockBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, b)
	}
	return nil
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockBookingRepository) List(ctx context.Context, filter domain.BookingFilter) ([]*domain.Booking, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockBookingRepository) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus, updatedAt time.Time) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status, updatedAt)
	}
	return nil
}

func (m *MockBookingRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockBookingRepository) ExpirePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error) {
	if m.ExpirePendingFunc != nil {
		return m.ExpirePendingFunc(ctx, cutoff, limit)
	}
	return nil, nil
}

type MockMemberRepository struct {
	ListFunc        func(ctx context.Context) ([]*domain.Member, error)
	GetByUserIDFunc func(ctx context.Context, userID string) (*domain.Member, error)
}

func (m *MockMemberRepository) List(ctx context.Context) ([]*domain.Member, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *MockMemberRepository) GetByUserID(ctx context.Context, userID string) (*domain.Member, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

type MockResourceRepository struct {
	ListFunc    func(ctx context.Context) ([]*domain.Resource, error)
	GetByIDFunc func(ctx context.Context, id string) (*domain.Resource, error)
}

func (m *MockResourceRepository) List(ctx context.Context) ([]*domain.Resource, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *MockResourceRepository) GetByID(ctx context.Context, id string) (*domain.Resource, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

type MockPaymentRepository struct {
	ListSinceFunc  func(ctx context.Context, since time.Time) ([]*domain.Payment, error)
	ListByUserFunc func(ctx context.Context, userID string, since time.Time) ([]*domain.Payment, error)
}

func (m *MockPaymentRepository) ListSince(ctx context.Context, since time.Time) ([]*domain.Payment, error) {
	if m.ListSinceFunc != nil {
		return m.ListSinceFunc(ctx, since)
	}
	return nil, nil
}

func (m *MockPaymentRepository) ListByUser(ctx context.Context, userID string, since time.Time) ([]*domain.Payment, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, since)
	}
	return nil, nil
}

type MockUserRepository struct {
	CreateFunc           func(ctx context.Context, u *domain.User) error
	GetByIDFunc          func(ctx context.Context, id string) (*domain.User, error)
	GetByEmailFunc       func(ctx context.Context, email string) (*domain.User, error)
	ExistsByEmailFunc    func(ctx context.Context, email string) (bool, error)
	UpdatePasswordFunc   func(ctx context.Context, id, passwordHash string) error
	UpdateLastSignInFunc func(ctx context.Context, id string, at time.Time) error
}

func (m *MockUserRepository) Create(ctx context.Context, u *domain.User) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, u)
	}
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, nil
}

func (m *MockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if m.ExistsByEmailFunc != nil {
		return m.ExistsByEmailFunc(ctx, email)
	}
	return false, nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) UpdateLastSignIn(ctx context.Context, id string, at time.Time) error {
	if m.UpdateLastSignInFunc != nil {
		return m.UpdateLastSignInFunc(ctx, id, at)
	}
	return nil
}

type MockSessionRepository struct {
	CreateFunc         func(ctx context.Context, s *domain.Session) error
	GetByIDFunc        func(ctx context.Context, id string) (*domain.Session, error)
	RotateFunc         func(ctx context.Context, id, refreshTokenHash string, expiresAt time.Time) error
	DeleteFunc         func(ctx context.Context, id string) error
	DeleteByUserIDFunc func(ctx context.Context, userID string) error
}

func (m *MockSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, s)
	}
	return nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockSessionRepository) Rotate(ctx context.Context, id, refreshTokenHash string, expiresAt time.Time) error {
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx, id, refreshTokenHash, expiresAt)
	}
	return nil
}

func (m *MockSessionRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockSessionRepository) DeleteByUserID(ctx context.Context, userID string) error {
	if m.DeleteByUserIDFunc != nil {
		return m.DeleteByUserIDFunc(ctx, userID)
	}
	return nil
}

type MockPasswordResetRepository struct {
	CreateFunc         func(ctx context.Context, p *domain.PasswordReset) error
	GetByTokenHashFunc func(ctx context.Context, tokenHash string) (*domain.PasswordReset, error)
	MarkUsedFunc       func(ctx context.Context, id string, at time.Time) error
}

func (m *MockPasswordResetRepository) Create(ctx context.Context, p *domain.PasswordReset) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	return nil
}

func (m *MockPasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.PasswordReset, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, nil
}

func (m *MockPasswordResetRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, id, at)
	}
	return nil
}

var (
	_ RoleRepository          = (*MockRoleRepository)(nil)
	_ BookingRepository       = (*MockBookingRepository)(nil)
	_ MemberRepository        = (*MockMemberRepository)(nil)
	_ ResourceRepository      = (*MockResourceRepository)(nil)
	_ PaymentRepository       = (*MockPaymentRepository)(nil)
	_ UserRepository          = (*MockUserRepository)(nil)
	_ SessionRepository       = (*MockSessionRepository)(nil)
	_ PasswordResetRepository = (*MockPasswordResetRepository)(nil)

	_ RoleRepository          = (*PostgresRoleRepository)(nil)
	_ BookingRepository       = (*PostgresBookingRepository)(nil)
	_ MemberRepository        = (*PostgresMemberRepository)(nil)
	_ ResourceRepository      = (*PostgresResourceRepository)(nil)
	_ PaymentRepository       = (*PostgresPaymentRepository)(nil)
	_ UserRepository          = (*PostgresUserRepository)(nil)
	_ SessionRepository       = (*PostgresSessionRepository)(nil)
	_ PasswordResetRepository = (*PostgresPasswordResetRepository)(nil)
)
