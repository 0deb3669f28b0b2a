package role

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/repository"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/telemetry"
)

// Lookup resolves the display role of a user
type Lookup interface {
	Resolve(ctx context.Context, userID string) domain.Role
}

// Resolver reads role assignments from user_roles
type Resolver struct {
	roles repository.RoleRepository
	log   *logger.Logger
}

// NewResolver creates a new Resolver
func NewResolver(roles repository.RoleRepository, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Get()
	}
	return &Resolver{roles: roles, log: log}
}

// Resolve returns the role used to pick a dashboard. It never fails: an empty
// user id is RoleNone, and a missing, blank or unreadable assignment is
// RoleMember. Do not use it for access control, use Authorize.
func (r *Resolver) Resolve(ctx context.Context, userID string) domain.Role {
	if userID == "" {
		return domain.RoleNone
	}

	ctx, span := telemetry.StartSpan(ctx, "service.role.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	a, err := r.roles.GetByUserID(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		r.log.WarnContext(ctx, "role lookup failed, showing member dashboard",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return domain.RoleMember
	}

	role := domain.RoleMember
	if a != nil {
		if parsed := domain.ParseRole(a.Role); parsed != domain.RoleNone {
			role = parsed
		}
	}
	span.SetAttributes(attribute.String("role", role.String()))
	span.SetStatus(codes.Ok, "")
	return role
}

// Authorize re-reads the role and fails closed: lookup errors are returned
// and a role rejected by allowed yields domain.ErrForbidden
func (r *Resolver) Authorize(ctx context.Context, userID string, allowed func(domain.Role) bool) (domain.Role, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.role.authorize")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	if userID == "" {
		span.SetStatus(codes.Error, "no user")
		return domain.RoleNone, domain.ErrForbidden
	}

	a, err := r.roles.GetByUserID(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return domain.RoleNone, fmt.Errorf("failed to read role: %w", err)
	}

	role := domain.RoleMember
	if a != nil {
		if parsed := domain.ParseRole(a.Role); parsed != domain.RoleNone {
			role = parsed
		}
	}
	span.SetAttributes(attribute.String("role", role.String()))

	if !allowed(role) {
		span.SetStatus(codes.Error, "forbidden")
		return role, domain.ErrForbidden
	}
	span.SetStatus(codes.Ok, "")
	return role, nil
}

// IsAdmin is an Authorize predicate
func IsAdmin(r domain.Role) bool { return r == domain.RoleAdmin }

// CanManageBookings is an Authorize predicate
func CanManageBookings(r domain.Role) bool { return r.CanManageBookings() }
