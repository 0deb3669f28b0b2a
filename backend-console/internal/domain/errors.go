package domain

import "errors"

// Domain errors
var (
	// Booking errors
	ErrBookingNotFound      = errors.New("booking not found")
	ErrInvalidBookingStatus = errors.New("invalid booking status")
	ErrInvalidTransition    = errors.New("booking status change not allowed")
	ErrBookingOverlap       = errors.New("resource already booked for this time")
	ErrInvalidBookingWindow = errors.New("booking must end after it starts")
	ErrInvalidTotalAmount   = errors.New("total amount cannot be negative")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrInvalidResourceID    = errors.New("invalid resource id")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidBookingID     = errors.New("invalid booking id")
	ErrForbidden            = errors.New("not allowed for this role")

	// Auth errors, messages mirror what the auth backend reports
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user is inactive")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrSessionNotFound    = errors.New("session not found")
	ErrWeakPassword       = errors.New("password should be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email")

	// Role errors
	ErrRoleNotFound = errors.New("role not found")

	// Function errors
	ErrFunctionNotFound = errors.New("function not found")
	ErrInvalidPayload   = errors.New("invalid function payload")
	ErrUnknownTask      = errors.New("unknown automated task")
	ErrCheckoutDisabled = errors.New("checkout is not configured")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrResourceNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrRoleNotFound) ||
		errors.Is(err, ErrFunctionNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidBookingStatus) ||
		errors.Is(err, ErrInvalidBookingWindow) ||
		errors.Is(err, ErrInvalidTotalAmount) ||
		errors.Is(err, ErrInvalidResourceID) ||
		errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidBookingID) ||
		errors.Is(err, ErrWeakPassword) ||
		errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrUnknownTask)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrBookingOverlap) ||
		errors.Is(err, ErrUserAlreadyExists)
}

// IsAuthError checks if the error should be reported as 401
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrEmailNotConfirmed) ||
		errors.Is(err, ErrUserInactive) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired)
}
