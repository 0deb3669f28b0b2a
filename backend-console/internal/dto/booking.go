package dto

import (
	"time"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
)

// CreateBookingRequest represents a new booking
type CreateBookingRequest struct {
	ResourceID string    `json:"resource_id" binding:"required"`
	StartTime  time.Time `json:"start_time" binding:"required"`
	EndTime    time.Time `json:"end_time" binding:"required"`
	Notes      string    `json:"notes" binding:"max=500"`
}

// UpdateBookingStatusRequest approves, cancels or completes a booking
type UpdateBookingStatusRequest struct {
	Status domain.BookingStatus `json:"status" binding:"required"`
}

// ListBookingsQuery are the query parameters of the bookings list
type ListBookingsQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
	// All lists every user's bookings; managers and admins only
	All bool `form:"all"`
}

// FunctionResponse is the body of a function invocation
type FunctionResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}
