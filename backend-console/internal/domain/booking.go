package domain

import (
	"strings"
	"time"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// IsValid checks if the status is a valid BookingStatus
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

// Booking is a reservation of a desk or room
type Booking struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	ResourceID   string        `json:"resource_id"`
	ResourceName string        `json:"resource_name,omitempty"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Status       BookingStatus `json:"status"`
	TotalAmount  float64       `json:"total_amount"`
	Notes        string        `json:"notes,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Validate validates all booking fields
func (b *Booking) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return ErrInvalidUserID
	}
	if strings.TrimSpace(b.ResourceID) == "" {
		return ErrInvalidResourceID
	}
	if !b.EndTime.After(b.StartTime) {
		return ErrInvalidBookingWindow
	}
	if !b.Status.IsValid() {
		return ErrInvalidBookingStatus
	}
	if b.TotalAmount < 0 {
		return ErrInvalidTotalAmount
	}
	return nil
}

// Hours returns the booked duration in hours
func (b *Booking) Hours() float64 {
	return b.EndTime.Sub(b.StartTime).Hours()
}

// IsUpcoming reports whether the booking is still ahead of now and not cancelled
func (b *Booking) IsUpcoming(now time.Time) bool {
	return b.StartTime.After(now) && (b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed)
}

// BelongsToUser checks if the booking belongs to the specified user
func (b *Booking) BelongsToUser(userID string) bool {
	return b.UserID == userID
}

// TransitionTo moves the booking to next, enforcing the allowed lifecycle:
// pending -> confirmed | cancelled, confirmed -> cancelled | completed
func (b *Booking) TransitionTo(next BookingStatus, now time.Time) error {
	if !next.IsValid() {
		return ErrInvalidBookingStatus
	}
	allowed := false
	switch b.Status {
	case BookingStatusPending:
		allowed = next == BookingStatusConfirmed || next == BookingStatusCancelled
	case BookingStatusConfirmed:
		allowed = next == BookingStatusCancelled || next == BookingStatusCompleted
	}
	if !allowed {
		return ErrInvalidTransition
	}
	b.Status = next
	b.UpdatedAt = now
	return nil
}

// BookingFilter narrows booking list queries
type BookingFilter struct {
	UserID string
	Status BookingStatus
	From   time.Time
	To     time.Time
	Limit  int
}
