package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"", RoleNone},
		{"  ", RoleNone},
		{"admin", RoleAdmin},
		{"Manager", RoleManager},
		{"member", RoleMember},
		{"owner", RoleMember},
		{"superuser", RoleMember},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRole(tt.in))
		})
	}
}

func TestRole_JSON(t *testing.T) {
	b, err := json.Marshal(RoleState{Role: RoleManager})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"manager","loading":false}`, string(b))
}

func TestRole_CanManageBookings(t *testing.T) {
	assert.False(t, RoleNone.CanManageBookings())
	assert.False(t, RoleMember.CanManageBookings())
	assert.True(t, RoleManager.CanManageBookings())
	assert.True(t, RoleAdmin.CanManageBookings())
}

func validBooking() *Booking {
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	return &Booking{
		ID:         "b1",
		UserID:     "u1",
		ResourceID: "r1",
		StartTime:  start,
		EndTime:    start.Add(2 * time.Hour),
		Status:     BookingStatusPending,
	}
}

func TestBooking_Validate(t *testing.T) {
	assert.NoError(t, validBooking().Validate())

	b := validBooking()
	b.EndTime = b.StartTime
	assert.ErrorIs(t, b.Validate(), ErrInvalidBookingWindow)

	b = validBooking()
	b.Status = "lost"
	assert.ErrorIs(t, b.Validate(), ErrInvalidBookingStatus)

	b = validBooking()
	b.TotalAmount = -1
	assert.True(t, IsValidationError(b.Validate()))
}

func TestBooking_TransitionTo(t *testing.T) {
	now := time.Now()

	b := validBooking()
	require.NoError(t, b.TransitionTo(BookingStatusConfirmed, now))
	assert.Equal(t, BookingStatusConfirmed, b.Status)
	assert.Equal(t, now, b.UpdatedAt)

	require.NoError(t, b.TransitionTo(BookingStatusCompleted, now))
	assert.ErrorIs(t, b.TransitionTo(BookingStatusCancelled, now), ErrInvalidTransition)

	b = validBooking()
	assert.ErrorIs(t, b.TransitionTo(BookingStatusCompleted, now), ErrInvalidTransition)
	assert.ErrorIs(t, b.TransitionTo("bogus", now), ErrInvalidBookingStatus)
	assert.True(t, IsConflictError(ErrInvalidTransition))
}

func TestBooking_IsUpcoming(t *testing.T) {
	b := validBooking()
	assert.True(t, b.IsUpcoming(b.StartTime.Add(-time.Hour)))
	assert.False(t, b.IsUpcoming(b.StartTime.Add(time.Hour)))
	b.Status = BookingStatusCancelled
	assert.False(t, b.IsUpcoming(b.StartTime.Add(-time.Hour)))
	assert.Equal(t, 2.0, validBooking().Hours())
}

func TestChangeEvent_Column(t *testing.T) {
	ev, err := NewChangeEvent("e1", TableBookings, ChangeInsert, map[string]any{"user_id": "u1", "n": 2}, nil, time.Now())
	require.NoError(t, err)

	v, ok := ev.Column("user_id")
	assert.True(t, ok)
	assert.Equal(t, "u1", v)

	_, ok = ev.Column("n")
	assert.False(t, ok)

	del, err := NewChangeEvent("e2", TableBookings, ChangeDelete, nil, map[string]any{"user_id": "u2"}, time.Now())
	require.NoError(t, err)
	v, ok = del.Column("user_id")
	assert.True(t, ok)
	assert.Equal(t, "u2", v)
}

func TestAuthSession_ExpiresWithin(t *testing.T) {
	now := time.Now()
	s := &AuthSession{ExpiresAt: now.Add(90 * time.Second)}
	assert.True(t, s.ExpiresWithin(now, 2*time.Minute))
	assert.False(t, s.ExpiresWithin(now, time.Minute))
}
