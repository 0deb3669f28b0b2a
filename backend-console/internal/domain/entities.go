package domain

import "time"

// Member is a coworking membership
type Member struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Tier      string    `json:"tier"`
	Status    string    `json:"status"`
	JoinedAt  time.Time `json:"joined_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsActive reports whether the membership currently counts toward active members
func (m *Member) IsActive() bool {
	return m.Status == "active"
}

// Resource is a bookable desk, room or office
type Resource struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Capacity   int     `json:"capacity"`
	HourlyRate float64 `json:"hourly_rate"`
	Available  bool    `json:"available"`
}

// Payment is a settled or attempted charge
type Payment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	BookingID string    `json:"booking_id,omitempty"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Tier      string    `json:"tier"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is queued for delivery by the notification worker
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Channel   string            `json:"channel"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
