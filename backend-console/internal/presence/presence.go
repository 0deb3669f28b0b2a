package presence

import (
	"context"
	"errors"
	"time"
)

// Status is a user's liveness as shown in the roster
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Record is one tracked connection
type Record struct {
	ConnID      string    `json:"conn_id"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	LastSeen    time.Time `json:"last_seen"`
	Status      Status    `json:"status"`
	CurrentPage string    `json:"current_page"`
}

// ChannelState is where an indicator is in its channel lifecycle
type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateSubscribing
	StateSubscribed
	StateSynced
	StateError
)

func (s ChannelState) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateSynced:
		return "synced"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

func (s ChannelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrStoreClosed is returned by a closed store
var ErrStoreClosed = errors.New("presence store closed")

// Watcher delivers a signal whenever the channel's roster changed
type Watcher interface {
	C() <-chan struct{}
	Close() error
}

// Store holds presence records for named channels
type Store interface {
	// Track writes rec and notifies watchers of the channel
	Track(ctx context.Context, channel string, rec Record) error
	// Untrack removes a connection and notifies watchers
	Untrack(ctx context.Context, channel, connID string) error
	// List returns every record currently in the channel
	List(ctx context.Context, channel string) ([]Record, error)
	// Watch subscribes to roster changes; it fails if the subscription cannot be established
	Watch(ctx context.Context, channel string) (Watcher, error)
}
