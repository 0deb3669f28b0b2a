package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
)

// Binding ties a filter to the cache keys a matching event makes stale
type Binding struct {
	Filter Filter
	Keys   func(ev *domain.ChangeEvent) []string
}

// StaticKeys returns a Keys func that always yields keys
func StaticKeys(keys ...string) func(*domain.ChangeEvent) []string {
	return func(*domain.ChangeEvent) []string { return keys }
}

// BindingsFunc builds the bindings for one user identity
type BindingsFunc func(userID string) []Binding

// Invalidator is the slice of the query cache the bridge needs
type Invalidator interface {
	Invalidate(keys ...string)
}

// Bridge turns change events into cache invalidations for one console
type Bridge struct {
	hub      *Hub
	cache    Invalidator
	bindings BindingsFunc
	now      func() time.Time
	log      *logger.Logger

	mu          sync.Mutex
	sub         *Subscription
	userID      string
	active      []Binding
	lastUpdated time.Time
	updates     chan struct{}
	closed      bool
}

// NewBridge creates an unbound bridge; call Rebind with the user id
func NewBridge(hub *Hub, cache Invalidator, bindings BindingsFunc, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.Get()
	}
	return &Bridge{
		hub:      hub,
		cache:    cache,
		bindings: bindings,
		now:      time.Now,
		log:      log,
		updates:  make(chan struct{}),
	}
}

// Rebind drops the current subscription and subscribes for userID. An empty
// userID leaves the bridge unsubscribed.
func (b *Bridge) Rebind(userID string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	old := b.sub
	b.sub = nil
	b.active = nil
	b.userID = userID
	b.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
	if userID == "" {
		return
	}

	active := b.bindings(userID)
	filters := make([]Filter, len(active))
	for i, bd := range active {
		filters[i] = bd.Filter
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.userID != userID {
		return
	}
	b.active = active
	b.sub = b.hub.Subscribe("console:"+userID, filters, b.onChange)
}

func (b *Bridge) onChange(ev *domain.ChangeEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	var keys []string
	for _, bd := range b.active {
		if bd.Filter.Matches(ev) && bd.Keys != nil {
			keys = append(keys, bd.Keys(ev)...)
		}
	}
	b.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	b.cache.Invalidate(keys...)

	b.mu.Lock()
	b.lastUpdated = b.now()
	if !b.closed {
		close(b.updates)
		b.updates = make(chan struct{})
	}
	b.mu.Unlock()

	b.log.Debug("cache invalidated by change event",
		zap.String("table", ev.Table), zap.String("type", string(ev.Type)), zap.Strings("keys", keys))
}

// LastUpdated is the wall-clock time of the latest invalidation
func (b *Bridge) LastUpdated() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdated
}

// Updates returns a channel that is closed at the next invalidation or on Close
func (b *Bridge) Updates() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updates
}

// UserID returns the identity the bridge is bound to
func (b *Bridge) UserID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userID
}

// Close unsubscribes. No invalidation happens after Close returns.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	sub := b.sub
	b.sub = nil
	close(b.updates)
	b.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}
