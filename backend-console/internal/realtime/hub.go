package realtime

import (
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
)

// Filter selects change events. Zero fields match everything.
type Filter struct {
	Table  string
	Events []domain.ChangeType
	// Column and Value restrict to rows where Column equals Value, e.g. user_id = X
	Column string
	Value  string
}

// Matches reports whether ev passes the filter
func (f Filter) Matches(ev *domain.ChangeEvent) bool {
	if ev == nil {
		return false
	}
	if f.Table != "" && f.Table != ev.Table {
		return false
	}
	if len(f.Events) > 0 && !slices.Contains(f.Events, ev.Type) {
		return false
	}
	if f.Column != "" {
		v, ok := ev.Column(f.Column)
		if !ok || v != f.Value {
			return false
		}
	}
	return true
}

// Handler receives matching events
type Handler func(ev *domain.ChangeEvent)

// Hub fans change events out to in-process subscriptions
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID atomic.Uint64
	log    *logger.Logger
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Get()
	}
	return &Hub{subs: make(map[uint64]*Subscription), log: log}
}

// Subscription is one registered handler
type Subscription struct {
	id      uint64
	channel string
	filters []Filter
	fn      Handler
	hub     *Hub

	mu     sync.Mutex
	closed bool
}

// Subscribe registers fn for events matching any of filters; no filters means
// every event. channel names the subscriber in logs.
func (h *Hub) Subscribe(channel string, filters []Filter, fn Handler) *Subscription {
	s := &Subscription{
		id:      h.nextID.Add(1),
		channel: channel,
		filters: slices.Clone(filters),
		fn:      fn,
		hub:     h,
	}
	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	return s
}

// Channel returns the name given at subscribe time
func (s *Subscription) Channel() string {
	return s.channel
}

// Unsubscribe removes the subscription. It waits for an in-progress delivery
// so fn is never called once Unsubscribe has returned; calling it from
// inside fn deadlocks.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.mu.Lock()
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
}

func (s *Subscription) matches(ev *domain.ChangeEvent) bool {
	if len(s.filters) == 0 {
		return true
	}
	for _, f := range s.filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

func (s *Subscription) deliver(ev *domain.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.hub.log.Error("change handler panicked",
				zap.String("channel", s.channel), zap.String("table", ev.Table), zap.Any("panic", r))
		}
	}()
	s.fn(ev)
}

// Publish delivers ev to every matching subscription and returns how many got it
func (h *Hub) Publish(ev *domain.ChangeEvent) int {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.matches(ev) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.deliver(ev)
	}
	return len(targets)
}

// Len returns the number of live subscriptions
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
