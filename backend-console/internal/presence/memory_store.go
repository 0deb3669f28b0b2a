package presence

import (
	"context"
	"sync"
)

// MemoryStore is a single-process Store, used when Redis is not configured
type MemoryStore struct {
	mu       sync.Mutex
	channels map[string]map[string]Record
	watchers map[string]map[*memWatcher]struct{}
	// FailWatch makes Watch fail, for exercising the error state
	FailWatch error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[string]map[string]Record),
		watchers: make(map[string]map[*memWatcher]struct{}),
	}
}

func (s *MemoryStore) Track(ctx context.Context, channel string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.channels[channel]
	if !ok {
		roster = make(map[string]Record)
		s.channels[channel] = roster
	}
	roster[rec.ConnID] = rec
	s.notifyLocked(channel)
	return nil
}

func (s *MemoryStore) Untrack(ctx context.Context, channel, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if roster, ok := s.channels[channel]; ok {
		if _, tracked := roster[connID]; tracked {
			delete(roster, connID)
			s.notifyLocked(channel)
		}
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, channel string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.channels[channel]
	out := make([]Record, 0, len(roster))
	for _, rec := range roster {
		out = append(out, rec)
	}
	return out, nil
}

// Prune removes connections without notifying watchers
func (s *MemoryStore) Prune(ctx context.Context, channel string, connIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range connIDs {
		delete(s.channels[channel], id)
	}
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, channel string) (Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWatch != nil {
		return nil, s.FailWatch
	}
	w := &memWatcher{store: s, channel: channel, c: make(chan struct{}, 1)}
	if s.watchers[channel] == nil {
		s.watchers[channel] = make(map[*memWatcher]struct{})
	}
	s.watchers[channel][w] = struct{}{}
	return w, nil
}

// Watchers returns the number of open watchers on channel
func (s *MemoryStore) Watchers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[channel])
}

func (s *MemoryStore) notifyLocked(channel string) {
	for w := range s.watchers[channel] {
		select {
		case w.c <- struct{}{}:
		default:
		}
	}
}

type memWatcher struct {
	store   *MemoryStore
	channel string
	c       chan struct{}
	once    sync.Once
}

func (w *memWatcher) C() <-chan struct{} { return w.c }

func (w *memWatcher) Close() error {
	w.once.Do(func() {
		w.store.mu.Lock()
		delete(w.store.watchers[w.channel], w)
		w.store.mu.Unlock()
	})
	return nil
}
