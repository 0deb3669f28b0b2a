package role

import (
	"context"
	"sync"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
)

// Tracker holds the role state of one console. The role is resolved in the
// background; until it arrives the state reports Loading.
type Tracker struct {
	lookup Lookup

	mu      sync.Mutex
	state   domain.RoleState
	userID  string
	gen     uint64
	cancel  context.CancelFunc
	changed chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewTracker creates a Tracker in the Loading state
func NewTracker(lookup Lookup) *Tracker {
	return &Tracker{
		lookup:  lookup,
		state:   domain.RoleState{Role: domain.RoleNone, Loading: true},
		changed: make(chan struct{}),
	}
}

// Load resolves the role for userID unless it is already resolved or being
// resolved for the same user. An empty userID means there is no session.
func (t *Tracker) Load(ctx context.Context, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || (t.gen > 0 && t.userID == userID) {
		return
	}
	t.startLocked(ctx, userID)
}

// Reset drops the current role and resolves again for userID
func (t *Tracker) Reset(ctx context.Context, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.startLocked(ctx, userID)
}

func (t *Tracker) startLocked(ctx context.Context, userID string) {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
	t.userID = userID

	if userID == "" {
		t.setLocked(domain.RoleState{Role: domain.RoleNone})
		return
	}
	t.setLocked(domain.RoleState{Role: domain.RoleNone, Loading: true})

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	gen := t.gen
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		role := t.lookup.Resolve(ctx, userID)

		t.mu.Lock()
		defer t.mu.Unlock()
		// a newer Load or Close superseded this lookup
		if t.closed || gen != t.gen {
			return
		}
		t.cancel = nil
		t.setLocked(domain.RoleState{Role: role})
	}()
}

func (t *Tracker) setLocked(s domain.RoleState) {
	t.state = s
	close(t.changed)
	t.changed = make(chan struct{})
}

// State returns the current role state
func (t *Tracker) State() domain.RoleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// UserID returns the user the role belongs to
func (t *Tracker) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

// Changed returns a channel closed on the next state change
func (t *Tracker) Changed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// Wait blocks until the role is no longer loading
func (t *Tracker) Wait(ctx context.Context) (domain.RoleState, error) {
	for {
		t.mu.Lock()
		s, ch, closed := t.state, t.changed, t.closed
		t.mu.Unlock()
		if !s.Loading || closed {
			return s, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// Close cancels any lookup in flight and waits for it. The state no longer
// changes afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	close(t.changed)
	t.mu.Unlock()

	t.wg.Wait()
}
