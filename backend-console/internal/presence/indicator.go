package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/pkg/logger"
)

const (
	DefaultChannel   = "online-users"
	DefaultHeartbeat = 30 * time.Second
)

// Config configures an Indicator
type Config struct {
	// Channel is the presence channel name
	Channel string
	// Heartbeat is how often the local record is re-announced
	Heartbeat time.Duration
	Now       func() time.Time
	Logger    *logger.Logger
}

// Snapshot is the display-ready roster
type Snapshot struct {
	State     ChannelState `json:"state"`
	Online    int          `json:"online"`
	Others    []Record     `json:"others"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type pruner interface {
	Prune(ctx context.Context, channel string, connIDs ...string) error
}

// Indicator announces this session's liveness and mirrors the channel roster
type Indicator struct {
	store     Store
	channel   string
	heartbeat time.Duration
	now       func() time.Time
	log       *logger.Logger

	mu        sync.Mutex
	state     ChannelState
	self      Record
	roster    map[string]Record
	updatedAt time.Time
	changed   chan struct{}
	running   bool
	closed    bool

	watcher Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	navCh   chan struct{}
	wg      sync.WaitGroup
}

// NewIndicator creates a disconnected indicator
func NewIndicator(store Store, cfg Config) *Indicator {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	return &Indicator{
		store:     store,
		channel:   cfg.Channel,
		heartbeat: cfg.Heartbeat,
		now:       cfg.Now,
		log:       cfg.Logger,
		roster:    make(map[string]Record),
		changed:   make(chan struct{}),
		stopCh:    make(chan struct{}),
		navCh:     make(chan struct{}, 1),
	}
}

// Start joins the channel as userID and begins heartbeating. A failed
// subscription leaves the indicator in StateError with an empty roster; it
// is never returned as an error.
func (ind *Indicator) Start(ctx context.Context, userID, email, page string) error {
	ind.mu.Lock()
	if ind.closed {
		ind.mu.Unlock()
		return fmt.Errorf("presence indicator closed")
	}
	if ind.running {
		ind.mu.Unlock()
		return fmt.Errorf("presence indicator already running")
	}
	ind.running = true
	ind.self = Record{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		Email:       email,
		Status:      StatusOnline,
		CurrentPage: page,
	}
	ind.ctx, ind.cancel = context.WithCancel(context.WithoutCancel(ctx))
	watchCtx := ind.ctx
	ind.setStateLocked(StateSubscribing)
	ind.mu.Unlock()

	w, err := ind.store.Watch(watchCtx, ind.channel)
	if err != nil {
		ind.log.Warn("presence subscribe failed", zap.String("channel", ind.channel), zap.Error(err))
		ind.mu.Lock()
		ind.setStateLocked(StateError)
		ind.mu.Unlock()
		return nil
	}

	ind.mu.Lock()
	if ind.closed {
		ind.mu.Unlock()
		w.Close()
		return nil
	}
	ind.watcher = w
	ind.setStateLocked(StateSubscribed)
	ind.wg.Add(1)
	ind.mu.Unlock()

	go ind.loop(w)
	return nil
}

func (ind *Indicator) loop(w Watcher) {
	defer ind.wg.Done()

	// join immediately, then on every tick
	ind.announce(ind.ctx)
	ind.sync(ind.ctx)

	ticker := time.NewTicker(ind.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ind.stopCh:
			return
		case <-ticker.C:
			ind.announce(ind.ctx)
		case <-ind.navCh:
			ind.announce(ind.ctx)
		case <-w.C():
			ind.sync(ind.ctx)
		}
	}
}

// Navigate records the page this session is on and asks the heartbeat loop
// to re-announce right away. Navigations that arrive before the loop gets to
// them collapse into one announce of the latest page.
func (ind *Indicator) Navigate(page string) {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	if !ind.running || ind.closed || ind.watcher == nil {
		return
	}
	ind.self.CurrentPage = page
	select {
	case ind.navCh <- struct{}{}:
	default:
	}
}

func (ind *Indicator) announce(ctx context.Context) {
	ind.mu.Lock()
	if ind.closed {
		ind.mu.Unlock()
		return
	}
	ind.self.LastSeen = ind.now().UTC()
	rec := ind.self
	ind.mu.Unlock()

	if err := ind.store.Track(ctx, ind.channel, rec); err != nil && ctx.Err() == nil {
		ind.log.Warn("presence track failed", zap.String("channel", ind.channel), zap.Error(err))
	}
}

// sync rebuilds the roster wholesale from the store
func (ind *Indicator) sync(ctx context.Context) {
	records, err := ind.store.List(ctx, ind.channel)
	if err != nil {
		if ctx.Err() == nil {
			ind.log.Warn("presence sync failed", zap.String("channel", ind.channel), zap.Error(err))
		}
		return
	}

	now := ind.now()
	roster := make(map[string]Record, len(records))
	var stale []string
	for _, rec := range records {
		age := now.Sub(rec.LastSeen)
		switch {
		case age > 3*ind.heartbeat:
			stale = append(stale, rec.ConnID)
			continue
		case age > 2*ind.heartbeat:
			rec.Status = StatusAway
		}
		roster[rec.ConnID] = rec
	}

	ind.mu.Lock()
	if ind.closed {
		ind.mu.Unlock()
		return
	}
	ind.roster = roster
	ind.updatedAt = now
	ind.setStateLocked(StateSynced)
	ind.mu.Unlock()

	if p, ok := ind.store.(pruner); ok && len(stale) > 0 {
		if err := p.Prune(ctx, ind.channel, stale...); err != nil && ctx.Err() == nil {
			ind.log.Debug("presence prune failed", zap.Error(err))
		}
	}
}

func (ind *Indicator) setStateLocked(s ChannelState) {
	ind.state = s
	close(ind.changed)
	ind.changed = make(chan struct{})
}

// State returns the channel state
func (ind *Indicator) State() ChannelState {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	return ind.state
}

// ConnID is this session's connection id, empty before Start
func (ind *Indicator) ConnID() string {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	return ind.self.ConnID
}

// Changed returns a channel closed at the next roster or state change
func (ind *Indicator) Changed() <-chan struct{} {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	return ind.changed
}

// Snapshot returns the roster as last synced. Others excludes every
// connection of the local user; Online counts distinct users.
func (ind *Indicator) Snapshot() Snapshot {
	ind.mu.Lock()
	defer ind.mu.Unlock()

	snap := Snapshot{State: ind.state, UpdatedAt: ind.updatedAt, Others: []Record{}}
	if ind.state != StateSynced {
		return snap
	}

	users := make(map[string]struct{})
	seen := make(map[string]Record)
	for _, rec := range ind.roster {
		users[rec.UserID] = struct{}{}
		if rec.UserID == ind.self.UserID {
			continue
		}
		// keep the freshest connection per user
		if prev, ok := seen[rec.UserID]; !ok || rec.LastSeen.After(prev.LastSeen) {
			seen[rec.UserID] = rec
		}
	}
	for _, rec := range seen {
		snap.Others = append(snap.Others, rec)
	}
	sort.Slice(snap.Others, func(i, j int) bool { return snap.Others[i].Email < snap.Others[j].Email })
	snap.Online = len(users)
	return snap
}

// Close stops heartbeating and leaves the channel. No store call is made
// after Close returns.
func (ind *Indicator) Close() {
	ind.mu.Lock()
	if ind.closed {
		ind.mu.Unlock()
		return
	}
	ind.closed = true
	wasRunning := ind.running
	w := ind.watcher
	connID := ind.self.ConnID
	ind.mu.Unlock()

	if !wasRunning {
		ind.mu.Lock()
		ind.setStateLocked(StateDisconnected)
		ind.mu.Unlock()
		return
	}

	close(ind.stopCh)
	ind.wg.Wait()

	if w != nil {
		leaveCtx, cancel := context.WithTimeout(ind.ctx, 2*time.Second)
		if err := ind.store.Untrack(leaveCtx, ind.channel, connID); err != nil {
			ind.log.Debug("presence untrack failed", zap.Error(err))
		}
		cancel()
		w.Close()
	}
	ind.cancel()

	ind.mu.Lock()
	ind.roster = map[string]Record{}
	ind.setStateLocked(StateDisconnected)
	ind.mu.Unlock()
}
