package console

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/dashboard"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/presence"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/querycache"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/realtime"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/role"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/session"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
)

// Deps are the shared services every console is built from
type Deps struct {
	Hub       *realtime.Hub
	Roles     role.Lookup
	Presence  presence.Store
	Refresher session.Refresher
	Repos     dashboard.Repositories

	Query          querycache.Config
	PresenceConfig presence.Config
	Watcher        session.WatcherConfig

	Location *time.Location
	Now      func() time.Time
	Logger   *logger.Logger
}

// Console is the application context of one signed-in session. It owns the
// session's query cache and every subscription or timer opened for it, and
// releases all of them on Close.
type Console struct {
	id     string
	userID string
	email  string
	now    func() time.Time
	log    *logger.Logger

	cache    *querycache.Cache
	bridge   *realtime.Bridge
	tracker  *role.Tracker
	roleSub  *realtime.Subscription
	presence *presence.Indicator
	watcher  *session.ExpiryWatcher
	builder  *dashboard.Builder

	mu       sync.Mutex
	session  *domain.AuthSession
	lastSeen time.Time
	closed   bool
	done     chan struct{}
}

// newConsole wires a console for sess. onExpired is called from the watcher
// goroutine once the session can no longer be refreshed.
func newConsole(ctx context.Context, sess *domain.AuthSession, deps Deps, onExpired func(c *Console, err error)) *Console {
	log := deps.Logger.With(zap.String("session_id", sess.SessionID), zap.String("user_id", sess.UserID))
	bg := context.WithoutCancel(ctx)

	qcfg := deps.Query
	qcfg.Logger = log
	cache := querycache.New(qcfg)

	c := &Console{
		id:       sess.SessionID,
		userID:   sess.UserID,
		email:    sess.Email,
		now:      deps.Now,
		log:      log,
		cache:    cache,
		bridge:   realtime.NewBridge(deps.Hub, cache, dashboard.Bindings, log),
		tracker:  role.NewTracker(deps.Roles),
		builder:  dashboard.NewBuilder(deps.Repos, cache, deps.Now, deps.Location),
		session:  sess,
		lastSeen: deps.Now(),
		done:     make(chan struct{}),
	}

	c.bridge.Rebind(c.userID)
	c.tracker.Load(bg, c.userID)
	// A changed assignment puts the dashboard back into Loading until the
	// new role is read
	c.roleSub = deps.Hub.Subscribe("role:"+c.userID,
		[]realtime.Filter{{Table: domain.TableUserRoles, Column: "user_id", Value: c.userID}},
		func(*domain.ChangeEvent) { c.tracker.Reset(bg, c.userID) })

	pcfg := deps.PresenceConfig
	pcfg.Logger = log
	c.presence = presence.NewIndicator(deps.Presence, pcfg)
	if err := c.presence.Start(ctx, c.userID, c.email, session.HomeRoute); err != nil {
		log.Warn("presence not started", zap.Error(err))
	}

	wcfg := deps.Watcher
	wcfg.Logger = log
	c.watcher = session.NewExpiryWatcher(deps.Refresher, sess, wcfg, c.onRefreshed, func(err error) {
		if onExpired != nil {
			onExpired(c, err)
		}
	})
	if err := c.watcher.Start(bg); err != nil {
		log.Warn("session watcher not started", zap.Error(err))
	}
	return c
}

func (c *Console) onRefreshed(s *domain.AuthSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// UpdateSession adopts a session refreshed outside the console
func (c *Console) UpdateSession(s *domain.AuthSession) {
	if s == nil || s.SessionID != c.id {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.session = s
	c.mu.Unlock()
	c.watcher.Replace(s)
}

// ID returns the session id the console belongs to
func (c *Console) ID() string { return c.id }

// UserID returns the signed-in user
func (c *Console) UserID() string { return c.userID }

// Email returns the signed-in user's email
func (c *Console) Email() string { return c.email }

// Session returns the current session, including refreshed tokens
func (c *Console) Session() *domain.AuthSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := *c.session
	return &s
}

// Touch marks the console as used now
func (c *Console) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = c.now()
}

// LastSeen returns when the console was last used
func (c *Console) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Role returns the role state as currently known
func (c *Console) Role() domain.RoleState {
	return c.tracker.State()
}

// WaitRole blocks until the role is resolved or ctx is done
func (c *Console) WaitRole(ctx context.Context) (domain.RoleState, error) {
	return c.tracker.Wait(ctx)
}

// Dashboard renders the dashboard for the current role state
func (c *Console) Dashboard(ctx context.Context) *dashboard.Dashboard {
	d := c.builder.Build(ctx, c.userID, c.tracker.State())
	d.LastUpdated = c.bridge.LastUpdated()
	return d
}

// Builder exposes the cached readers the dashboards use
func (c *Console) Builder() *dashboard.Builder { return c.builder }

// Cache returns the console's query cache
func (c *Console) Cache() *querycache.Cache { return c.cache }

// Navigate re-announces presence on page
func (c *Console) Navigate(page string) {
	c.Touch()
	c.presence.Navigate(page)
}

// Presence returns the last synced roster
func (c *Console) Presence() presence.Snapshot {
	return c.presence.Snapshot()
}

// RoleChanged is closed when the role state changes
func (c *Console) RoleChanged() <-chan struct{} { return c.tracker.Changed() }

// DataChanged is closed when a change event invalidates cached data
func (c *Console) DataChanged() <-chan struct{} { return c.bridge.Updates() }

// PresenceChanged is closed when the roster or channel state changes
func (c *Console) PresenceChanged() <-chan struct{} { return c.presence.Changed() }

// Done is closed once the console is closed
func (c *Console) Done() <-chan struct{} { return c.done }

// Close tears the console down. After it returns no timer, subscription or
// fetch started by the console touches its state or the backend.
func (c *Console) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.watcher.Stop()
	c.presence.Close()
	c.roleSub.Unsubscribe()
	c.bridge.Close()
	c.tracker.Close()
	c.cache.Close()
	close(c.done)

	c.log.Debug("console closed")
}
