package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
)

// Refresher exchanges a refresh token for a new session
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Result, error)
}

// WatcherConfig contains configuration for the expiry watcher
type WatcherConfig struct {
	// CheckInterval is the time between expiry checks
	CheckInterval time.Duration
	// RefreshAhead is how long before expiry the session is refreshed
	RefreshAhead time.Duration
	Now          func() time.Time
	Logger       *logger.Logger
}

// DefaultWatcherConfig returns default configuration
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		CheckInterval: time.Minute,
		RefreshAhead:  2 * time.Minute,
	}
}

// ExpiryWatcher keeps one session alive by refreshing it shortly before the
// access token expires. When a refresh fails the watcher reports the session
// as expired and stops.
type ExpiryWatcher struct {
	refresher   Refresher
	cfg         WatcherConfig
	log         *logger.Logger
	onRefreshed func(*domain.AuthSession)
	onExpired   func(error)

	mu      sync.Mutex
	session *domain.AuthSession
	running bool
	stopped bool
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup

	refreshes int
}

// NewExpiryWatcher creates a watcher for session. Either callback may be nil.
func NewExpiryWatcher(
	refresher Refresher,
	session *domain.AuthSession,
	cfg WatcherConfig,
	onRefreshed func(*domain.AuthSession),
	onExpired func(error),
) *ExpiryWatcher {
	def := DefaultWatcherConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.RefreshAhead <= 0 {
		cfg.RefreshAhead = def.RefreshAhead
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	return &ExpiryWatcher{
		refresher:   refresher,
		cfg:         cfg,
		log:         log,
		onRefreshed: onRefreshed,
		onExpired:   onExpired,
		session:     session,
		stopCh:      make(chan struct{}),
	}
}

// Start starts the check loop
func (w *ExpiryWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("expiry watcher already running")
	}
	if w.stopped {
		return fmt.Errorf("expiry watcher stopped")
	}
	w.running = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		err := w.loop(ctx)
		w.wg.Done()
		// Reported after Done so onExpired may call Stop
		if err != nil && w.onExpired != nil && !w.isStopped() {
			w.onExpired(err)
		}
	}()
	return nil
}

// Stop stops the loop and waits for it. No callback fires after Stop returns.
func (w *ExpiryWatcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.running = false
	if w.cancel != nil {
		w.cancel()
	}
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
}

// Session returns the current session
func (w *ExpiryWatcher) Session() *domain.AuthSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// Replace swaps in a session refreshed elsewhere so the watcher does not
// spend a rotated refresh token
func (w *ExpiryWatcher) Replace(s *domain.AuthSession) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped && s != nil {
		w.session = s
	}
}

// Refreshes returns how many times the session was refreshed
func (w *ExpiryWatcher) Refreshes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refreshes
}

func (w *ExpiryWatcher) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *ExpiryWatcher) loop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	if err := w.Check(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			if err := w.Check(ctx); err != nil {
				return err
			}
		}
	}
}

// Check refreshes the session if it expires within the refresh window.
// It returns an error only when the session can no longer be kept alive.
func (w *ExpiryWatcher) Check(ctx context.Context) error {
	w.mu.Lock()
	current := w.session
	w.mu.Unlock()

	if current == nil {
		return domain.ErrSessionNotFound
	}
	now := w.cfg.Now()
	if !current.ExpiresWithin(now, w.cfg.RefreshAhead) {
		return nil
	}
	if current.RefreshToken == "" {
		// Nothing to refresh with; hold on until the token actually lapses
		if current.ExpiresWithin(now, 0) {
			return domain.ErrTokenExpired
		}
		return nil
	}

	res, err := w.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.log.Warn("session refresh failed",
			zap.String("session_id", current.SessionID),
			zap.String("user_id", current.UserID),
			zap.Error(err),
		)
		return err
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.session = res.Session
	w.refreshes++
	w.mu.Unlock()

	w.log.Debug("session refreshed",
		zap.String("session_id", res.Session.SessionID),
		zap.Time("expires_at", res.Session.ExpiresAt),
	)
	if w.onRefreshed != nil {
		w.onRefreshed(res.Session)
	}
	return nil
}
