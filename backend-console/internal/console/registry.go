package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
)

// RegistryConfig contains configuration for the console registry
type RegistryConfig struct {
	// IdleTTL is how long an unused console is kept
	IdleTTL time.Duration
	// SweepInterval is the interval between idle sweeps
	SweepInterval time.Duration
}

// DefaultRegistryConfig returns default configuration
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleTTL:       30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Registry holds the open consoles keyed by session id
type Registry struct {
	deps Deps
	cfg  RegistryConfig
	log  *logger.Logger

	mu       sync.Mutex
	consoles map[string]*Console
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	expired int64
	swept   int64
}

// NewRegistry creates an empty registry
func NewRegistry(deps Deps, cfg RegistryConfig) *Registry {
	def := DefaultRegistryConfig()
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.Get()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Watcher.Now == nil {
		deps.Watcher.Now = deps.Now
	}
	return &Registry{
		deps:     deps,
		cfg:      cfg,
		log:      deps.Logger,
		consoles: make(map[string]*Console),
		stopCh:   make(chan struct{}),
	}
}

// Open returns the console for sess, creating it on first use
func (r *Registry) Open(ctx context.Context, sess *domain.AuthSession) (*Console, error) {
	if sess == nil || sess.SessionID == "" || sess.UserID == "" {
		return nil, domain.ErrSessionNotFound
	}

	if c, ok := r.Get(sess.SessionID); ok {
		if c.UserID() == sess.UserID {
			if sess.RefreshToken != "" && sess.ExpiresAt.After(c.Session().ExpiresAt) {
				c.UpdateSession(sess)
			}
			return c, nil
		}
		r.Close(sess.SessionID)
	}

	c := newConsole(ctx, sess, r.deps, r.onExpired)

	r.mu.Lock()
	if existing, ok := r.consoles[sess.SessionID]; ok && existing.UserID() == sess.UserID {
		r.mu.Unlock()
		c.Close()
		existing.Touch()
		return existing, nil
	}
	r.consoles[sess.SessionID] = c
	r.mu.Unlock()

	r.log.Info("console opened", zap.String("session_id", sess.SessionID), zap.String("user_id", sess.UserID))
	return c, nil
}

// Get returns the console for sessionID and marks it used
func (r *Registry) Get(sessionID string) (*Console, bool) {
	r.mu.Lock()
	c, ok := r.consoles[sessionID]
	r.mu.Unlock()
	if ok {
		c.Touch()
	}
	return c, ok
}

// Close closes and removes the console for sessionID
func (r *Registry) Close(sessionID string) bool {
	r.mu.Lock()
	c, ok := r.consoles[sessionID]
	delete(r.consoles, sessionID)
	r.mu.Unlock()
	if ok {
		c.Close()
		r.log.Info("console closed", zap.String("session_id", sessionID))
	}
	return ok
}

// Len returns the number of open consoles
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.consoles)
}

func (r *Registry) onExpired(c *Console, err error) {
	r.mu.Lock()
	current, ok := r.consoles[c.ID()]
	if ok && current == c {
		delete(r.consoles, c.ID())
		r.expired++
	}
	r.mu.Unlock()

	r.log.Warn("session expired, closing console", zap.String("session_id", c.ID()), zap.Error(err))
	c.Close()
}

// Sweep closes consoles idle for longer than the idle TTL
func (r *Registry) Sweep() int {
	cutoff := r.deps.Now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var idle []*Console
	for id, c := range r.consoles {
		if c.LastSeen().Before(cutoff) {
			idle = append(idle, c)
			delete(r.consoles, id)
		}
	}
	r.swept += int64(len(idle))
	r.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	if len(idle) > 0 {
		r.log.Info("idle consoles swept", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Start starts the idle sweep loop
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("console registry already running")
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.sweepLoop(ctx)
	return nil
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Stop stops the sweep loop and closes every console
func (r *Registry) Stop() {
	r.mu.Lock()
	wasRunning := r.running
	r.running = false
	all := r.consoles
	r.consoles = make(map[string]*Console)
	r.mu.Unlock()

	if wasRunning {
		close(r.stopCh)
		r.wg.Wait()
	}
	for _, c := range all {
		c.Close()
	}
	r.log.Info("Console registry stopped", zap.Int("closed", len(all)))
}

// RegistryStats reports registry activity
type RegistryStats struct {
	Open    int   `json:"open"`
	Expired int64 `json:"expired"`
	Swept   int64 `json:"swept"`
}

// GetStats returns registry statistics
func (r *Registry) GetStats() *RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &RegistryStats{Open: len(r.consoles), Expired: r.expired, Swept: r.swept}
}
