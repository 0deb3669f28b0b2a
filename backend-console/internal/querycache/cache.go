package querycache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/retry"
)

const (
	DefaultStaleTime = 5 * time.Minute
	DefaultGCTime    = 10 * time.Minute
)

// Fetcher loads the value for one key
type Fetcher func(ctx context.Context) (any, error)

// Config holds cache policy
type Config struct {
	StaleTime time.Duration
	GCTime    time.Duration
	// Retry is the backoff policy for failed fetches; nil means 3 retries
	Retry *retry.Config
	// Sleeper replaces the retry wait, tests pass a no-op
	Sleeper retry.Sleeper
	// JanitorInterval is how often unobserved entries are swept; negative disables the janitor
	JanitorInterval time.Duration
	// Now is the clock, defaults to time.Now
	Now    func() time.Time
	Logger *logger.Logger
}

// Result is what a read returns. Err is always a *QueryError when set;
// Data may still hold the last good value in that case.
type Result struct {
	Data      any
	Err       error
	FromCache bool
	UpdatedAt time.Time
}

// Stats are counters for diagnostics
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Fetches       int64 `json:"fetches"`
	Errors        int64 `json:"errors"`
	Invalidations int64 `json:"invalidations"`
	Evictions     int64 `json:"evictions"`
	Size          int   `json:"size"`
}

type entry struct {
	data        any
	hasData     bool
	updatedAt   time.Time
	lastAccess  time.Time
	invalidated bool
	gen         uint64
	observers   int
	fetching    int
}

// Cache is a per-console read-through cache with request de-duplication
type Cache struct {
	cfg     Config
	now     func() time.Time
	log     *logger.Logger
	retrier *retry.Retrier
	group   singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	hits, misses, fetches, errs, invalidations, evictions atomic.Int64
}

// New creates a cache and starts its janitor
func New(cfg Config) *Cache {
	if cfg.StaleTime <= 0 {
		cfg.StaleTime = DefaultStaleTime
	}
	if cfg.GCTime <= 0 {
		cfg.GCTime = DefaultGCTime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = min(max(cfg.GCTime/10, time.Second), time.Minute)
	}

	var opts []retry.Option
	if cfg.Sleeper != nil {
		opts = append(opts, retry.WithSleeper(cfg.Sleeper))
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		cfg:     cfg,
		now:     cfg.Now,
		log:     cfg.Logger,
		retrier: retry.New(cfg.Retry, opts...),
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}

	if cfg.JanitorInterval > 0 {
		c.wg.Add(1)
		go c.janitor(cfg.JanitorInterval)
	}
	return c
}

// Key joins query parameters into a cache key
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Query returns the cached value for key if fresh, otherwise fetches it.
// Concurrent misses for the same key share a single fetch.
func (c *Cache) Query(ctx context.Context, key string, fetch Fetcher) Result {
	if c.closed.Load() {
		return Result{Err: &QueryError{Key: key, Code: CodeClosed, Message: "query cache closed"}}
	}

	now := c.now()
	c.mu.Lock()
	e := c.entryLocked(key)
	e.lastAccess = now
	if e.hasData && !e.invalidated && now.Sub(e.updatedAt) < c.cfg.StaleTime {
		res := Result{Data: e.data, FromCache: true, UpdatedAt: e.updatedAt}
		c.mu.Unlock()
		c.hits.Add(1)
		return res
	}
	gen := e.gen
	prev := Result{Data: e.data, UpdatedAt: e.updatedAt}
	c.mu.Unlock()
	c.misses.Add(1)

	ch := c.group.DoChan(key, c.flight(ctx, key, gen, fetch))
	select {
	case r := <-ch:
		if r.Err != nil {
			prev.Err = r.Err
			return prev
		}
		res := Result{Data: r.Val}
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			res.UpdatedAt = e.updatedAt
		}
		c.mu.Unlock()
		return res
	case <-ctx.Done():
		prev.Err = &QueryError{Key: key, Code: CodeCanceled, Message: ctx.Err().Error(), Err: ctx.Err()}
		return prev
	}
}

func (c *Cache) flight(parent context.Context, key string, gen uint64, fetch Fetcher) func() (any, error) {
	return func() (any, error) {
		c.mu.Lock()
		c.entryLocked(key).fetching++
		c.mu.Unlock()
		c.fetches.Add(1)

		// The fetch outlives the first caller but not the cache
		fctx, cancel := context.WithCancel(context.WithoutCancel(parent))
		stop := context.AfterFunc(c.ctx, cancel)
		defer func() {
			stop()
			cancel()
		}()

		var data any
		res := c.retrier.DoWithCallback(fctx, func(ctx context.Context) error {
			v, err := safeFetch(ctx, fetch)
			if err == nil {
				data = v
			}
			return err
		}, func(attempt int, err error, next time.Duration) {
			c.log.Debug("query fetch failed, retrying",
				zap.String("key", key), zap.Int("attempt", attempt), zap.Duration("backoff", next), zap.Error(err))
		})

		c.mu.Lock()
		e := c.entryLocked(key)
		e.fetching--
		if res.Err == nil && e.gen == gen {
			e.data = data
			e.hasData = true
			e.updatedAt = c.now()
			e.invalidated = false
		}
		c.mu.Unlock()

		if res.Err != nil {
			c.errs.Add(1)
			qe := newQueryError(key, res)
			c.log.Warn("query failed", zap.String("key", key), zap.String("code", qe.Code), zap.Int("attempts", qe.Attempts), zap.Error(qe.Err))
			return nil, qe
		}
		return data, nil
	}
}

func safeFetch(ctx context.Context, fetch Fetcher) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = retry.Permanent(&panicError{value: r})
		}
	}()
	return fetch(ctx)
}

// IsLoading reports whether a fetch for key is in flight
func (c *Cache) IsLoading(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.fetching > 0
}

// Peek returns cached data without fetching
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.hasData {
		return nil, false
	}
	return e.data, true
}

// Observe marks key as in use until the returned release func is called.
// Observed entries are never garbage collected.
func (c *Cache) Observe(key string) (release func()) {
	c.mu.Lock()
	c.entryLocked(key).observers++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if e, ok := c.entries[key]; ok {
				e.observers--
				e.lastAccess = c.now()
			}
		})
	}
}

// Invalidate marks keys stale. The next read of each key fetches again and
// never joins a fetch that started before the invalidation.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		c.invalidateLocked(k)
	}
	c.mu.Unlock()
}

// InvalidatePrefix invalidates every key starting with prefix and returns how many matched
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			c.invalidateLocked(k)
			n++
		}
	}
	return n
}

func (c *Cache) invalidateLocked(key string) {
	if e, ok := c.entries[key]; ok {
		e.invalidated = true
		e.gen++
	}
	c.group.Forget(key)
	c.invalidations.Add(1)
}

// Mutate runs fn and, once it has succeeded, invalidates keys. Invalidation
// is complete when Mutate returns so any later read refetches.
func (c *Cache) Mutate(ctx context.Context, fn func(ctx context.Context) error, keys ...string) error {
	if err := fn(ctx); err != nil {
		return err
	}
	c.Invalidate(keys...)
	return nil
}

// Sweep evicts entries that nobody observes and nobody read for GCTime
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.observers > 0 || e.fetching > 0 {
			continue
		}
		if now.Sub(e.lastAccess) >= c.cfg.GCTime {
			delete(c.entries, k)
			n++
		}
	}
	if n > 0 {
		c.evictions.Add(int64(n))
	}
	return n
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Fetches:       c.fetches.Load(),
		Errors:        c.errs.Load(),
		Invalidations: c.invalidations.Load(),
		Evictions:     c.evictions.Load(),
		Size:          size,
	}
}

// Close cancels in-flight fetches and stops the janitor
func (c *Cache) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) janitor(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug("query cache swept", zap.Int("evicted", n))
			}
		}
	}
}

func (c *Cache) entryLocked(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{lastAccess: c.now()}
		c.entries[key] = e
	}
	return e
}

// Fetch is a typed Query
func Fetch[T any](ctx context.Context, c *Cache, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	res := c.Query(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	var zero T
	if res.Err != nil {
		if v, ok := res.Data.(T); ok {
			return v, res.Err
		}
		return zero, res.Err
	}
	v, ok := res.Data.(T)
	if !ok {
		return zero, &QueryError{Key: key, Code: CodeTypeMismatch, Message: fmt.Sprintf("cached value is %T", res.Data)}
	}
	return v, nil
}

// AsQueryError extracts a *QueryError from err
func AsQueryError(err error) (*QueryError, bool) {
	var qe *QueryError
	ok := errors.As(err, &qe)
	return qe, ok
}
