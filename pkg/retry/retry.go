package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Config describes an exponential backoff policy.
// With the defaults a failing fetch is retried after 1s, 2s and 4s.
type Config struct {
	// MaxRetries is the number of retries after the first attempt (0 = run once)
	MaxRetries int
	// InitialInterval is the wait before the first retry
	InitialInterval time.Duration
	// MaxInterval caps every wait
	MaxInterval time.Duration
	// Multiplier grows the wait after each retry
	Multiplier float64
	// JitterFactor adds up to ±JitterFactor of the wait at random (0-1)
	JitterFactor float64
}

// DefaultConfig returns the policy used for dashboard queries
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// Operation is one attempt of the retried work
type Operation func(ctx context.Context) error

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// PermanentError stops the retry loop immediately
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Result is the outcome of a retried operation
type Result struct {
	// Err is nil on success, otherwise ErrMaxRetriesExceeded, ErrContextCanceled
	// or the unwrapped permanent error
	Err error
	// Attempts counts every call of the operation
	Attempts int
	// LastError is the error returned by the final attempt
	LastError error
	// TotalDuration includes the time spent waiting
	TotalDuration time.Duration
}

// Cause returns the most useful error for callers: the last attempt's error if any
func (r *Result) Cause() error {
	if r.LastError != nil {
		return r.LastError
	}
	return r.Err
}

// Callback is invoked before each wait
type Callback func(attempt int, err error, next time.Duration)

// Retrier runs operations under a backoff policy
type Retrier struct {
	config *Config
	sleep  Sleeper
}

// Option customizes a Retrier
type Option func(*Retrier)

// WithSleeper swaps the wait function, tests use it to skip real delays
func WithSleeper(s Sleeper) Option {
	return func(r *Retrier) {
		if s != nil {
			r.sleep = s
		}
	}
}

// New creates a Retrier, filling zero values from DefaultConfig
func New(config *Config, opts ...Option) *Retrier {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.JitterFactor = math.Max(0, math.Min(1, cfg.JitterFactor))

	r := &Retrier{config: &cfg, sleep: sleepContext}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op until it succeeds, fails permanently, or retries run out
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	return r.DoWithCallback(ctx, op, nil)
}

// DoWithCallback is Do with a hook before every wait
func (r *Retrier) DoWithCallback(ctx context.Context, op Operation, cb Callback) *Result {
	start := time.Now()
	res := &Result{}
	finish := func(err error) *Result {
		res.Err = err
		res.TotalDuration = time.Since(start)
		return res
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return finish(ErrContextCanceled)
		}

		res.Attempts = attempt + 1
		err := op(ctx)
		if err == nil {
			res.LastError = nil
			return finish(nil)
		}
		res.LastError = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			res.LastError = perm.Err
			return finish(perm.Err)
		}

		if attempt >= r.config.MaxRetries {
			return finish(ErrMaxRetriesExceeded)
		}

		wait := r.Backoff(attempt)
		if cb != nil {
			cb(attempt+1, err, wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return finish(ErrContextCanceled)
		}
	}
}

// Backoff returns the wait before retry number attempt+1
func (r *Retrier) Backoff(attempt int) time.Duration {
	interval := float64(r.config.InitialInterval) * math.Pow(r.config.Multiplier, float64(attempt))

	if r.config.JitterFactor > 0 {
		interval += (rand.Float64()*2 - 1) * interval * r.config.JitterFactor
	}
	if interval > float64(r.config.MaxInterval) {
		interval = float64(r.config.MaxInterval)
	}
	if interval < 0 {
		interval = float64(r.config.InitialInterval)
	}
	return time.Duration(interval)
}

// Do is shorthand for New(config).Do(ctx, op)
func Do(ctx context.Context, config *Config, op Operation) *Result {
	return New(config).Do(ctx, op)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
