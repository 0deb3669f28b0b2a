package functions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/pkg/logger"
)

// SchedulerConfig contains configuration for the task scheduler
type SchedulerConfig struct {
	// Interval between runs
	Interval time.Duration
	// Tasks run in order on every tick
	Tasks []string
}

// DefaultSchedulerConfig returns default configuration
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval: time.Minute,
		Tasks:    []string{TaskExpirePendingBookings},
	}
}

// SchedulerStats reports scheduler activity
type SchedulerStats struct {
	IsRunning      bool      `json:"is_running"`
	Runs           int64     `json:"runs"`
	TotalProcessed int64     `json:"total_processed"`
	TotalFailed    int64     `json:"total_failed"`
	LastRunTime    time.Time `json:"last_run_time"`
}

// Scheduler runs automated tasks on a fixed interval
type Scheduler struct {
	runner  *TaskRunner
	config  *SchedulerConfig
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	runs           int64
	totalProcessed int64
	totalFailed    int64
	lastRunTime    time.Time
}

// NewScheduler creates a scheduler
func NewScheduler(runner *TaskRunner, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	return &Scheduler{
		runner: runner,
		config: config,
		log:    runner.log,
		stopCh: make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("task scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("Starting task scheduler", zap.Strings("tasks", s.config.Tasks), zap.Duration("interval", s.config.Interval))

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop stops the scheduler and waits for the current run to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("Task scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every configured task once. A failing task does not stop the
// ones after it.
func (s *Scheduler) RunOnce(ctx context.Context) {
	var processed, failed int64
	for _, task := range s.config.Tasks {
		res, err := s.runner.Run(ctx, task)
		if err != nil {
			failed++
			s.log.Error("automated task failed", zap.String("task", task), zap.Error(err))
			continue
		}
		processed += int64(res.Processed)
		failed += int64(res.Failed)
	}

	s.mu.Lock()
	s.runs++
	s.totalProcessed += processed
	s.totalFailed += failed
	s.lastRunTime = s.runner.cfg.Now()
	s.mu.Unlock()
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() *SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &SchedulerStats{
		IsRunning:      s.running,
		Runs:           s.runs,
		TotalProcessed: s.totalProcessed,
		TotalFailed:    s.totalFailed,
		LastRunTime:    s.lastRunTime,
	}
}
