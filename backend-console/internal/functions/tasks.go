package functions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/realtime"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/repository"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
)

// Automated tasks
const (
	TaskExpirePendingBookings = "expire-pending-bookings"
	TaskBookingReminders      = "booking-reminders"
)

// TaskConfig contains configuration for automated tasks
type TaskConfig struct {
	// BatchSize caps how many bookings one run touches
	BatchSize int
	// ReminderWindow is how far ahead confirmed bookings get a reminder
	ReminderWindow time.Duration
	Now            func() time.Time
	Logger         *logger.Logger
}

// DefaultTaskConfig returns default configuration
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		BatchSize:      100,
		ReminderWindow: 24 * time.Hour,
	}
}

// TaskResult reports what a task run did
type TaskResult struct {
	Task      string   `json:"task"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed,omitempty"`
	IDs       []string `json:"ids,omitempty"`
}

// TaskRunner runs the automated maintenance tasks
type TaskRunner struct {
	bookings  repository.BookingRepository
	publisher realtime.ChangePublisher
	notifier  Notifier
	cfg       TaskConfig
	log       *logger.Logger
}

// NewTaskRunner creates a TaskRunner
func NewTaskRunner(bookings repository.BookingRepository, publisher realtime.ChangePublisher, notifier Notifier, cfg TaskConfig) *TaskRunner {
	def := DefaultTaskConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ReminderWindow <= 0 {
		cfg.ReminderWindow = def.ReminderWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	return &TaskRunner{bookings: bookings, publisher: publisher, notifier: notifier, cfg: cfg, log: log}
}

// Run executes one task by name
func (r *TaskRunner) Run(ctx context.Context, task string) (*TaskResult, error) {
	switch task {
	case TaskExpirePendingBookings:
		return r.expirePending(ctx)
	case TaskBookingReminders:
		return r.sendReminders(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTask, task)
	}
}

// expirePending cancels pending bookings whose start has passed and
// announces each change so open dashboards refresh
func (r *TaskRunner) expirePending(ctx context.Context) (*TaskResult, error) {
	expired, err := r.bookings.ExpirePending(ctx, r.cfg.Now(), r.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to expire pending bookings: %w", err)
	}

	res := &TaskResult{Task: TaskExpirePendingBookings}
	for _, b := range expired {
		res.Processed++
		res.IDs = append(res.IDs, b.ID)
		if r.publisher == nil {
			continue
		}
		old := *b
		old.Status = domain.BookingStatusPending
		if err := r.publisher.Publish(ctx, domain.TableBookings, domain.ChangeUpdate, b, &old); err != nil {
			res.Failed++
			r.log.Warn("failed to publish expired booking", zap.String("booking_id", b.ID), zap.Error(err))
		}
	}
	if res.Processed > 0 {
		r.log.Info("expired pending bookings", zap.Int("count", res.Processed))
	}
	return res, nil
}

// sendReminders notifies users of confirmed bookings starting soon
func (r *TaskRunner) sendReminders(ctx context.Context) (*TaskResult, error) {
	if r.notifier == nil {
		return nil, fmt.Errorf("booking reminders need a notifier")
	}
	now := r.cfg.Now()
	upcoming, err := r.bookings.List(ctx, domain.BookingFilter{
		Status: domain.BookingStatusConfirmed,
		From:   now,
		To:     now.Add(r.cfg.ReminderWindow),
		Limit:  r.cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming bookings: %w", err)
	}

	res := &TaskResult{Task: TaskBookingReminders}
	for _, b := range upcoming {
		name := b.ResourceName
		if name == "" {
			name = "your space"
		}
		n := &domain.Notification{
			UserID:  b.UserID,
			Channel: "email",
			Title:   "Upcoming booking reminder",
			Body:    fmt.Sprintf("Your booking for %s starts at %s.", name, b.StartTime.Format(time.RFC1123)),
			Data:    map[string]string{"booking_id": b.ID},
		}
		if err := r.notifier.Notify(ctx, n); err != nil {
			res.Failed++
			r.log.Warn("failed to queue booking reminder", zap.String("booking_id", b.ID), zap.Error(err))
			continue
		}
		res.Processed++
		res.IDs = append(res.IDs, b.ID)
	}
	return res, nil
}

type taskPayload struct {
	Task string `json:"task"`
}

// NewRunAutomatedTask exposes the runner as a function
func NewRunAutomatedTask(runner *TaskRunner) Func {
	return func(ctx context.Context, call *Call) (any, error) {
		var p taskPayload
		if err := call.Decode(&p); err != nil {
			return nil, err
		}
		if p.Task == "" {
			return nil, fmt.Errorf("%w: task is required", domain.ErrInvalidPayload)
		}
		return runner.Run(ctx, p.Task)
	}
}
