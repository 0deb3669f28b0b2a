package functions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/retry"
	"github.com/Ebrudra/desk-access-hub/pkg/telemetry"
)

// KafkaNotifier queues notifications on the notifications topic for the
// delivery worker
type KafkaNotifier struct {
	producer retry.JSONProducer
	topic    string
	now      func() time.Time
}

// NewKafkaNotifier creates a KafkaNotifier
func NewKafkaNotifier(producer retry.JSONProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic, now: time.Now}
}

// Notify queues n keyed by user so one user's notifications stay ordered
func (k *KafkaNotifier) Notify(ctx context.Context, n *domain.Notification) error {
	ctx, span := telemetry.StartSpan(ctx, "functions.notify")
	defer span.End()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = k.now().UTC()
	}
	headers := telemetry.InjectHeaders(ctx, map[string]string{"content_type": "application/json"})
	if err := k.producer.ProduceJSON(ctx, k.topic, n.UserID, n, headers); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to queue notification: %w", err)
	}
	return nil
}

type notificationPayload struct {
	UserID  string            `json:"user_id"`
	Channel string            `json:"channel"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data"`
}

// Notifier delivers a notification
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification) error
}

// NewSendNotification queues a notification. Without user_id it goes to the
// caller; notifying someone else takes a manager or admin.
func NewSendNotification(notifier Notifier, auth Authorizer) Func {
	return func(ctx context.Context, call *Call) (any, error) {
		var p notificationPayload
		if err := call.Decode(&p); err != nil {
			return nil, err
		}
		p.Title = strings.TrimSpace(p.Title)
		if p.Title == "" || strings.TrimSpace(p.Body) == "" {
			return nil, fmt.Errorf("%w: title and body are required", domain.ErrInvalidPayload)
		}
		if p.UserID == "" {
			p.UserID = call.UserID
		}
		if p.UserID != call.UserID {
			if auth == nil {
				return nil, domain.ErrForbidden
			}
			if _, err := auth.Authorize(ctx, call.UserID, domain.Role.CanManageBookings); err != nil {
				return nil, err
			}
		}
		if p.Channel == "" {
			p.Channel = "in_app"
		}

		n := &domain.Notification{
			ID:      uuid.NewString(),
			UserID:  p.UserID,
			Channel: p.Channel,
			Title:   p.Title,
			Body:    p.Body,
			Data:    p.Data,
		}
		if err := notifier.Notify(ctx, n); err != nil {
			return nil, err
		}
		return map[string]string{"notification_id": n.ID, "status": "queued"}, nil
	}
}
