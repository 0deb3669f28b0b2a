package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/retry"
	"github.com/Ebrudra/desk-access-hub/pkg/telemetry"
)

// ChangePublisher emits change events after a successful mutation
type ChangePublisher interface {
	Publish(ctx context.Context, table string, typ domain.ChangeType, record, old any) error
}

// Publisher writes change events to the change topic. Without a producer it
// delivers straight to the local hub, which is enough for a single instance.
type Publisher struct {
	producer retry.JSONProducer
	topic    string
	hub      *Hub
	now      func() time.Time
}

// NewPublisher creates a publisher; producer may be nil
func NewPublisher(producer retry.JSONProducer, topic string, hub *Hub) *Publisher {
	return &Publisher{producer: producer, topic: topic, hub: hub, now: time.Now}
}

// Publish emits one change event keyed by table so a table's events stay ordered per partition
func (p *Publisher) Publish(ctx context.Context, table string, typ domain.ChangeType, record, old any) error {
	ctx, span := telemetry.StartSpan(ctx, "realtime.publish")
	defer span.End()

	ev, err := domain.NewChangeEvent(uuid.NewString(), table, typ, record, old, p.now().UTC())
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to encode change event: %w", err)
	}

	if p.producer == nil {
		if p.hub != nil {
			p.hub.Publish(ev)
		}
		return nil
	}

	headers := telemetry.InjectHeaders(ctx, map[string]string{"content_type": "application/json"})
	if err := p.producer.ProduceJSON(ctx, p.topic, table, ev, headers); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}
