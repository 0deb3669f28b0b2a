package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/kafka"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/retry"
	"github.com/Ebrudra/desk-access-hub/pkg/telemetry"
)

// Poller is the consumer side of the change topic
type Poller interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
}

// KafkaFeedConfig configures a KafkaFeed
type KafkaFeedConfig struct {
	Consumer Poller
	Hub      *Hub
	// DLQ receives records that cannot be decoded; nil drops them
	DLQ          retry.DLQPublisher
	Logger       *logger.Logger
	ErrorBackoff time.Duration
}

// KafkaFeed reads change events from Kafka and publishes them to the hub
type KafkaFeed struct {
	consumer Poller
	hub      *Hub
	dlq      *retry.DLQHandler
	log      *logger.Logger
	backoff  time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewKafkaFeed creates a feed. Call Start to begin polling.
func NewKafkaFeed(cfg *KafkaFeedConfig) *KafkaFeed {
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	backoff := cfg.ErrorBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	// Decoding is deterministic so a failed record goes straight to the DLQ
	retrier := retry.New(&retry.Config{MaxRetries: 0})
	return &KafkaFeed{
		consumer: cfg.Consumer,
		hub:      cfg.Hub,
		dlq:      retry.NewDLQHandler(cfg.DLQ, retrier, "console-change-feed", nil),
		log:      log,
		backoff:  backoff,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the poll loop
func (f *KafkaFeed) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.wg.Add(1)
	go f.run(ctx)
	f.log.Info("change feed started")
}

// Stop ends the poll loop and waits for it
func (f *KafkaFeed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	f.mu.Unlock()

	f.wg.Wait()
	f.log.Info("change feed stopped")
}

func (f *KafkaFeed) run(ctx context.Context) {
	defer f.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		records, err := f.consumer.Poll(ctx)
		if err != nil {
			if errors.Is(err, kafka.ErrClosed) || ctx.Err() != nil {
				return
			}
			f.log.Error("change feed poll failed", zap.Error(err))
			select {
			case <-time.After(f.backoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if len(records) == 0 {
			continue
		}

		for _, rec := range records {
			f.handle(ctx, rec)
		}

		if err := f.consumer.CommitRecords(ctx, records); err != nil && ctx.Err() == nil {
			f.log.Error("change feed commit failed", zap.Error(err))
		}
	}
}

func (f *KafkaFeed) handle(ctx context.Context, rec *kafka.Record) {
	headers := kafka.HeaderMap(rec)
	ctx = telemetry.ExtractHeaders(ctx, headers)
	ctx, span := telemetry.StartSpan(ctx, "realtime.feed.handle")
	defer span.End()

	r := retry.Record{
		ID:      fmt.Sprintf("%s/%d/%d", rec.Topic, rec.Partition, rec.Offset),
		Topic:   rec.Topic,
		Key:     string(rec.Key),
		Payload: dlqPayload(rec.Value),
		Headers: headers,
	}
	err := f.dlq.Process(ctx, r, func(ctx context.Context) error {
		ev, err := DecodeChangeEvent(rec.Value)
		if err != nil {
			return retry.Permanent(err)
		}
		n := f.hub.Publish(ev)
		f.log.Debug("change event delivered",
			zap.String("table", ev.Table), zap.String("type", string(ev.Type)), zap.Int("subscribers", n))
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		f.log.Warn("change event dropped", zap.String("record", r.ID), zap.Error(err))
	}
}

// dlqPayload keeps the DLQ message valid JSON even when the record is not
func dlqPayload(v []byte) json.RawMessage {
	if json.Valid(v) {
		return v
	}
	b, _ := json.Marshal(string(v))
	return b
}

// DecodeChangeEvent parses a change feed payload
func DecodeChangeEvent(b []byte) (*domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, fmt.Errorf("invalid change event: %w", err)
	}
	if ev.Table == "" {
		return nil, errors.New("invalid change event: missing table")
	}
	switch ev.Type {
	case domain.ChangeInsert, domain.ChangeUpdate, domain.ChangeDelete:
	default:
		return nil, fmt.Errorf("invalid change event: unknown type %q", ev.Type)
	}
	return &ev, nil
}
