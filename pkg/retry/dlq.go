package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DLQMessage is a record that could not be processed after all retries
type DLQMessage struct {
	ID             string            `json:"id"`
	OriginalTopic  string            `json:"original_topic"`
	OriginalKey    string            `json:"original_key"`
	Payload        json.RawMessage   `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	Error          string            `json:"error"`
	Attempts       int               `json:"attempts"`
	FirstAttemptAt time.Time         `json:"first_attempt_at"`
	LastAttemptAt  time.Time         `json:"last_attempt_at"`
	MovedToDLQAt   time.Time         `json:"moved_to_dlq_at"`
	Source         string            `json:"source"`
}

// DLQPublisher parks failed records
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
	DLQTopic(originalTopic string) string
}

// JSONProducer is the slice of the Kafka producer the DLQ needs
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic, key string, data any, headers map[string]string) error
}

// KafkaDLQPublisher writes failed records to "<topic><suffix>"
type KafkaDLQPublisher struct {
	producer JSONProducer
	suffix   string
	source   string
	now      func() time.Time
}

// NewKafkaDLQPublisher creates a DLQ publisher; an empty suffix means ".dlq"
func NewKafkaDLQPublisher(producer JSONProducer, suffix, source string) *KafkaDLQPublisher {
	if suffix == "" {
		suffix = ".dlq"
	}
	return &KafkaDLQPublisher{producer: producer, suffix: suffix, source: source, now: time.Now}
}

// PublishToDLQ stamps msg and produces it to the DLQ topic
func (p *KafkaDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("DLQ message cannot be nil")
	}

	msg.MovedToDLQAt = p.now()
	msg.Source = p.source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.OriginalTopic,
		"error":          msg.Error,
		"attempts":       strconv.Itoa(msg.Attempts),
		"source":         msg.Source,
	}
	for k, v := range msg.Headers {
		if _, taken := headers[k]; !taken {
			headers["original_"+k] = v
		}
	}

	return p.producer.ProduceJSON(ctx, p.DLQTopic(msg.OriginalTopic), msg.OriginalKey, msg, headers)
}

// DLQTopic returns the dead letter topic for originalTopic
func (p *KafkaDLQPublisher) DLQTopic(originalTopic string) string {
	return originalTopic + p.suffix
}

// NoOpDLQPublisher drops everything, used when Kafka is not configured
type NoOpDLQPublisher struct{}

func (NoOpDLQPublisher) PublishToDLQ(context.Context, *DLQMessage) error { return nil }
func (NoOpDLQPublisher) DLQTopic(originalTopic string) string          { return originalTopic + ".dlq" }

// Record identifies the message being processed
type Record struct {
	ID      string
	Topic   string
	Key     string
	Payload json.RawMessage
	Headers map[string]string
}

// DLQHandler retries a handler and parks the record when it keeps failing
type DLQHandler struct {
	retrier   *Retrier
	publisher DLQPublisher
	source    string
	onDLQ     func(msg *DLQMessage)
}

// NewDLQHandler creates a handler. onDLQ may be nil.
func NewDLQHandler(publisher DLQPublisher, retrier *Retrier, source string, onDLQ func(msg *DLQMessage)) *DLQHandler {
	if publisher == nil {
		publisher = NoOpDLQPublisher{}
	}
	if retrier == nil {
		retrier = New(nil)
	}
	return &DLQHandler{retrier: retrier, publisher: publisher, source: source, onDLQ: onDLQ}
}

// Process runs op under the retry policy. A record that still fails is
// published to the DLQ and the final error is returned.
func (h *DLQHandler) Process(ctx context.Context, rec Record, op Operation) error {
	first := time.Now()
	res := h.retrier.Do(ctx, op)
	if res.Err == nil {
		return nil
	}
	if res.Err == ErrContextCanceled {
		return res.Err
	}

	msg := &DLQMessage{
		ID:             rec.ID,
		OriginalTopic:  rec.Topic,
		OriginalKey:    rec.Key,
		Payload:        rec.Payload,
		Headers:        rec.Headers,
		Error:          res.Cause().Error(),
		Attempts:       res.Attempts,
		FirstAttemptAt: first,
		LastAttemptAt:  time.Now(),
		Source:         h.source,
	}
	if h.onDLQ != nil {
		h.onDLQ(msg)
	}

	if err := h.publisher.PublishToDLQ(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w (original error: %v)", err, res.Cause())
	}
	return res.Cause()
}
