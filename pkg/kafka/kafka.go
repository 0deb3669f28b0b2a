package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ebrudra/desk-access-hub/pkg/retry"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Record is a consumed Kafka record
type Record = kgo.Record

// ErrClosed is returned by Poll after Close
var ErrClosed = errors.New("kafka client closed")

// Message is an outgoing record
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

func (m *Message) record() *kgo.Record {
	r := &kgo.Record{
		Topic:     m.Topic,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Timestamp,
	}
	for k, v := range m.Headers {
		r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return r
}

// HeaderMap flattens record headers, later duplicates win
func HeaderMap(r *Record) map[string]string {
	if len(r.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

// connect creates a client and pings the cluster until it answers
func connect(ctx context.Context, maxRetries int, interval time.Duration, opts ...kgo.Opt) (*kgo.Client, error) {
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	res := retry.New(&retry.Config{
		MaxRetries:      maxRetries,
		InitialInterval: interval,
		MaxInterval:     interval,
		Multiplier:      1,
	}).Do(ctx, func(ctx context.Context) error {
		return client.Ping(ctx)
	})
	if res.Err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach kafka after %d attempts: %w", res.Attempts, res.Cause())
	}
	return client, nil
}

// ProducerConfig configures a Producer
type ProducerConfig struct {
	Brokers       []string
	ClientID      string
	MaxRetries    int
	RetryInterval time.Duration
	LingerMs      int
}

// Producer publishes messages synchronously
type Producer struct {
	client *kgo.Client
}

// NewProducer connects a producer
func NewProducer(ctx context.Context, cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer requires at least one broker")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.LingerMs > 0 {
		opts = append(opts, kgo.ProducerLinger(time.Duration(cfg.LingerMs)*time.Millisecond))
	}

	client, err := connect(ctx, cfg.MaxRetries, cfg.RetryInterval, opts...)
	if err != nil {
		return nil, err
	}
	return &Producer{client: client}, nil
}

// Produce writes msg and waits for the broker ack
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err := p.client.ProduceSync(ctx, msg.record()).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", msg.Topic, err)
	}
	return nil
}

// ProduceJSON marshals data and produces it
func (p *Producer) ProduceJSON(ctx context.Context, topic, key string, data any, headers map[string]string) error {
	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.Produce(ctx, &Message{Topic: topic, Key: []byte(key), Value: value, Headers: headers})
}

// Close flushes and closes the producer
func (p *Producer) Close() {
	p.client.Close()
}

// ConsumerConfig configures a group Consumer
type ConsumerConfig struct {
	Brokers          []string
	GroupID          string
	Topics           []string
	ClientID         string
	MaxRetries       int
	RetryInterval    time.Duration
	SessionTimeout   time.Duration
	RebalanceTimeout time.Duration
	// StartFromLatest skips history when the group has no committed offset
	StartFromLatest bool
}

// Consumer reads from a consumer group with manual commits
type Consumer struct {
	client *kgo.Client
}

// NewConsumer joins the consumer group
func NewConsumer(ctx context.Context, cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 || cfg.GroupID == "" || len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("kafka consumer requires brokers, group and topics")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ClientID(cfg.ClientID),
		kgo.DisableAutoCommit(),
	}
	if cfg.SessionTimeout > 0 {
		opts = append(opts, kgo.SessionTimeout(cfg.SessionTimeout))
	}
	if cfg.RebalanceTimeout > 0 {
		opts = append(opts, kgo.RebalanceTimeout(cfg.RebalanceTimeout))
	}
	if cfg.StartFromLatest {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}

	client, err := connect(ctx, cfg.MaxRetries, cfg.RetryInterval, opts...)
	if err != nil {
		return nil, err
	}
	return &Consumer{client: client}, nil
}

// Poll blocks until records arrive or ctx ends
func (c *Consumer) Poll(ctx context.Context) ([]*Record, error) {
	fetches := c.client.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, ErrClosed
	}
	if errs := fetches.Errors(); len(errs) > 0 {
		for _, fe := range errs {
			if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
				return nil, fe.Err
			}
		}
		return nil, fmt.Errorf("fetch %s[%d]: %w", errs[0].Topic, errs[0].Partition, errs[0].Err)
	}
	return fetches.Records(), nil
}

// CommitRecords commits offsets for records
func (c *Consumer) CommitRecords(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	return c.client.CommitRecords(ctx, records...)
}

// Close leaves the group and closes the client
func (c *Consumer) Close() {
	c.client.Close()
}
