package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/kafka"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/retry"
)

func bookingEvent(t *testing.T, typ domain.ChangeType, userID string) *domain.ChangeEvent {
	t.Helper()
	ev, err := domain.NewChangeEvent("e1", domain.TableBookings, typ,
		map[string]any{"id": "b1", "user_id": userID, "status": "pending"}, nil, time.Now())
	require.NoError(t, err)
	return ev
}

func TestFilter_Matches(t *testing.T) {
	ev := bookingEvent(t, domain.ChangeUpdate, "u1")

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches all", Filter{}, true},
		{"table", Filter{Table: domain.TableBookings}, true},
		{"other table", Filter{Table: domain.TableMembers}, false},
		{"event listed", Filter{Events: []domain.ChangeType{domain.ChangeInsert, domain.ChangeUpdate}}, true},
		{"event not listed", Filter{Events: []domain.ChangeType{domain.ChangeDelete}}, false},
		{"column equals", Filter{Table: domain.TableBookings, Column: "user_id", Value: "u1"}, true},
		{"column differs", Filter{Table: domain.TableBookings, Column: "user_id", Value: "u2"}, false},
		{"column missing", Filter{Column: "resource_id", Value: "r1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(ev))
		})
	}
}

func TestFilter_DeleteUsesOldRecord(t *testing.T) {
	ev, err := domain.NewChangeEvent("e1", domain.TableBookings, domain.ChangeDelete, nil,
		map[string]any{"user_id": "u1"}, time.Now())
	require.NoError(t, err)
	assert.True(t, Filter{Column: "user_id", Value: "u1"}.Matches(ev))
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub(logger.NewNop())
	var got []string
	sub := hub.Subscribe("test", []Filter{{Table: domain.TableBookings}}, func(ev *domain.ChangeEvent) {
		got = append(got, ev.Table)
	})

	assert.Equal(t, 1, hub.Publish(bookingEvent(t, domain.ChangeInsert, "u1")))
	assert.Equal(t, 0, hub.Publish(&domain.ChangeEvent{Table: domain.TableMembers, Type: domain.ChangeInsert}))
	assert.Equal(t, []string{domain.TableBookings}, got)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, 0, hub.Publish(bookingEvent(t, domain.ChangeInsert, "u1")))
	assert.Len(t, got, 1)
}

func TestHub_UnsubscribeWaitsForDelivery(t *testing.T) {
	hub := NewHub(logger.NewNop())
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	sub := hub.Subscribe("slow", nil, func(ev *domain.ChangeEvent) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(entered)
			<-release
		}
	})

	go hub.Publish(bookingEvent(t, domain.ChangeInsert, "u1"))
	<-entered

	done := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Unsubscribe returned while a delivery was running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-done

	hub.Publish(bookingEvent(t, domain.ChangeInsert, "u1"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestHub_HandlerPanicIsContained(t *testing.T) {
	hub := NewHub(logger.NewNop())
	hub.Subscribe("bad", nil, func(*domain.ChangeEvent) { panic("boom") })
	var ok bool
	hub.Subscribe("good", nil, func(*domain.ChangeEvent) { ok = true })

	assert.NotPanics(t, func() { hub.Publish(bookingEvent(t, domain.ChangeInsert, "u1")) })
	assert.True(t, ok)
}

type recordingCache struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingCache) Invalidate(keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, keys...)
}

func (r *recordingCache) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func userBindings(userID string) []Binding {
	return []Binding{
		{
			Filter: Filter{Table: domain.TableBookings, Column: "user_id", Value: userID},
			Keys:   StaticKeys("bookings:user:" + userID),
		},
		{
			Filter: Filter{Table: domain.TableResources},
			Keys:   StaticKeys("resources:all"),
		},
	}
}

func TestBridge_InvalidatesMatchingKeys(t *testing.T) {
	hub := NewHub(logger.NewNop())
	cache := &recordingCache{}
	b := NewBridge(hub, cache, userBindings, logger.NewNop())
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	b.Rebind("u1")
	defer b.Close()

	updates := b.Updates()
	hub.Publish(bookingEvent(t, domain.ChangeInsert, "u1"))

	assert.Equal(t, []string{"bookings:user:u1"}, cache.Keys())
	assert.Equal(t, now, b.LastUpdated())
	select {
	case <-updates:
	default:
		t.Fatal("Updates channel was not closed")
	}

	hub.Publish(bookingEvent(t, domain.ChangeInsert, "u2"))
	assert.Len(t, cache.Keys(), 1)
}

func TestBridge_RebindDropsOldIdentity(t *testing.T) {
	hub := NewHub(logger.NewNop())
	cache := &recordingCache{}
	b := NewBridge(hub, cache, userBindings, logger.NewNop())
	b.Rebind("u1")
	b.Rebind("u2")
	defer b.Close()

	assert.Equal(t, 1, hub.Len())
	assert.Equal(t, "u2", b.UserID())

	hub.Publish(bookingEvent(t, domain.ChangeUpdate, "u1"))
	assert.Empty(t, cache.Keys())
	hub.Publish(bookingEvent(t, domain.ChangeUpdate, "u2"))
	assert.Equal(t, []string{"bookings:user:u2"}, cache.Keys())
}

func TestBridge_NoInvalidationAfterClose(t *testing.T) {
	hub := NewHub(logger.NewNop())
	cache := &recordingCache{}
	b := NewBridge(hub, cache, userBindings, logger.NewNop())
	b.Rebind("u1")
	updates := b.Updates()

	b.Close()
	b.Close()
	_, open := <-updates
	assert.False(t, open)
	assert.Equal(t, 0, hub.Len())

	hub.Publish(bookingEvent(t, domain.ChangeInsert, "u1"))
	b.Rebind("u1")
	hub.Publish(bookingEvent(t, domain.ChangeInsert, "u1"))
	assert.Empty(t, cache.Keys())
	assert.True(t, b.LastUpdated().IsZero())
}

type fakeProducer struct {
	mu      sync.Mutex
	topics  []string
	keys    []string
	data    []any
	headers []map[string]string
	err     error
}

func (f *fakeProducer) ProduceJSON(ctx context.Context, topic, key string, data any, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.keys = append(f.keys, key)
	f.data = append(f.data, data)
	f.headers = append(f.headers, headers)
	return f.err
}

func TestPublisher_ProducesToTopic(t *testing.T) {
	p := &fakeProducer{}
	pub := NewPublisher(p, "hub.table-changes", nil)

	err := pub.Publish(context.Background(), domain.TableBookings, domain.ChangeInsert, map[string]any{"user_id": "u1"}, nil)
	require.NoError(t, err)
	require.Len(t, p.topics, 1)
	assert.Equal(t, "hub.table-changes", p.topics[0])
	assert.Equal(t, domain.TableBookings, p.keys[0])
	ev := p.data[0].(*domain.ChangeEvent)
	assert.Equal(t, domain.ChangeInsert, ev.Type)
	assert.NotEmpty(t, ev.ID)

	p.err = errors.New("broker down")
	assert.Error(t, pub.Publish(context.Background(), domain.TableBookings, domain.ChangeDelete, nil, nil))
}

func TestPublisher_LocalHubWithoutProducer(t *testing.T) {
	hub := NewHub(logger.NewNop())
	var got *domain.ChangeEvent
	hub.Subscribe("t", nil, func(ev *domain.ChangeEvent) { got = ev })

	pub := NewPublisher(nil, "", hub)
	require.NoError(t, pub.Publish(context.Background(), domain.TableMembers, domain.ChangeUpdate, map[string]any{"id": "m1"}, nil))
	require.NotNil(t, got)
	assert.Equal(t, domain.TableMembers, got.Table)
}

func TestDecodeChangeEvent(t *testing.T) {
	ev, err := DecodeChangeEvent([]byte(`{"table":"bookings","type":"DELETE","old_record":{"user_id":"u1"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeDelete, ev.Type)

	for _, bad := range []string{`not json`, `{"type":"INSERT"}`, `{"table":"bookings","type":"TRUNCATE"}`} {
		_, err := DecodeChangeEvent([]byte(bad))
		assert.Error(t, err, bad)
	}
}

type fakePoller struct {
	mu        sync.Mutex
	batches   [][]*kafka.Record
	committed int
}

func (f *fakePoller) Poll(ctx context.Context) ([]*kafka.Record, error) {
	f.mu.Lock()
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return b, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakePoller) CommitRecords(ctx context.Context, records []*kafka.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed += len(records)
	return nil
}

func (f *fakePoller) Committed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed
}

type fakeDLQ struct {
	mu   sync.Mutex
	msgs []*retry.DLQMessage
}

func (f *fakeDLQ) PublishToDLQ(ctx context.Context, msg *retry.DLQMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeDLQ) DLQTopic(topic string) string { return topic + ".dlq" }

func (f *fakeDLQ) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestKafkaFeed_PublishesAndParksBadRecords(t *testing.T) {
	hub := NewHub(logger.NewNop())
	var mu sync.Mutex
	var tables []string
	hub.Subscribe("t", nil, func(ev *domain.ChangeEvent) {
		mu.Lock()
		tables = append(tables, ev.Table)
		mu.Unlock()
	})

	poller := &fakePoller{batches: [][]*kafka.Record{{
		{Topic: "hub.table-changes", Value: []byte(`{"table":"bookings","type":"INSERT","record":{"user_id":"u1"}}`)},
		{Topic: "hub.table-changes", Offset: 1, Value: []byte(`garbage`)},
	}}}
	dlq := &fakeDLQ{}
	feed := NewKafkaFeed(&KafkaFeedConfig{Consumer: poller, Hub: hub, DLQ: dlq, Logger: logger.NewNop()})
	feed.Start(context.Background())

	require.Eventually(t, func() bool { return poller.Committed() == 2 }, time.Second, time.Millisecond)
	feed.Stop()
	feed.Stop()

	mu.Lock()
	assert.Equal(t, []string{domain.TableBookings}, tables)
	mu.Unlock()
	require.Equal(t, 1, dlq.Len())
	assert.Equal(t, "hub.table-changes", dlq.msgs[0].OriginalTopic)
	assert.JSONEq(t, `"garbage"`, string(dlq.msgs[0].Payload))
}
