package functions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/repository"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
)

type authorizerFunc func(ctx context.Context, userID string, allowed func(domain.Role) bool) (domain.Role, error)

func (f authorizerFunc) Authorize(ctx context.Context, userID string, allowed func(domain.Role) bool) (domain.Role, error) {
	return f(ctx, userID, allowed)
}

// rolesAuthorizer authorizes against a fixed user→role table and fails closed
// for anyone missing.
func rolesAuthorizer(roles map[string]domain.Role) Authorizer {
	return authorizerFunc(func(_ context.Context, userID string, allowed func(domain.Role) bool) (domain.Role, error) {
		r, ok := roles[userID]
		if !ok || !allowed(r) {
			return r, domain.ErrForbidden
		}
		return r, nil
	})
}

type notifierFunc func(ctx context.Context, n *domain.Notification) error

func (f notifierFunc) Notify(ctx context.Context, n *domain.Notification) error { return f(ctx, n) }

type produced struct {
	topic, key string
	data       any
	headers    map[string]string
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []produced
	err  error
}

func (p *fakeProducer) ProduceJSON(_ context.Context, topic, key string, data any, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, produced{topic: topic, key: key, data: data, headers: headers})
	return nil
}

type publishedChange struct {
	table       string
	typ         domain.ChangeType
	record, old any
}

type fakePublisher struct {
	mu      sync.Mutex
	changes []publishedChange
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, table string, typ domain.ChangeType, record, old any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.changes = append(p.changes, publishedChange{table: table, typ: typ, record: record, old: old})
	return nil
}

type fakeGateway struct {
	got *CheckoutRequest
	err error
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	g.got = req
	if g.err != nil {
		return nil, g.err
	}
	return &CheckoutSession{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1", AmountCents: req.AmountCents, Currency: req.Currency}, nil
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestRegistry_Invoke(t *testing.T) {
	r := NewRegistry(rolesAuthorizer(map[string]domain.Role{
		"admin-1":  domain.RoleAdmin,
		"member-1": domain.RoleMember,
	}), logger.NewNop())
	r.Register("echo", func(_ context.Context, call *Call) (any, error) {
		return call.UserID, nil
	}, nil)
	r.Register("admin-only", func(context.Context, *Call) (any, error) {
		return "ok", nil
	}, func(role domain.Role) bool { return role == domain.RoleAdmin })

	t.Run("open function", func(t *testing.T) {
		got, err := r.Invoke(context.Background(), "echo", &Call{UserID: "member-1"})
		require.NoError(t, err)
		assert.Equal(t, "member-1", got)
	})

	t.Run("unknown function", func(t *testing.T) {
		_, err := r.Invoke(context.Background(), "nope", &Call{UserID: "member-1"})
		assert.ErrorIs(t, err, domain.ErrFunctionNotFound)
	})

	t.Run("role allowed", func(t *testing.T) {
		got, err := r.Invoke(context.Background(), "admin-only", &Call{UserID: "admin-1"})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
	})

	t.Run("role denied", func(t *testing.T) {
		_, err := r.Invoke(context.Background(), "admin-only", &Call{UserID: "member-1"})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	assert.Equal(t, []string{"admin-only", "echo"}, r.Names())
}

func TestRegistry_RestrictedWithoutAuthorizer(t *testing.T) {
	r := NewRegistry(nil, logger.NewNop())
	called := false
	r.Register("locked", func(context.Context, *Call) (any, error) {
		called = true
		return nil, nil
	}, domain.Role.CanManageBookings)

	_, err := r.Invoke(context.Background(), "locked", &Call{UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.False(t, called)
}

func TestRegistry_RecoversPanic(t *testing.T) {
	r := NewRegistry(nil, logger.NewNop())
	r.Register("boom", func(context.Context, *Call) (any, error) {
		panic("nil map")
	}, nil)

	got, err := r.Invoke(context.Background(), "boom", &Call{UserID: "u1"})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "boom")
}

func TestCall_Decode(t *testing.T) {
	var p notificationPayload
	assert.NoError(t, (&Call{}).Decode(&p))

	err := (&Call{Payload: json.RawMessage(`{"title":`)}).Decode(&p)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestSendNotification(t *testing.T) {
	var got []*domain.Notification
	notifier := notifierFunc(func(_ context.Context, n *domain.Notification) error {
		got = append(got, n)
		return nil
	})
	auth := rolesAuthorizer(map[string]domain.Role{
		"mgr":    domain.RoleManager,
		"member": domain.RoleMember,
	})
	fn := NewSendNotification(notifier, auth)

	t.Run("defaults to the caller", func(t *testing.T) {
		got = nil
		res, err := fn(context.Background(), &Call{UserID: "member", Payload: payload(t, map[string]string{
			"title": "Hello", "body": "Welcome aboard",
		})})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "member", got[0].UserID)
		assert.Equal(t, "in_app", got[0].Channel)

		out := res.(map[string]string)
		assert.Equal(t, "queued", out["status"])
		assert.Equal(t, got[0].ID, out["notification_id"])
	})

	t.Run("requires title and body", func(t *testing.T) {
		_, err := fn(context.Background(), &Call{UserID: "member", Payload: payload(t, map[string]string{"title": "  "})})
		assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	})

	t.Run("member cannot notify someone else", func(t *testing.T) {
		got = nil
		_, err := fn(context.Background(), &Call{UserID: "member", Payload: payload(t, map[string]string{
			"user_id": "other", "title": "Hi", "body": "there",
		})})
		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.Empty(t, got)
	})

	t.Run("manager can notify someone else", func(t *testing.T) {
		got = nil
		_, err := fn(context.Background(), &Call{UserID: "mgr", Payload: payload(t, map[string]string{
			"user_id": "other", "title": "Hi", "body": "there", "channel": "email",
		})})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "other", got[0].UserID)
		assert.Equal(t, "email", got[0].Channel)
	})
}

func TestKafkaNotifier_Notify(t *testing.T) {
	p := &fakeProducer{}
	n := NewKafkaNotifier(p, "hub.notifications")
	n.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

	msg := &domain.Notification{UserID: "u1", Channel: "email", Title: "t", Body: "b"}
	require.NoError(t, n.Notify(context.Background(), msg))

	require.Len(t, p.msgs, 1)
	assert.Equal(t, "hub.notifications", p.msgs[0].topic)
	assert.Equal(t, "u1", p.msgs[0].key)
	assert.Equal(t, "application/json", p.msgs[0].headers["content_type"])
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, n.now(), msg.CreatedAt)

	p.err = errors.New("broker down")
	assert.Error(t, n.Notify(context.Background(), &domain.Notification{UserID: "u1"}))
}

func TestToCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"12.5", 1250},
		{"0.005", 1},
		{"19.994", 1999},
		{"100", 10000},
		{"0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ToCents(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	booking := &domain.Booking{
		ID:           "b1",
		UserID:       "u1",
		ResourceName: "Desk 4",
		Status:       domain.BookingStatusPending,
		TotalAmount:  42.5,
	}
	bookings := &repository.MockBookingRepository{
		GetByIDFunc: func(_ context.Context, id string) (*domain.Booking, error) {
			if id == booking.ID {
				return booking, nil
			}
			return nil, nil
		},
	}
	cfg := CheckoutConfig{Currency: "EUR", SuccessURL: "https://hub.example/ok", CancelURL: "https://hub.example/cancel"}

	t.Run("booking amount and owner", func(t *testing.T) {
		gw := &fakeGateway{}
		fn := NewCreateCheckoutSession(gw, bookings, cfg)
		res, err := fn(context.Background(), &Call{UserID: "u1", Email: "u1@example.com", Payload: payload(t, map[string]string{"booking_id": "b1"})})
		require.NoError(t, err)

		s := res.(*CheckoutSession)
		assert.Equal(t, int64(4250), s.AmountCents)
		assert.Equal(t, "eur", gw.got.Currency)
		assert.Equal(t, "Booking: Desk 4", gw.got.Description)
		assert.Equal(t, "b1", gw.got.BookingID)
		assert.Equal(t, "u1@example.com", gw.got.CustomerEmail)
	})

	t.Run("someone else's booking", func(t *testing.T) {
		gw := &fakeGateway{}
		fn := NewCreateCheckoutSession(gw, bookings, cfg)
		_, err := fn(context.Background(), &Call{UserID: "u2", Payload: payload(t, map[string]string{"booking_id": "b1"})})
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
		assert.Nil(t, gw.got)
	})

	t.Run("explicit amount", func(t *testing.T) {
		gw := &fakeGateway{}
		fn := NewCreateCheckoutSession(gw, bookings, cfg)
		_, err := fn(context.Background(), &Call{UserID: "u1", Payload: json.RawMessage(`{"amount":"15.25","description":"Day pass"}`)})
		require.NoError(t, err)
		assert.Equal(t, int64(1525), gw.got.AmountCents)
		assert.Equal(t, "Day pass", gw.got.Description)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		fn := NewCreateCheckoutSession(&fakeGateway{}, bookings, cfg)
		_, err := fn(context.Background(), &Call{UserID: "u1", Payload: json.RawMessage(`{"amount":"0"}`)})
		assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	})

	t.Run("missing redirect urls", func(t *testing.T) {
		fn := NewCreateCheckoutSession(&fakeGateway{}, bookings, CheckoutConfig{})
		_, err := fn(context.Background(), &Call{UserID: "u1", Payload: json.RawMessage(`{"amount":"5"}`)})
		assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	})

	t.Run("checkout disabled", func(t *testing.T) {
		fn := NewCreateCheckoutSession(nil, bookings, cfg)
		_, err := fn(context.Background(), &Call{UserID: "u1"})
		assert.ErrorIs(t, err, domain.ErrCheckoutDisabled)
	})
}

func TestNewStripeCheckout_RequiresKey(t *testing.T) {
	_, err := NewStripeCheckout(nil)
	assert.Error(t, err)
	_, err = NewStripeCheckout(&StripeCheckoutConfig{})
	assert.Error(t, err)
}

func fixedNow() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

func TestTaskRunner_ExpirePending(t *testing.T) {
	var cutoff time.Time
	bookings := &repository.MockBookingRepository{
		ExpirePendingFunc: func(_ context.Context, at time.Time, limit int) ([]*domain.Booking, error) {
			cutoff = at
			assert.Equal(t, 100, limit)
			return []*domain.Booking{
				{ID: "b1", UserID: "u1", Status: domain.BookingStatusCancelled},
				{ID: "b2", UserID: "u2", Status: domain.BookingStatusCancelled},
			}, nil
		},
	}
	pub := &fakePublisher{}
	runner := NewTaskRunner(bookings, pub, nil, TaskConfig{Now: fixedNow, Logger: logger.NewNop()})

	res, err := runner.Run(context.Background(), TaskExpirePendingBookings)
	require.NoError(t, err)
	assert.Equal(t, fixedNow(), cutoff)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, []string{"b1", "b2"}, res.IDs)

	require.Len(t, pub.changes, 2)
	for _, c := range pub.changes {
		assert.Equal(t, domain.TableBookings, c.table)
		assert.Equal(t, domain.ChangeUpdate, c.typ)
		assert.Equal(t, domain.BookingStatusPending, c.old.(*domain.Booking).Status)
		assert.Equal(t, domain.BookingStatusCancelled, c.record.(*domain.Booking).Status)
	}
}

func TestTaskRunner_ExpirePending_PublishFailureCounted(t *testing.T) {
	bookings := &repository.MockBookingRepository{
		ExpirePendingFunc: func(context.Context, time.Time, int) ([]*domain.Booking, error) {
			return []*domain.Booking{{ID: "b1"}}, nil
		},
	}
	runner := NewTaskRunner(bookings, &fakePublisher{err: errors.New("broker down")}, nil, TaskConfig{Logger: logger.NewNop()})

	res, err := runner.Run(context.Background(), TaskExpirePendingBookings)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
}

func TestTaskRunner_Reminders(t *testing.T) {
	var filter domain.BookingFilter
	bookings := &repository.MockBookingRepository{
		ListFunc: func(_ context.Context, f domain.BookingFilter) ([]*domain.Booking, error) {
			filter = f
			return []*domain.Booking{
				{ID: "b1", UserID: "u1", ResourceName: "Room A", StartTime: fixedNow().Add(3 * time.Hour)},
				{ID: "b2", UserID: "u2", StartTime: fixedNow().Add(5 * time.Hour)},
			}, nil
		},
	}
	var sent []*domain.Notification
	notifier := notifierFunc(func(_ context.Context, n *domain.Notification) error {
		if n.UserID == "u2" {
			return errors.New("queue full")
		}
		sent = append(sent, n)
		return nil
	})
	runner := NewTaskRunner(bookings, nil, notifier, TaskConfig{Now: fixedNow, Logger: logger.NewNop()})

	res, err := runner.Run(context.Background(), TaskBookingReminders)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, filter.Status)
	assert.Equal(t, fixedNow(), filter.From)
	assert.Equal(t, fixedNow().Add(24*time.Hour), filter.To)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)

	require.Len(t, sent, 1)
	assert.Equal(t, "email", sent[0].Channel)
	assert.Contains(t, sent[0].Body, "Room A")
	assert.Equal(t, "b1", sent[0].Data["booking_id"])
}

func TestRunAutomatedTask(t *testing.T) {
	runner := NewTaskRunner(&repository.MockBookingRepository{}, nil, nil, TaskConfig{Logger: logger.NewNop()})
	fn := NewRunAutomatedTask(runner)

	_, err := fn(context.Background(), &Call{UserID: "admin"})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = fn(context.Background(), &Call{UserID: "admin", Payload: payload(t, map[string]string{"task": "reindex"})})
	assert.ErrorIs(t, err, domain.ErrUnknownTask)

	res, err := fn(context.Background(), &Call{UserID: "admin", Payload: payload(t, map[string]string{"task": TaskExpirePendingBookings})})
	require.NoError(t, err)
	assert.Equal(t, 0, res.(*TaskResult).Processed)
}

func TestScheduler_RunOnce(t *testing.T) {
	runs := 0
	bookings := &repository.MockBookingRepository{
		ExpirePendingFunc: func(context.Context, time.Time, int) ([]*domain.Booking, error) {
			runs++
			return []*domain.Booking{{ID: "b1"}}, nil
		},
	}
	runner := NewTaskRunner(bookings, nil, nil, TaskConfig{Now: fixedNow, Logger: logger.NewNop()})
	s := NewScheduler(runner, &SchedulerConfig{
		Interval: time.Hour,
		Tasks:    []string{TaskExpirePendingBookings, "missing"},
	})

	s.RunOnce(context.Background())

	stats := s.GetStats()
	assert.Equal(t, 1, runs)
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(1), stats.TotalProcessed)
	assert.Equal(t, int64(1), stats.TotalFailed)
	assert.Equal(t, fixedNow(), stats.LastRunTime)
	assert.False(t, stats.IsRunning)
}

func TestScheduler_StartStop(t *testing.T) {
	ran := make(chan struct{}, 1)
	bookings := &repository.MockBookingRepository{
		ExpirePendingFunc: func(context.Context, time.Time, int) ([]*domain.Booking, error) {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}
	s := NewScheduler(NewTaskRunner(bookings, nil, nil, TaskConfig{Logger: logger.NewNop()}), &SchedulerConfig{
		Interval: time.Hour,
		Tasks:    []string{TaskExpirePendingBookings},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not run on start")
	}

	s.Stop()
	assert.False(t, s.GetStats().IsRunning)
	s.Stop()
}
