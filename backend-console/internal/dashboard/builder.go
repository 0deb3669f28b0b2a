package dashboard

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/analytics"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/querycache"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/repository"
)

const listLimit = 1000

// Repositories are the tables the dashboards read
type Repositories struct {
	Bookings  repository.BookingRepository
	Members   repository.MemberRepository
	Resources repository.ResourceRepository
	Payments  repository.PaymentRepository
}

// CardError is the inline error of a card that could not load
type CardError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Card is one figure on a dashboard. A card with Error may still carry the
// last good Value.
type Card struct {
	ID    string     `json:"id"`
	Title string     `json:"title"`
	Value any        `json:"value,omitempty"`
	Error *CardError `json:"error,omitempty"`
}

// QuickAction is a shortcut link
type QuickAction struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// Dashboard is the rendered view model
type Dashboard struct {
	Dispatch
	Role        domain.Role   `json:"role"`
	Cards       []Card        `json:"cards,omitempty"`
	Actions     []QuickAction `json:"actions,omitempty"`
	LastUpdated time.Time     `json:"last_updated,omitzero"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Card returns the card with id, or nil
func (d *Dashboard) Card(id string) *Card {
	for i := range d.Cards {
		if d.Cards[i].ID == id {
			return &d.Cards[i]
		}
	}
	return nil
}

type memberSummary struct {
	MonthCount int
	MonthSpend float64
	ByWeekday  []analytics.DayCount
}

type bookingSummary struct {
	Today     int
	Pending   int
	ByWeekday []analytics.DayCount
}

// Builder renders dashboards for one console. It reads through the console's
// query cache, so each card is an independent cached query.
type Builder struct {
	repos Repositories
	cache *querycache.Cache
	now   func() time.Time
	loc   *time.Location

	members  *analytics.Memo[*domain.Booking, memberSummary]
	bookings *analytics.Memo[*domain.Booking, bookingSummary]
	tiers    *analytics.Memo[*domain.Payment, []analytics.TierShare]
}

// NewBuilder creates a Builder. loc is the time zone days and months are
// counted in; nil means UTC.
func NewBuilder(repos Repositories, cache *querycache.Cache, now func() time.Time, loc *time.Location) *Builder {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	b := &Builder{repos: repos, cache: cache, now: now, loc: loc}

	// the memos read the clock when they miss, which is once per refetch
	b.members = analytics.NewMemo(func(rows []*domain.Booking) memberSummary {
		monthStart := analytics.MonthStart(b.now().In(b.loc))
		var month []*domain.Booking
		for _, r := range rows {
			if !r.StartTime.Before(monthStart) && r.Status != domain.BookingStatusCancelled {
				month = append(month, r)
			}
		}
		return memberSummary{
			MonthCount: len(month),
			MonthSpend: analytics.SumAmounts(month),
			ByWeekday:  analytics.BookingsByWeekday(rows, b.loc),
		}
	})
	b.bookings = analytics.NewMemo(func(rows []*domain.Booking) bookingSummary {
		start, end := analytics.DayBounds(b.now().In(b.loc))
		today := 0
		for _, r := range rows {
			if !r.StartTime.Before(start) && r.StartTime.Before(end) {
				today++
			}
		}
		return bookingSummary{
			Today:     today,
			Pending:   analytics.CountWithStatus(rows, domain.BookingStatusPending),
			ByWeekday: analytics.BookingsByWeekday(rows, b.loc),
		}
	})
	b.tiers = analytics.NewMemo(analytics.RevenueByTier)
	return b
}

// Build renders the dashboard for a role state. Cards load concurrently and
// a failing card never fails the dashboard.
func (b *Builder) Build(ctx context.Context, userID string, state domain.RoleState) *Dashboard {
	d := &Dashboard{
		Dispatch:    Render(state),
		Role:        state.Role,
		GeneratedAt: b.now(),
	}

	var specs []cardSpec
	switch d.View {
	case ViewMember:
		specs = b.memberCards(userID)
		d.Actions = memberActions
	case ViewManager:
		specs = b.managerCards()
		d.Actions = managerActions
	case ViewAdmin:
		specs = b.adminCards()
		d.Actions = adminActions
	default:
		return d
	}

	d.Cards = make([]Card, len(specs))
	var g errgroup.Group
	for i, spec := range specs {
		g.Go(func() error {
			d.Cards[i] = spec.load(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return d
}

type cardSpec struct {
	id, title string
	value     func(ctx context.Context) (any, error)
}

func (s cardSpec) load(ctx context.Context) Card {
	c := Card{ID: s.id, Title: s.title}
	v, err := s.value(ctx)
	c.Value = v
	if err != nil {
		c.Error = cardError(err)
	}
	return c
}

func cardError(err error) *CardError {
	if qe, ok := querycache.AsQueryError(err); ok {
		return &CardError{Code: qe.Code, Message: qe.Message}
	}
	return &CardError{Code: "error", Message: err.Error()}
}

var (
	memberActions = []QuickAction{
		{Label: "Book a space", Href: "/bookings/new"},
		{Label: "My bookings", Href: "/bookings"},
		{Label: "Billing", Href: "/billing"},
		{Label: "Profile", Href: "/profile"},
	}
	managerActions = []QuickAction{
		{Label: "Approve bookings", Href: "/bookings?status=pending"},
		{Label: "Resources", Href: "/resources"},
		{Label: "Members", Href: "/members"},
		{Label: "Analytics", Href: "/analytics"},
	}
	adminActions = []QuickAction{
		{Label: "Users & roles", Href: "/admin/users"},
		{Label: "Billing", Href: "/billing"},
		{Label: "Analytics", Href: "/analytics"},
		{Label: "Settings", Href: "/settings"},
		{Label: "Automations", Href: "/admin/automations"},
	}
)

func (b *Builder) memberCards(userID string) []cardSpec {
	mine := func(ctx context.Context) ([]*domain.Booking, error) {
		return b.MyBookings(ctx, userID)
	}
	summary := func(ctx context.Context) (memberSummary, bool, error) {
		rows, err := mine(ctx)
		if rows == nil {
			return memberSummary{}, false, err
		}
		return b.members.Get(rows), true, err
	}

	return []cardSpec{
		{id: "upcoming_bookings", title: "Upcoming bookings", value: func(ctx context.Context) (any, error) {
			rows, err := mine(ctx)
			if rows == nil {
				return nil, err
			}
			return analytics.Upcoming(rows, b.now(), 5), err
		}},
		{id: "bookings_this_month", title: "Bookings this month", value: func(ctx context.Context) (any, error) {
			s, ok, err := summary(ctx)
			return valueOrNil(s.MonthCount, ok, err)
		}},
		{id: "spend_this_month", title: "Spent this month", value: func(ctx context.Context) (any, error) {
			s, ok, err := summary(ctx)
			return valueOrNil(s.MonthSpend, ok, err)
		}},
		{id: "bookings_by_weekday", title: "Bookings by weekday", value: func(ctx context.Context) (any, error) {
			s, ok, err := summary(ctx)
			return valueOrNil(s.ByWeekday, ok, err)
		}},
		{id: "payments_this_month", title: "Payments this month", value: func(ctx context.Context) (any, error) {
			rows, err := b.MyPayments(ctx, userID)
			if rows == nil {
				return nil, err
			}
			return analytics.SumPayments(rows), err
		}},
	}
}

func (b *Builder) managerCards() []cardSpec {
	summary := func(ctx context.Context) (bookingSummary, bool, error) {
		rows, err := b.AllBookings(ctx)
		if rows == nil {
			return bookingSummary{}, false, err
		}
		return b.bookings.Get(rows), true, err
	}

	return []cardSpec{
		{id: "today_bookings", title: "Today's bookings", value: func(ctx context.Context) (any, error) {
			s, ok, err := summary(ctx)
			return valueOrNil(s.Today, ok, err)
		}},
		{id: "pending_approvals", title: "Pending approvals", value: func(ctx context.Context) (any, error) {
			s, ok, err := summary(ctx)
			return valueOrNil(s.Pending, ok, err)
		}},
		{id: "occupancy", title: "Occupancy today", value: func(ctx context.Context) (any, error) {
			resources, rerr := b.Resources(ctx)
			rows, berr := b.AllBookings(ctx)
			err := errors.Join(rerr, berr)
			if resources == nil || rows == nil {
				return nil, err
			}
			start, end := analytics.DayBounds(b.now().In(b.loc))
			return analytics.OccupancyByResource(resources, rows, start, end), err
		}},
		{id: "active_members", title: "Active members", value: func(ctx context.Context) (any, error) {
			members, err := b.Members(ctx)
			if members == nil {
				return nil, err
			}
			return analytics.ActiveMembers(members), err
		}},
	}
}

func (b *Builder) adminCards() []cardSpec {
	return []cardSpec{
		{id: "revenue_this_month", title: "Revenue this month", value: func(ctx context.Context) (any, error) {
			payments, err := b.Payments(ctx)
			if payments == nil {
				return nil, err
			}
			return analytics.SumPayments(payments), err
		}},
		{id: "revenue_by_tier", title: "Revenue by membership tier", value: func(ctx context.Context) (any, error) {
			payments, err := b.Payments(ctx)
			if payments == nil {
				return nil, err
			}
			return b.tiers.Get(payments), err
		}},
		{id: "total_members", title: "Total members", value: func(ctx context.Context) (any, error) {
			members, err := b.Members(ctx)
			if members == nil {
				return nil, err
			}
			return len(members), err
		}},
		{id: "total_resources", title: "Total resources", value: func(ctx context.Context) (any, error) {
			resources, err := b.Resources(ctx)
			if resources == nil {
				return nil, err
			}
			return len(resources), err
		}},
		{id: "bookings_by_weekday", title: "Bookings by weekday", value: func(ctx context.Context) (any, error) {
			rows, err := b.AllBookings(ctx)
			if rows == nil {
				return nil, err
			}
			return b.bookings.Get(rows).ByWeekday, err
		}},
		{id: "pending_bookings", title: "Pending bookings", value: func(ctx context.Context) (any, error) {
			rows, err := b.AllBookings(ctx)
			if rows == nil {
				return nil, err
			}
			return b.bookings.Get(rows).Pending, err
		}},
	}
}

func valueOrNil(v any, ok bool, err error) (any, error) {
	if !ok {
		return nil, err
	}
	return v, err
}

// MyBookings reads the user's bookings through the cache
func (b *Builder) MyBookings(ctx context.Context, userID string) ([]*domain.Booking, error) {
	return querycache.Fetch(ctx, b.cache, MyBookingsKey(userID), func(ctx context.Context) ([]*domain.Booking, error) {
		return nonNil(b.repos.Bookings.List(ctx, domain.BookingFilter{UserID: userID, Limit: listLimit}))
	})
}

// AllBookings reads every booking through the cache
func (b *Builder) AllBookings(ctx context.Context) ([]*domain.Booking, error) {
	return querycache.Fetch(ctx, b.cache, AllBookingsKey, func(ctx context.Context) ([]*domain.Booking, error) {
		return nonNil(b.repos.Bookings.List(ctx, domain.BookingFilter{Limit: listLimit}))
	})
}

// Members reads members through the cache
func (b *Builder) Members(ctx context.Context) ([]*domain.Member, error) {
	return querycache.Fetch(ctx, b.cache, MembersKey, func(ctx context.Context) ([]*domain.Member, error) {
		return nonNil(b.repos.Members.List(ctx))
	})
}

// Resources reads resources through the cache
func (b *Builder) Resources(ctx context.Context) ([]*domain.Resource, error) {
	return querycache.Fetch(ctx, b.cache, ResourcesKey, func(ctx context.Context) ([]*domain.Resource, error) {
		return nonNil(b.repos.Resources.List(ctx))
	})
}

// Payments reads this month's payments through the cache
func (b *Builder) Payments(ctx context.Context) ([]*domain.Payment, error) {
	return querycache.Fetch(ctx, b.cache, PaymentsKey, func(ctx context.Context) ([]*domain.Payment, error) {
		return nonNil(b.repos.Payments.ListSince(ctx, analytics.MonthStart(b.now().In(b.loc))))
	})
}

// MyPayments reads the user's payments this month through the cache
func (b *Builder) MyPayments(ctx context.Context, userID string) ([]*domain.Payment, error) {
	return querycache.Fetch(ctx, b.cache, MyPaymentsKey(userID), func(ctx context.Context) ([]*domain.Payment, error) {
		return nonNil(b.repos.Payments.ListByUser(ctx, userID, analytics.MonthStart(b.now().In(b.loc))))
	})
}

// nonNil turns an empty result into an empty slice so callers can tell
// "no rows" from "no data"
func nonNil[T any](rows []T, err error) ([]T, error) {
	if err == nil && rows == nil {
		rows = []T{}
	}
	return rows, err
}
