// Package analytics holds the pure aggregations behind dashboard cards.
// Amounts are float64 and meant for display only.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
)

// DayCount is the number of bookings starting on one weekday
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// TierShare is the revenue of one membership tier
type TierShare struct {
	Tier       string  `json:"tier"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// Occupancy is how much of a window a resource was booked
type Occupancy struct {
	ResourceID  string  `json:"resource_id"`
	Name        string  `json:"name"`
	BookedHours float64 `json:"booked_hours"`
	Percentage  float64 `json:"percentage"`
}

// CountByStatus counts bookings per status
func CountByStatus(bookings []*domain.Booking) map[domain.BookingStatus]int {
	out := make(map[domain.BookingStatus]int, 4)
	for _, b := range bookings {
		out[b.Status]++
	}
	return out
}

// CountWithStatus counts bookings in one status
func CountWithStatus(bookings []*domain.Booking, status domain.BookingStatus) int {
	n := 0
	for _, b := range bookings {
		if b.Status == status {
			n++
		}
	}
	return n
}

// SumAmounts adds up booking totals
func SumAmounts(bookings []*domain.Booking) float64 {
	var sum float64
	for _, b := range bookings {
		sum += b.TotalAmount
	}
	return sum
}

// SumPayments adds up payment amounts
func SumPayments(payments []*domain.Payment) float64 {
	var sum float64
	for _, p := range payments {
		sum += p.Amount
	}
	return sum
}

// Percentage returns part/total as a percentage rounded to one decimal.
// A zero total yields 0.
func Percentage(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(part/total*1000) / 10
}

var weekdays = [7]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// BookingsByWeekday counts bookings by start weekday, Monday first, in loc
func BookingsByWeekday(bookings []*domain.Booking, loc *time.Location) []DayCount {
	if loc == nil {
		loc = time.UTC
	}
	var counts [7]int
	for _, b := range bookings {
		counts[b.StartTime.In(loc).Weekday()]++
	}
	out := make([]DayCount, 0, 7)
	for _, d := range weekdays {
		out = append(out, DayCount{Day: d.String()[:3], Count: counts[d]})
	}
	return out
}

// RevenueByTier groups payments by membership tier, largest first. Payments
// without a tier are reported under "other".
func RevenueByTier(payments []*domain.Payment) []TierShare {
	byTier := make(map[string]float64)
	var total float64
	for _, p := range payments {
		tier := p.Tier
		if tier == "" {
			tier = "other"
		}
		byTier[tier] += p.Amount
		total += p.Amount
	}

	out := make([]TierShare, 0, len(byTier))
	for tier, amount := range byTier {
		out = append(out, TierShare{Tier: tier, Amount: amount, Percentage: Percentage(amount, total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Tier < out[j].Tier
	})
	return out
}

// OccupancyByResource reports the share of [from, to) each resource is booked.
// Cancelled bookings do not count; overlapping bookings are capped at 100%.
func OccupancyByResource(resources []*domain.Resource, bookings []*domain.Booking, from, to time.Time) []Occupancy {
	window := to.Sub(from).Hours()
	booked := make(map[string]float64, len(resources))
	for _, b := range bookings {
		if b.Status == domain.BookingStatusCancelled {
			continue
		}
		start, end := b.StartTime, b.EndTime
		if start.Before(from) {
			start = from
		}
		if end.After(to) {
			end = to
		}
		if end.After(start) {
			booked[b.ResourceID] += end.Sub(start).Hours()
		}
	}

	out := make([]Occupancy, 0, len(resources))
	for _, r := range resources {
		pct := Percentage(booked[r.ID], window)
		if pct > 100 {
			pct = 100
		}
		out = append(out, Occupancy{
			ResourceID:  r.ID,
			Name:        r.Name,
			BookedHours: booked[r.ID],
			Percentage:  pct,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Percentage > out[j].Percentage })
	return out
}

// ActiveMembers counts members with an active membership
func ActiveMembers(members []*domain.Member) int {
	n := 0
	for _, m := range members {
		if m.IsActive() {
			n++
		}
	}
	return n
}

// Upcoming returns bookings that start after now and are still live, soonest first
func Upcoming(bookings []*domain.Booking, now time.Time, limit int) []*domain.Booking {
	out := make([]*domain.Booking, 0)
	for _, b := range bookings {
		if b.IsUpcoming(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MonthStart is midnight on the first day of now's month
func MonthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}

// DayBounds is the [start, end) of now's day
func DayBounds(now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}
