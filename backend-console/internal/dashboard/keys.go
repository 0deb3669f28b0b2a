package dashboard

import (
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/querycache"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/realtime"
)

// Cache keys of the dashboard queries
func MyBookingsKey(userID string) string { return querycache.Key("bookings", "user", userID) }
func MyPaymentsKey(userID string) string { return querycache.Key("payments", "user", userID, "month") }

var (
	AllBookingsKey = querycache.Key("bookings", "all")
	MembersKey     = querycache.Key("members", "all")
	ResourcesKey   = querycache.Key("resources", "all")
	PaymentsKey    = querycache.Key("payments", "all", "month")
)

// Keys lists the queries a dashboard view reads
func Keys(view View, userID string) []string {
	switch view {
	case ViewMember:
		return []string{MyBookingsKey(userID), MyPaymentsKey(userID)}
	case ViewManager:
		return []string{AllBookingsKey, ResourcesKey, MembersKey}
	case ViewAdmin:
		return []string{PaymentsKey, MembersKey, ResourcesKey, AllBookingsKey}
	}
	return nil
}

// BookingKeys are the keys a booking mutation by userID makes stale
func BookingKeys(userID string) []string {
	return []string{MyBookingsKey(userID), AllBookingsKey}
}

// Bindings maps change events to the cache keys of userID's console
func Bindings(userID string) []realtime.Binding {
	return []realtime.Binding{
		{
			Filter: realtime.Filter{Table: domain.TableBookings, Column: "user_id", Value: userID},
			Keys:   realtime.StaticKeys(MyBookingsKey(userID)),
		},
		{
			Filter: realtime.Filter{Table: domain.TableBookings},
			Keys:   realtime.StaticKeys(AllBookingsKey),
		},
		{
			Filter: realtime.Filter{Table: domain.TableMembers},
			Keys:   realtime.StaticKeys(MembersKey),
		},
		{
			Filter: realtime.Filter{Table: domain.TableResources},
			Keys:   realtime.StaticKeys(ResourcesKey),
		},
		{
			Filter: realtime.Filter{Table: domain.TablePayments},
			Keys: func(ev *domain.ChangeEvent) []string {
				keys := []string{PaymentsKey}
				if owner, ok := ev.Column("user_id"); ok {
					keys = append(keys, MyPaymentsKey(owner))
				}
				return keys
			},
		},
	}
}
