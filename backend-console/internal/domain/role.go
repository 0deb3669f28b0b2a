package domain

import "strings"

// Role is the coarse access tier of a signed-in user.
// The zero value RoleNone means there is no session.
type Role int

const (
	RoleNone Role = iota
	RoleMember
	RoleManager
	RoleAdmin
)

// ParseRole maps a stored role string to a Role. Any other non-empty value is
// treated as a member so unknown tiers never gain privileges.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return RoleNone
	case "admin":
		return RoleAdmin
	case "manager":
		return RoleManager
	default:
		return RoleMember
	}
}

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleManager:
		return "manager"
	case RoleAdmin:
		return "admin"
	default:
		return "none"
	}
}

// MarshalText renders the role as its stored string
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// CanManageBookings reports whether the role may approve or cancel other users' bookings
func (r Role) CanManageBookings() bool {
	return r == RoleManager || r == RoleAdmin
}

// RoleState is what the role resolver exposes to the dashboard
type RoleState struct {
	Role    Role `json:"role"`
	Loading bool `json:"loading"`
}

// RoleAssignment is one row of user_roles
type RoleAssignment struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}
