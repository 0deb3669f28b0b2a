package dashboard

import "github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"

// View is the dashboard variant picked for a role state
type View string

const (
	ViewLoading View = "loading"
	ViewNoRole  View = "no_role"
	ViewMember  View = "member"
	ViewManager View = "manager"
	ViewAdmin   View = "admin"
)

// NoRoleMessage is shown to users without a session or role
const NoRoleMessage = "You don't have access to a dashboard yet. Please contact an administrator to request access."

// Dispatch is the renderer's decision
type Dispatch struct {
	View    View   `json:"view"`
	Message string `json:"message,omitempty"`
}

// Render picks exactly one view for a role state. While the role is loading
// no dashboard variant is chosen.
func Render(s domain.RoleState) Dispatch {
	if s.Loading {
		return Dispatch{View: ViewLoading}
	}
	switch s.Role {
	case domain.RoleNone:
		return Dispatch{View: ViewNoRole, Message: NoRoleMessage}
	case domain.RoleMember:
		return Dispatch{View: ViewMember}
	case domain.RoleManager:
		return Dispatch{View: ViewManager}
	case domain.RoleAdmin:
		return Dispatch{View: ViewAdmin}
	}
	// Role values outside the enum never come out of domain.ParseRole
	return Dispatch{View: ViewNoRole, Message: NoRoleMessage}
}
