package session

import (
	"strings"

	"github.com/Ebrudra/desk-access-hub/pkg/middleware"
)

// HomeRoute is where a successful sign-in lands
const HomeRoute = "/"

var friendlyMessages = []struct {
	match   string
	message string
}{
	{"invalid credentials", "Invalid email or password. Please try again."},
	{"email not confirmed", "Please confirm your email address before signing in."},
	{"user already exists", "An account with this email already exists."},
}

// FriendlyMessage turns an auth error into text for the sign-in page.
// Unrecognised errors are shown as is.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	raw := err.Error()
	lower := strings.ToLower(raw)
	for _, m := range friendlyMessages {
		if strings.Contains(lower, m.match) {
			return m.message
		}
	}
	return raw
}

// Redirect returns where the client goes after a sign-in attempt
func Redirect(err error) string {
	if err != nil {
		return middleware.AuthRoute
	}
	return HomeRoute
}
