package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Ebrudra/desk-access-hub/pkg/response"
)

const (
	ContextKeyUserID    = "user_id"
	ContextKeyEmail     = "email"
	ContextKeySessionID = "session_id"

	// SessionCookie carries the access token for browser requests such as EventSource
	SessionCookie = "hub_access_token"
	// AuthRoute is where unauthenticated browsers are sent
	AuthRoute = "/auth"
)

// Identity is what a verified access token proves
type Identity struct {
	UserID    string
	Email     string
	SessionID string
}

// TokenVerifier checks an access token
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*Identity, error)
}

// RequireSession rejects requests without a valid access token with 401 and
// a redirect hint to the auth page
func RequireSession(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			abortUnauthenticated(c, "Sign in to continue")
			return
		}

		id, err := v.VerifyAccessToken(c.Request.Context(), token)
		if err != nil || id == nil {
			abortUnauthenticated(c, "Your session has expired. Please sign in again.")
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Set(ContextKeyEmail, id.Email)
		c.Set(ContextKeySessionID, id.SessionID)
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, response.FailWithRedirect("UNAUTHORIZED", message, AuthRoute))
}

// BearerToken reads the Authorization header, falling back to the session cookie
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

// UserID returns the authenticated user id, or ""
func UserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// SessionID returns the authenticated session id, or ""
func SessionID(c *gin.Context) string {
	return c.GetString(ContextKeySessionID)
}

// Email returns the authenticated email, or ""
func Email(c *gin.Context) string {
	return c.GetString(ContextKeyEmail)
}
