package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/console"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/pkg/middleware"
	"github.com/Ebrudra/desk-access-hub/pkg/response"
)

// Consoles opens and closes per-session consoles
type Consoles interface {
	Open(ctx context.Context, sess *domain.AuthSession) (*console.Console, error)
	Get(sessionID string) (*console.Console, bool)
	Close(sessionID string) bool
}

// SessionLoader restores a session from an access token
type SessionLoader interface {
	GetSession(ctx context.Context, accessToken string) (*domain.AuthSession, error)
}

// consoleResolver finds the caller's console, reopening it from the access
// token when the service restarted or the console was swept
type consoleResolver struct {
	consoles Consoles
	sessions SessionLoader
}

func (r consoleResolver) resolve(c *gin.Context) (*console.Console, bool) {
	if con, ok := r.consoles.Get(middleware.SessionID(c)); ok {
		return con, true
	}
	sess, err := r.sessions.GetSession(c.Request.Context(), middleware.BearerToken(c))
	if err != nil {
		body := response.FailWithRedirect("UNAUTHORIZED", "Your session has expired. Please sign in again.", middleware.AuthRoute)
		c.AbortWithStatusJSON(http.StatusUnauthorized, body)
		return nil, false
	}
	con, err := r.consoles.Open(c.Request.Context(), sess)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return con, true
}
