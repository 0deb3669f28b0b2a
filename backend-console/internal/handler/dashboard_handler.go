package handler

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/dto"
	"github.com/Ebrudra/desk-access-hub/pkg/middleware"
	"github.com/Ebrudra/desk-access-hub/pkg/response"
)

// SSE event names
const (
	EventDashboard = "dashboard"
	EventPresence  = "presence"
	EventSession   = "session"
	EventPing      = "ping"
)

// DashboardHandlerConfig contains configuration for the dashboard handler
type DashboardHandlerConfig struct {
	// RoleWait bounds how long a dashboard request waits for the role
	// before rendering the loading view
	RoleWait time.Duration
	// KeepAlive is the interval between stream pings
	KeepAlive time.Duration
}

// DashboardHandler serves the role dashboards, their live stream and presence
type DashboardHandler struct {
	consoles consoleResolver
	cfg      DashboardHandlerConfig
}

// NewDashboardHandler creates a new DashboardHandler
func NewDashboardHandler(consoles Consoles, sessions SessionLoader, cfg *DashboardHandlerConfig) *DashboardHandler {
	c := DashboardHandlerConfig{RoleWait: 3 * time.Second, KeepAlive: 15 * time.Second}
	if cfg != nil {
		if cfg.RoleWait > 0 {
			c.RoleWait = cfg.RoleWait
		}
		if cfg.KeepAlive > 0 {
			c.KeepAlive = cfg.KeepAlive
		}
	}
	return &DashboardHandler{consoles: consoleResolver{consoles: consoles, sessions: sessions}, cfg: c}
}

// Dashboard renders the dashboard for the caller's role. ?wait=false skips
// waiting for the role and may return the loading view.
// GET /api/v1/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	con, ok := h.consoles.resolve(c)
	if !ok {
		return
	}
	if c.Query("wait") != "false" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RoleWait)
		_, _ = con.WaitRole(ctx)
		cancel()
	}
	response.Success(c, con.Dashboard(c.Request.Context()))
}

// Role returns the caller's role state
// GET /api/v1/role
func (h *DashboardHandler) Role(c *gin.Context) {
	con, ok := h.consoles.resolve(c)
	if !ok {
		return
	}
	state := con.Role()
	response.Success(c, dto.RoleResponse{Role: state.Role.String(), Loading: state.Loading})
}

// Presence returns the online roster
// GET /api/v1/presence
func (h *DashboardHandler) Presence(c *gin.Context) {
	con, ok := h.consoles.resolve(c)
	if !ok {
		return
	}
	response.Success(c, con.Presence())
}

// Navigate records the page the user is on
// POST /api/v1/presence/navigate
func (h *DashboardHandler) Navigate(c *gin.Context) {
	var req dto.NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	con, ok := h.consoles.resolve(c)
	if !ok {
		return
	}
	con.Navigate(req.Page)
	response.Success(c, con.Presence())
}

// CacheStats reports the caller's query cache counters
// GET /api/v1/dashboard/cache
func (h *DashboardHandler) CacheStats(c *gin.Context) {
	con, ok := h.consoles.resolve(c)
	if !ok {
		return
	}
	response.Success(c, con.Cache().Stats())
}

// Stream pushes a fresh dashboard whenever the role resolves or a change
// event invalidates its data, and the roster whenever it changes. The stream
// ends with a session event once the console closes.
// GET /api/v1/dashboard/stream
func (h *DashboardHandler) Stream(c *gin.Context) {
	con, ok := h.consoles.resolve(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	roleCh, dataCh, presenceCh := con.RoleChanged(), con.DataChanged(), con.PresenceChanged()
	c.SSEvent(EventDashboard, con.Dashboard(ctx))
	c.SSEvent(EventPresence, con.Presence())

	ping := time.NewTicker(h.cfg.KeepAlive)
	defer ping.Stop()

	ended := func() bool {
		select {
		case <-con.Done():
			c.SSEvent(EventSession, gin.H{"redirect": middleware.AuthRoute})
			return true
		default:
			return false
		}
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-con.Done():
			return !ended()
		case <-roleCh:
			if ended() {
				return false
			}
			roleCh, dataCh = con.RoleChanged(), con.DataChanged()
			c.SSEvent(EventDashboard, con.Dashboard(ctx))
		case <-dataCh:
			if ended() {
				return false
			}
			roleCh, dataCh = con.RoleChanged(), con.DataChanged()
			c.SSEvent(EventDashboard, con.Dashboard(ctx))
		case <-presenceCh:
			if ended() {
				return false
			}
			presenceCh = con.PresenceChanged()
			c.SSEvent(EventPresence, con.Presence())
		case <-ping.C:
			con.Touch()
			c.SSEvent(EventPing, gin.H{"at": time.Now().UTC()})
		}
		return !ended()
	})
}
