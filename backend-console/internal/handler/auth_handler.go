package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/dto"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/session"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/middleware"
	"github.com/Ebrudra/desk-access-hub/pkg/response"
)

// SessionService is the auth backend the console signs users in with
type SessionService interface {
	SignIn(ctx context.Context, email, password, userAgent, ip string) (*session.Result, error)
	SignUp(ctx context.Context, req *dto.SignUpRequest, userAgent, ip string) (*session.Result, error)
	SignOut(ctx context.Context, sessionID string) error
	Refresh(ctx context.Context, refreshToken string) (*session.Result, error)
	GetSession(ctx context.Context, accessToken string) (*domain.AuthSession, error)
	RequestPasswordReset(ctx context.Context, email, redirectTo string) error
	CompletePasswordReset(ctx context.Context, token, password string) error
}

// AuthHandler handles authentication HTTP requests
type AuthHandler struct {
	sessions     SessionService
	consoles     Consoles
	secureCookie bool
	now          func() time.Time
	log          *logger.Logger
}

// NewAuthHandler creates a new AuthHandler. secureCookie marks the session
// cookie HTTPS only.
func NewAuthHandler(sessions SessionService, consoles Consoles, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		sessions:     sessions,
		consoles:     consoles,
		secureCookie: secureCookie,
		now:          time.Now,
		log:          logger.Get(),
	}
}

// SignIn handles password sign-in
// POST /api/v1/auth/sign-in
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req dto.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.FailWithRedirect("BAD_REQUEST", err.Error(), middleware.AuthRoute))
		return
	}
	req.Normalize()
	if err := dto.ValidateEmail(req.Email); err != nil {
		h.authFailure(c, err)
		return
	}

	result, err := h.sessions.SignIn(c.Request.Context(), req.Email, req.Password, c.GetHeader("User-Agent"), c.ClientIP())
	if err != nil {
		h.authFailure(c, err)
		return
	}
	h.signedIn(c, result, http.StatusOK, "")
}

// SignUp handles account registration. When email confirmation is required
// no session is opened and the client stays on the auth page.
// POST /api/v1/auth/sign-up
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req dto.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.FailWithRedirect("BAD_REQUEST", err.Error(), middleware.AuthRoute))
		return
	}
	req.Normalize()
	if err := dto.ValidateEmail(req.Email); err != nil {
		h.authFailure(c, err)
		return
	}
	if err := dto.ValidatePassword(req.Password); err != nil {
		h.authFailure(c, err)
		return
	}

	result, err := h.sessions.SignUp(c.Request.Context(), &req, c.GetHeader("User-Agent"), c.ClientIP())
	if err != nil {
		h.authFailure(c, err)
		return
	}
	if result.Session == nil {
		response.Created(c, dto.AuthResponse{
			User:     dto.NewUserResponse(result.User),
			Redirect: middleware.AuthRoute,
			Message:  "Check your email to confirm your account.",
		})
		return
	}
	h.signedIn(c, result, http.StatusCreated, "")
}

// SignOut ends the session and tears its console down
// POST /api/v1/auth/sign-out
func (h *AuthHandler) SignOut(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	if err := h.sessions.SignOut(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}
	h.consoles.Close(sessionID)
	h.clearCookie(c)
	response.Success(c, dto.AuthResponse{Redirect: middleware.AuthRoute, Message: "Signed out"})
}

// Refresh exchanges a refresh token for a new session
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		status, code := errorCode(err)
		if status == http.StatusInternalServerError {
			respondError(c, err)
			return
		}
		h.clearCookie(c)
		c.JSON(status, response.FailWithRedirect(code, "Your session has expired. Please sign in again.", middleware.AuthRoute))
		return
	}
	if con, ok := h.consoles.Get(result.Session.SessionID); ok {
		con.UpdateSession(result.Session)
	}
	h.setCookie(c, result.Session)
	response.Success(c, dto.AuthResponse{Session: result.Session, User: dto.NewUserResponse(result.User), Redirect: session.HomeRoute})
}

// Session returns the current session. The console refreshes tokens in the
// background, so this is where clients pick up the latest access token.
// GET /api/v1/auth/session
func (h *AuthHandler) Session(c *gin.Context) {
	con, ok := consoleResolver{consoles: h.consoles, sessions: h.sessions}.resolve(c)
	if !ok {
		return
	}
	sess := con.Session()
	h.setCookie(c, sess)
	response.Success(c, dto.AuthResponse{Session: sess, Redirect: session.HomeRoute})
}

// RequestPasswordReset emails a reset link. The reply is the same whether or
// not the address has an account.
// POST /api/v1/auth/password-reset
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req dto.PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.Normalize()
	if err := dto.ValidateEmail(req.Email); err != nil {
		respondError(c, err)
		return
	}
	if err := h.sessions.RequestPasswordReset(c.Request.Context(), req.Email, req.RedirectTo); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, dto.AuthResponse{
		Redirect: middleware.AuthRoute,
		Message:  "If an account exists for this email, a reset link has been sent.",
	})
}

// CompletePasswordReset sets a new password with a reset token
// POST /api/v1/auth/password-reset/complete
func (h *AuthHandler) CompletePasswordReset(c *gin.Context) {
	var req dto.CompletePasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.sessions.CompletePasswordReset(c.Request.Context(), req.Token, req.Password); err != nil {
		h.authFailure(c, err)
		return
	}
	response.Success(c, dto.AuthResponse{
		Redirect: middleware.AuthRoute,
		Message:  "Your password has been updated. Please sign in.",
	})
}

func (h *AuthHandler) signedIn(c *gin.Context, result *session.Result, status int, message string) {
	if _, err := h.consoles.Open(c.Request.Context(), result.Session); err != nil {
		h.log.WarnContext(c.Request.Context(), "console not opened at sign-in",
			zap.String("session_id", result.Session.SessionID), zap.Error(err))
	}
	h.setCookie(c, result.Session)
	c.JSON(status, response.Response{Success: true, Data: dto.AuthResponse{
		Session:  result.Session,
		User:     dto.NewUserResponse(result.User),
		Redirect: session.Redirect(nil),
		Message:  message,
	}})
}

// authFailure reports a failed auth attempt with the sign-in page's wording
// and keeps the client on the auth page
func (h *AuthHandler) authFailure(c *gin.Context, err error) {
	status, code := errorCode(err)
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(c.Request.Context(), "auth request failed", zap.Error(err))
	}
	c.JSON(status, response.FailWithRedirect(code, session.FriendlyMessage(err), session.Redirect(err)))
}

func (h *AuthHandler) setCookie(c *gin.Context, s *domain.AuthSession) {
	maxAge := int(s.ExpiresAt.Sub(h.now()).Seconds())
	if maxAge <= 0 {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, s.AccessToken, maxAge, "/", "", h.secureCookie, true)
}

func (h *AuthHandler) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", h.secureCookie, true)
}
