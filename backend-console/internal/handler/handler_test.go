package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/console"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/dashboard"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/dto"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/functions"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/presence"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/querycache"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/realtime"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/repository"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/session"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/middleware"
)

// MockSessionService is a mock implementation of SessionService for testing
type MockSessionService struct {
	SignInFunc                func(ctx context.Context, email, password, userAgent, ip string) (*session.Result, error)
	SignUpFunc                func(ctx context.Context, req *dto.SignUpRequest, userAgent, ip string) (*session.Result, error)
	SignOutFunc               func(ctx context.Context, sessionID string) error
	RefreshFunc               func(ctx context.Context, refreshToken string) (*session.Result, error)
	GetSessionFunc            func(ctx context.Context, accessToken string) (*domain.AuthSession, error)
	RequestPasswordResetFunc  func(ctx context.Context, email, redirectTo string) error
	CompletePasswordResetFunc func(ctx context.Context, token, password string) error
}

func (m *MockSessionService) SignIn(ctx context.Context, email, password, userAgent, ip string) (*session.Result, error) {
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password, userAgent, ip)
	}
	return nil, domain.ErrInvalidCredentials
}

func (m *MockSessionService) SignUp(ctx context.Context, req *dto.SignUpRequest, userAgent, ip string) (*session.Result, error) {
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, req, userAgent, ip)
	}
	return nil, errors.New("sign-up not stubbed")
}

func (m *MockSessionService) SignOut(ctx context.Context, sessionID string) error {
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, sessionID)
	}
	return nil
}

func (m *MockSessionService) Refresh(ctx context.Context, refreshToken string) (*session.Result, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, domain.ErrInvalidToken
}

func (m *MockSessionService) GetSession(ctx context.Context, accessToken string) (*domain.AuthSession, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, accessToken)
	}
	return nil, domain.ErrInvalidToken
}

func (m *MockSessionService) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	if m.RequestPasswordResetFunc != nil {
		return m.RequestPasswordResetFunc(ctx, email, redirectTo)
	}
	return nil
}

func (m *MockSessionService) CompletePasswordReset(ctx context.Context, token, password string) error {
	if m.CompletePasswordResetFunc != nil {
		return m.CompletePasswordResetFunc(ctx, token, password)
	}
	return nil
}

// MockConsoles is a mock implementation of Consoles for testing
type MockConsoles struct {
	OpenFunc  func(ctx context.Context, sess *domain.AuthSession) (*console.Console, error)
	GetFunc   func(sessionID string) (*console.Console, bool)
	CloseFunc func(sessionID string) bool
}

func (m *MockConsoles) Open(ctx context.Context, sess *domain.AuthSession) (*console.Console, error) {
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, sess)
	}
	return nil, errors.New("consoles not stubbed")
}

func (m *MockConsoles) Get(sessionID string) (*console.Console, bool) {
	if m.GetFunc != nil {
		return m.GetFunc(sessionID)
	}
	return nil, false
}

func (m *MockConsoles) Close(sessionID string) bool {
	if m.CloseFunc != nil {
		return m.CloseFunc(sessionID)
	}
	return false
}

// MockBookingService is a mock implementation of service.BookingService for testing
type MockBookingService struct {
	GetFunc          func(ctx context.Context, userID, bookingID string) (*domain.Booking, error)
	ListFunc         func(ctx context.Context, userID string, q *dto.ListBookingsQuery) ([]*domain.Booking, error)
	CreateFunc       func(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*domain.Booking, error)
	UpdateStatusFunc func(ctx context.Context, userID, bookingID string, status domain.BookingStatus) (*domain.Booking, error)
	DeleteFunc       func(ctx context.Context, userID, bookingID string) error
}

func (m *MockBookingService) Get(ctx context.Context, userID, bookingID string) (*domain.Booking, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID, bookingID)
	}
	return nil, domain.ErrBookingNotFound
}

func (m *MockBookingService) List(ctx context.Context, userID string, q *dto.ListBookingsQuery) ([]*domain.Booking, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID, q)
	}
	return nil, nil
}

func (m *MockBookingService) Create(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*domain.Booking, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockBookingService) UpdateStatus(ctx context.Context, userID, bookingID string, status domain.BookingStatus) (*domain.Booking, error) {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, userID, bookingID, status)
	}
	return nil, nil
}

func (m *MockBookingService) Delete(ctx context.Context, userID, bookingID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID, bookingID)
	}
	return nil
}

// MockFunctionInvoker is a mock implementation of FunctionInvoker
type MockFunctionInvoker struct {
	mock.Mock
}

func (m *MockFunctionInvoker) Invoke(ctx context.Context, name string, call *functions.Call) (any, error) {
	args := m.Called(ctx, name, call)
	return args.Get(0), args.Error(1)
}

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta map[string]any `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

// withIdentity stands in for RequireSession
func withIdentity(userID, sessionID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, userID)
		c.Set(middleware.ContextKeyEmail, userID+"@hub.test")
		c.Set(middleware.ContextKeySessionID, sessionID)
		c.Next()
	}
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func testSession(id, userID string) *domain.AuthSession {
	return &domain.AuthSession{
		SessionID:    id,
		UserID:       userID,
		Email:        userID + "@hub.test",
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, ck := range w.Result().Cookies() {
		if ck.Name == middleware.SessionCookie {
			return ck
		}
	}
	return nil
}

func TestAuthHandler_SignIn(t *testing.T) {
	t.Run("success opens console and lands on home", func(t *testing.T) {
		var opened *domain.AuthSession
		sessions := &MockSessionService{
			SignInFunc: func(_ context.Context, email, password, _, _ string) (*session.Result, error) {
				assert.Equal(t, "ada@hub.test", email)
				assert.Equal(t, "secret123", password)
				return &session.Result{
					Session: testSession("s1", "u1"),
					User:    &domain.User{ID: "u1", Email: email},
				}, nil
			},
		}
		consoles := &MockConsoles{
			OpenFunc: func(_ context.Context, sess *domain.AuthSession) (*console.Console, error) {
				opened = sess
				return nil, nil
			},
		}
		h := NewAuthHandler(sessions, consoles, false)
		router := newRouter()
		router.POST("/auth/sign-in", h.SignIn)

		req := httptest.NewRequest(http.MethodPost, "/auth/sign-in",
			jsonBody(t, dto.SignInRequest{Email: "ada@hub.test", Password: "secret123"}))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		env := decode(t, w)
		assert.True(t, env.Success)

		var body dto.AuthResponse
		require.NoError(t, json.Unmarshal(env.Data, &body))
		assert.Equal(t, session.HomeRoute, body.Redirect)
		require.NotNil(t, body.Session)
		assert.Equal(t, "s1", body.Session.SessionID)

		require.NotNil(t, opened)
		assert.Equal(t, "s1", opened.SessionID)

		ck := sessionCookie(w)
		require.NotNil(t, ck)
		assert.Equal(t, "access-s1", ck.Value)
		assert.True(t, ck.HttpOnly)
	})

	t.Run("invalid credentials stay on auth page with friendly message", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{}, &MockConsoles{}, false)
		router := newRouter()
		router.POST("/auth/sign-in", h.SignIn)

		req := httptest.NewRequest(http.MethodPost, "/auth/sign-in",
			jsonBody(t, dto.SignInRequest{Email: "ada@hub.test", Password: "wrong"}))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		env := decode(t, w)
		assert.False(t, env.Success)
		require.NotNil(t, env.Error)
		assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
		assert.Equal(t, "Invalid email or password. Please try again.", env.Error.Message)
		assert.Equal(t, middleware.AuthRoute, env.Meta["redirect"])
		assert.Nil(t, sessionCookie(w))
	})

	t.Run("unconfirmed email", func(t *testing.T) {
		sessions := &MockSessionService{
			SignInFunc: func(context.Context, string, string, string, string) (*session.Result, error) {
				return nil, domain.ErrEmailNotConfirmed
			},
		}
		h := NewAuthHandler(sessions, &MockConsoles{}, false)
		router := newRouter()
		router.POST("/auth/sign-in", h.SignIn)

		req := httptest.NewRequest(http.MethodPost, "/auth/sign-in",
			jsonBody(t, dto.SignInRequest{Email: "ada@hub.test", Password: "secret123"}))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		env := decode(t, w)
		assert.Equal(t, "Please confirm your email address before signing in.", env.Error.Message)
	})

	t.Run("padded email is trimmed and lowercased", func(t *testing.T) {
		var got string
		sessions := &MockSessionService{
			SignInFunc: func(_ context.Context, email, _, _, _ string) (*session.Result, error) {
				got = email
				return nil, domain.ErrInvalidCredentials
			},
		}
		h := NewAuthHandler(sessions, &MockConsoles{}, false)
		router := newRouter()
		router.POST("/auth/sign-in", h.SignIn)

		req := httptest.NewRequest(http.MethodPost, "/auth/sign-in",
			jsonBody(t, dto.SignInRequest{Email: "  Ada@Hub.TEST ", Password: "secret123"}))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "ada@hub.test", got)
	})

	t.Run("address without a domain", func(t *testing.T) {
		sessions := &MockSessionService{
			SignInFunc: func(context.Context, string, string, string, string) (*session.Result, error) {
				t.Fatal("sign-in must not reach the backend")
				return nil, nil
			},
		}
		h := NewAuthHandler(sessions, &MockConsoles{}, false)
		router := newRouter()
		router.POST("/auth/sign-in", h.SignIn)

		req := httptest.NewRequest(http.MethodPost, "/auth/sign-in",
			jsonBody(t, dto.SignInRequest{Email: "ada", Password: "secret123"}))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decode(t, w)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
		assert.Equal(t, middleware.AuthRoute, env.Meta["redirect"])
	})

	t.Run("malformed body", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{}, &MockConsoles{}, false)
		router := newRouter()
		router.POST("/auth/sign-in", h.SignIn)

		req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", bytes.NewBufferString(`{"email":"nope"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, middleware.AuthRoute, decode(t, w).Meta["redirect"])
	})
}

func TestAuthHandler_SignUp(t *testing.T) {
	t.Run("confirmation pending opens no session", func(t *testing.T) {
		sessions := &MockSessionService{
			SignUpFunc: func(_ context.Context, req *dto.SignUpRequest, _, _ string) (*session.Result, error) {
				assert.Equal(t, "new@hub.test", req.Email)
				return &session.Result{User: &domain.User{ID: "u9", Email: req.Email}}, nil
			},
		}
		consoles := &MockConsoles{
			OpenFunc: func(context.Context, *domain.AuthSession) (*console.Console, error) {
				t.Fatal("no console expected before confirmation")
				return nil, nil
			},
		}
		h := NewAuthHandler(sessions, consoles, false)
		router := newRouter()
		router.POST("/auth/sign-up", h.SignUp)

		req := httptest.NewRequest(http.MethodPost, "/auth/sign-up",
			jsonBody(t, dto.SignUpRequest{Email: " New@Hub.test ", Password: "secret123"}))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code)
		var body dto.AuthResponse
		require.NoError(t, json.Unmarshal(decode(t, w).Data, &body))
		assert.Equal(t, middleware.AuthRoute, body.Redirect)
		assert.Nil(t, body.Session)
		assert.Nil(t, sessionCookie(w))
	})

	t.Run("existing account", func(t *testing.T) {
		sessions := &MockSessionService{
			SignUpFunc: func(context.Context, *dto.SignUpRequest, string, string) (*session.Result, error) {
				return nil, domain.ErrUserAlreadyExists
			},
		}
		h := NewAuthHandler(sessions, &MockConsoles{}, false)
		router := newRouter()
		router.POST("/auth/sign-up", h.SignUp)

		req := httptest.NewRequest(http.MethodPost, "/auth/sign-up",
			jsonBody(t, dto.SignUpRequest{Email: "ada@hub.test", Password: "secret123"}))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "An account with this email already exists.", decode(t, w).Error.Message)
	})

	t.Run("password without a digit", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{}, &MockConsoles{}, false)
		router := newRouter()
		router.POST("/auth/sign-up", h.SignUp)

		req := httptest.NewRequest(http.MethodPost, "/auth/sign-up",
			jsonBody(t, dto.SignUpRequest{Email: "ada@hub.test", Password: "lettersonly"}))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, middleware.AuthRoute, decode(t, w).Meta["redirect"])
	})
}

func TestAuthHandler_SignOut(t *testing.T) {
	var signedOut, closed string
	sessions := &MockSessionService{
		SignOutFunc: func(_ context.Context, id string) error {
			signedOut = id
			return nil
		},
	}
	consoles := &MockConsoles{
		CloseFunc: func(id string) bool {
			closed = id
			return true
		},
	}
	h := NewAuthHandler(sessions, consoles, false)
	router := newRouter()
	router.POST("/auth/sign-out", withIdentity("u1", "s1"), h.SignOut)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/sign-out", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", signedOut)
	assert.Equal(t, "s1", closed)
	ck := sessionCookie(w)
	require.NotNil(t, ck)
	assert.Empty(t, ck.Value)
	assert.Negative(t, ck.MaxAge)
}

func TestAuthHandler_RefreshFailureRedirects(t *testing.T) {
	h := NewAuthHandler(&MockSessionService{}, &MockConsoles{}, false)
	router := newRouter()
	router.POST("/auth/refresh", h.Refresh)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", jsonBody(t, dto.RefreshRequest{RefreshToken: "stale"}))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decode(t, w)
	assert.Equal(t, middleware.AuthRoute, env.Meta["redirect"])
	ck := sessionCookie(w)
	require.NotNil(t, ck)
	assert.Empty(t, ck.Value)
}

func TestAuthHandler_RequestPasswordResetIsGeneric(t *testing.T) {
	var asked string
	sessions := &MockSessionService{
		RequestPasswordResetFunc: func(_ context.Context, email, _ string) error {
			asked = email
			return nil
		},
	}
	h := NewAuthHandler(sessions, &MockConsoles{}, false)
	router := newRouter()
	router.POST("/auth/password-reset", h.RequestPasswordReset)

	req := httptest.NewRequest(http.MethodPost, "/auth/password-reset",
		jsonBody(t, dto.PasswordResetRequest{Email: "ghost@hub.test"}))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ghost@hub.test", asked)
	var body dto.AuthResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &body))
	assert.Contains(t, body.Message, "If an account exists")
}

type lookupFunc func(ctx context.Context, userID string) domain.Role

func (f lookupFunc) Resolve(ctx context.Context, userID string) domain.Role { return f(ctx, userID) }

type refresherFunc func(ctx context.Context, token string) (*session.Result, error)

func (f refresherFunc) Refresh(ctx context.Context, token string) (*session.Result, error) {
	return f(ctx, token)
}

func newTestRegistry(t *testing.T, r domain.Role) *console.Registry {
	t.Helper()
	deps := console.Deps{
		Hub:      realtime.NewHub(logger.NewNop()),
		Roles:    lookupFunc(func(context.Context, string) domain.Role { return r }),
		Presence: presence.NewMemoryStore(),
		Refresher: refresherFunc(func(context.Context, string) (*session.Result, error) {
			return nil, domain.ErrInvalidToken
		}),
		Repos: dashboard.Repositories{
			Bookings:  &repository.MockBookingRepository{},
			Members:   &repository.MockMemberRepository{},
			Resources: &repository.MockResourceRepository{},
			Payments:  &repository.MockPaymentRepository{},
		},
		Query:          querycache.Config{JanitorInterval: -1},
		PresenceConfig: presence.Config{Channel: "handler-test", Heartbeat: time.Hour},
		Watcher:        session.WatcherConfig{CheckInterval: time.Hour, RefreshAhead: time.Minute},
		Logger:         logger.NewNop(),
	}
	reg := console.NewRegistry(deps, console.RegistryConfig{})
	t.Cleanup(reg.Stop)
	return reg
}

func TestDashboardHandler_Dashboard(t *testing.T) {
	t.Run("reopens console from the access token", func(t *testing.T) {
		reg := newTestRegistry(t, domain.RoleManager)
		sessions := &MockSessionService{
			GetSessionFunc: func(_ context.Context, token string) (*domain.AuthSession, error) {
				assert.Equal(t, "access-s1", token)
				return testSession("s1", "u1"), nil
			},
		}
		h := NewDashboardHandler(reg, sessions, nil)
		router := newRouter()
		router.GET("/dashboard", withIdentity("u1", "s1"), h.Dashboard)

		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.Header.Set("Authorization", "Bearer access-s1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var d struct {
			View string `json:"view"`
		}
		require.NoError(t, json.Unmarshal(decode(t, w).Data, &d))
		assert.Equal(t, string(dashboard.ViewManager), d.View)
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("stale token redirects to auth", func(t *testing.T) {
		reg := newTestRegistry(t, domain.RoleMember)
		h := NewDashboardHandler(reg, &MockSessionService{}, nil)
		router := newRouter()
		router.GET("/dashboard", withIdentity("u1", "s1"), h.Dashboard)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, middleware.AuthRoute, decode(t, w).Meta["redirect"])
		assert.Zero(t, reg.Len())
	})
}

func TestDashboardHandler_RoleAndNavigate(t *testing.T) {
	reg := newTestRegistry(t, domain.RoleAdmin)
	_, err := reg.Open(context.Background(), testSession("s1", "u1"))
	require.NoError(t, err)

	h := NewDashboardHandler(reg, &MockSessionService{}, nil)
	router := newRouter()
	authed := router.Group("", withIdentity("u1", "s1"))
	authed.GET("/role", h.Role)
	authed.POST("/presence/navigate", h.Navigate)

	con, ok := reg.Get("s1")
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = con.WaitRole(ctx)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/role", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rr dto.RoleResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &rr))
	assert.Equal(t, domain.RoleAdmin.String(), rr.Role)
	assert.False(t, rr.Loading)

	req := httptest.NewRequest(http.MethodPost, "/presence/navigate", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandler(t *testing.T) {
	setup := func(svc *MockBookingService) *gin.Engine {
		h := NewBookingHandler(svc, &MockConsoles{})
		router := newRouter()
		g := router.Group("/bookings", withIdentity("u1", "s1"))
		g.GET("", h.List)
		g.GET("/:id", h.Get)
		g.POST("", h.Create)
		g.PATCH("/:id/status", h.UpdateStatus)
		g.DELETE("/:id", h.Delete)
		return router
	}

	t.Run("list passes the caller and query", func(t *testing.T) {
		router := setup(&MockBookingService{
			ListFunc: func(_ context.Context, userID string, q *dto.ListBookingsQuery) ([]*domain.Booking, error) {
				assert.Equal(t, "u1", userID)
				assert.Equal(t, "pending", q.Status)
				assert.Equal(t, 5, q.Limit)
				return []*domain.Booking{{ID: "b1"}, {ID: "b2"}}, nil
			},
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bookings?status=pending&limit=5", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 2, decode(t, w).Meta["count"])
	})

	t.Run("list rejects oversized limit", func(t *testing.T) {
		router := setup(&MockBookingService{})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bookings?limit=1000", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("create maps missing resource to 404", func(t *testing.T) {
		router := setup(&MockBookingService{
			CreateFunc: func(context.Context, string, *dto.CreateBookingRequest) (*domain.Booking, error) {
				return nil, domain.ErrResourceNotFound
			},
		})
		start := time.Now().Add(time.Hour).UTC()
		req := httptest.NewRequest(http.MethodPost, "/bookings", jsonBody(t, dto.CreateBookingRequest{
			ResourceID: "r1", StartTime: start, EndTime: start.Add(time.Hour),
		}))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NOT_FOUND", decode(t, w).Error.Code)
	})

	t.Run("create returns 201", func(t *testing.T) {
		router := setup(&MockBookingService{
			CreateFunc: func(_ context.Context, userID string, req *dto.CreateBookingRequest) (*domain.Booking, error) {
				return &domain.Booking{ID: "b1", UserID: userID, ResourceID: req.ResourceID, Status: domain.BookingStatusPending}, nil
			},
		})
		start := time.Now().Add(time.Hour).UTC()
		req := httptest.NewRequest(http.MethodPost, "/bookings", jsonBody(t, dto.CreateBookingRequest{
			ResourceID: "r1", StartTime: start, EndTime: start.Add(time.Hour),
		}))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("status change by a member is forbidden", func(t *testing.T) {
		router := setup(&MockBookingService{
			UpdateStatusFunc: func(_ context.Context, _, id string, status domain.BookingStatus) (*domain.Booking, error) {
				assert.Equal(t, "b1", id)
				assert.Equal(t, domain.BookingStatusConfirmed, status)
				return nil, domain.ErrForbidden
			},
		})
		req := httptest.NewRequest(http.MethodPatch, "/bookings/b1/status", bytes.NewBufferString(`{"status":"confirmed"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		var deleted string
		router := setup(&MockBookingService{
			DeleteFunc: func(_ context.Context, _, id string) error {
				deleted = id
				return nil
			},
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/bookings/b7", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "b7", deleted)
	})

	t.Run("unexpected error is internal", func(t *testing.T) {
		router := setup(&MockBookingService{
			GetFunc: func(context.Context, string, string) (*domain.Booking, error) {
				return nil, errors.New("connection reset")
			},
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bookings/b1", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestFunctionHandler_Invoke(t *testing.T) {
	setup := func(inv FunctionInvoker) *gin.Engine {
		router := newRouter()
		router.POST("/functions/:name", withIdentity("u1", "s1"), NewFunctionHandler(inv).Invoke)
		return router
	}

	t.Run("success envelope", func(t *testing.T) {
		inv := new(MockFunctionInvoker)
		inv.On("Invoke", mock.Anything, "send-notification", mock.MatchedBy(func(call *functions.Call) bool {
			return call.UserID == "u1" && call.Email == "u1@hub.test" && string(call.Payload) == `{"title":"hi"}`
		})).Return(map[string]string{"id": "n1"}, nil)

		w := httptest.NewRecorder()
		setup(inv).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/functions/send-notification", bytes.NewBufferString(`{"title":"hi"}`)))

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"result":{"id":"n1"}}`, w.Body.String())
		inv.AssertExpectations(t)
	})

	t.Run("forbidden", func(t *testing.T) {
		inv := new(MockFunctionInvoker)
		inv.On("Invoke", mock.Anything, "run-automated-task", mock.AnythingOfType("*functions.Call")).Return(nil, domain.ErrForbidden)

		w := httptest.NewRecorder()
		setup(inv).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/functions/run-automated-task", bytes.NewBufferString(`{}`)))

		assert.Equal(t, http.StatusForbidden, w.Code)
		var resp dto.FunctionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, domain.ErrForbidden.Error(), resp.Error)
		inv.AssertExpectations(t)
	})

	t.Run("unknown function", func(t *testing.T) {
		inv := new(MockFunctionInvoker)
		inv.On("Invoke", mock.Anything, "nope", mock.AnythingOfType("*functions.Call")).Return(nil, domain.ErrFunctionNotFound)

		w := httptest.NewRecorder()
		setup(inv).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/functions/nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		inv.AssertExpectations(t)
	})

	t.Run("internal failure hides the cause", func(t *testing.T) {
		inv := new(MockFunctionInvoker)
		inv.On("Invoke", mock.Anything, "create-checkout-session", mock.AnythingOfType("*functions.Call")).
			Return(nil, errors.New("stripe: invalid api key sk_live_123"))

		w := httptest.NewRecorder()
		setup(inv).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/functions/create-checkout-session", bytes.NewBufferString(`{}`)))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var resp dto.FunctionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, functionFailedMessage, resp.Error)
		assert.NotContains(t, w.Body.String(), "sk_live")
	})

	t.Run("body must be JSON", func(t *testing.T) {
		inv := new(MockFunctionInvoker)

		w := httptest.NewRecorder()
		setup(inv).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/functions/x", bytes.NewBufferString(`not json`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		inv.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHealthHandler(t *testing.T) {
	ok := checkerFunc(func(context.Context) error { return nil })
	down := checkerFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
	}{
		{"all connected", map[string]HealthChecker{"postgres": ok, "redis": ok}, http.StatusOK},
		{"redis down", map[string]HealthChecker{"postgres": ok, "redis": down}, http.StatusServiceUnavailable},
		{"nil checker skipped", map[string]HealthChecker{"postgres": ok, "redis": nil}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("backend-console", tt.checks)
			router := newRouter()
			router.GET("/health", h.Health)
			router.GET("/ready", h.Ready)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, http.StatusOK, w.Code)

			w = httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRecovery_RendersFallback(t *testing.T) {
	router := newRouter()
	router.Use(Recovery(logger.NewNop()))
	router.GET("/boom", func(*gin.Context) { panic("template exploded") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, "UNEXPECTED_ERROR", env.Error.Code)
	assert.Equal(t, true, env.Meta["fallback"])
}
