package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memStore) Set(ctx context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (m *memStore) SetNX(ctx context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

type stubVerifier struct {
	id  *Identity
	err error
}

func (s stubVerifier) VerifyAccessToken(ctx context.Context, token string) (*Identity, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return s.id, s.err
}

func TestRequireSession(t *testing.T) {
	r := gin.New()
	r.GET("/me", RequireSession(stubVerifier{id: &Identity{UserID: "u1", Email: "a@b.co", SessionID: "s1"}}), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c)+"|"+SessionID(c)+"|"+Email(c))
	})

	tests := []struct {
		name       string
		setup      func(req *http.Request)
		wantStatus int
		wantBody   string
	}{
		{"no token", func(req *http.Request) {}, http.StatusUnauthorized, `"redirect":"/auth"`},
		{"bad token", func(req *http.Request) { req.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bearer", func(req *http.Request) { req.Header.Set("Authorization", "Bearer good") }, http.StatusOK, "u1|s1|a@b.co"},
		{"cookie", func(req *http.Request) { req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "good"}) }, http.StatusOK, "u1|s1|a@b.co"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "given")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "given", w.Body.String())
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS("http://localhost:5173"))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func (m *memStore) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func idempotentRouter(store IdempotencyStore, calls *int) *gin.Engine {
	r := gin.New()
	r.Use(Idempotency(store, time.Minute))
	r.POST("/bookings", func(c *gin.Context) {
		*calls++
		c.JSON(http.StatusCreated, gin.H{"n": *calls})
	})
	return r
}

func post(r *gin.Engine, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	calls := 0
	r := idempotentRouter(newMemStore(), &calls)

	first := post(r, "k1", `{"a":1}`)
	second := post(r, "k1", `{"a":1}`)

	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotency_ServerErrorIsNotReplayed(t *testing.T) {
	store := newMemStore()
	calls := 0
	r := gin.New()
	r.Use(Idempotency(store, time.Minute))
	r.POST("/bookings", func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db down"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"n": calls})
	})

	first := post(r, "k1", `{"a":1}`)
	second := post(r, "k1", `{"a":1}`)
	third := post(r, "k1", `{"a":1}`)

	assert.Equal(t, http.StatusInternalServerError, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.JSONEq(t, second.Body.String(), third.Body.String())
	assert.Equal(t, 2, calls)
}

func TestIdempotency_KeyReusedWithDifferentBody(t *testing.T) {
	calls := 0
	r := idempotentRouter(newMemStore(), &calls)

	post(r, "k1", `{"a":1}`)
	w := post(r, "k1", `{"a":2}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "IDEMPOTENCY_KEY_REUSED")
	assert.Equal(t, 1, calls)
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	calls := 0
	r := idempotentRouter(newMemStore(), &calls)

	post(r, "", `{}`)
	post(r, "", `{}`)
	assert.Equal(t, 2, calls)
}

func TestIdempotency_StoreErrorFailsOpen(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("redis down")
	calls := 0
	r := idempotentRouter(store, &calls)

	post(r, "k1", `{}`)
	post(r, "k1", `{}`)
	assert.Equal(t, 2, calls)
}
