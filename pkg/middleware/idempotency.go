package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Ebrudra/desk-access-hub/pkg/response"
)

const (
	IdempotencyKeyHeader  = "X-Idempotency-Key"
	IdempotencyKeyPrefix  = "idempotency:"
	DefaultIdempotencyTTL = 5 * time.Minute
	defaultProcessingTTL  = 60 * time.Second
)

type idempotencyStatus string

const (
	statusProcessing idempotencyStatus = "processing"
	statusCompleted  idempotencyStatus = "completed"
)

// IdempotencyRecord is the stored state of a keyed request
type IdempotencyRecord struct {
	Status       idempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code"`
	ResponseBody string            `json:"response_body"`
	CreatedAt    time.Time         `json:"created_at"`
}

// IdempotencyStore is the subset of the Redis client the middleware needs
type IdempotencyStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Idempotency replays the stored response for a repeated X-Idempotency-Key.
// Requests without the header pass through. Store errors fail open. Server
// errors are not stored, so a retry with the same key runs the handler again.
func Idempotency(store IdempotencyStore, ttl time.Duration) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		hash := requestHash(c, body)
		redisKey := IdempotencyKeyPrefix + UserID(c) + ":" + key
		ctx := c.Request.Context()

		rec, err := loadRecord(ctx, store, redisKey)
		if err != nil && !errors.Is(err, redis.Nil) {
			c.Next()
			return
		}
		if rec == nil {
			pending := &IdempotencyRecord{Status: statusProcessing, RequestHash: hash, CreatedAt: time.Now()}
			data, _ := json.Marshal(pending)
			ok, err := store.SetNX(ctx, redisKey, string(data), defaultProcessingTTL).Result()
			if err != nil {
				c.Next()
				return
			}
			if ok {
				capture(c, store, redisKey, pending, ttl)
				return
			}
			if rec, _ = loadRecord(ctx, store, redisKey); rec == nil {
				c.Next()
				return
			}
		}

		switch {
		case rec.RequestHash != hash:
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, response.Fail("IDEMPOTENCY_KEY_REUSED", "Idempotency key already used with a different request"))
		case rec.Status == statusProcessing:
			c.AbortWithStatusJSON(http.StatusConflict, response.Fail("REQUEST_IN_PROGRESS", "A request with this idempotency key is already being processed"))
		default:
			c.Data(rec.ResponseCode, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			c.Abort()
		}
	}
}

func capture(c *gin.Context, store IdempotencyStore, redisKey string, rec *IdempotencyRecord, ttl time.Duration) {
	rw := &recordingWriter{ResponseWriter: c.Writer}
	c.Writer = rw
	c.Next()

	// Detached so a cancelled client still leaves a replayable record
	ctx := context.WithoutCancel(c.Request.Context())
	if rw.Status() >= http.StatusInternalServerError {
		_ = store.Del(ctx, redisKey).Err()
		return
	}

	rec.Status = statusCompleted
	rec.ResponseCode = rw.Status()
	rec.ResponseBody = rw.body.String()
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = store.Set(ctx, redisKey, string(data), ttl).Err()
}

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func requestHash(c *gin.Context, body []byte) string {
	h := sha256.New()
	h.Write([]byte(c.Request.Method))
	h.Write([]byte(c.Request.URL.Path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func loadRecord(ctx context.Context, store IdempotencyStore, key string) (*IdempotencyRecord, error) {
	raw, err := store.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
