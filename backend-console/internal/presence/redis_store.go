package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	pkgredis "github.com/Ebrudra/desk-access-hub/pkg/redis"
)

// trackScript writes a record and announces the change in one round trip
//
// KEYS[1] = presence:<channel>
// KEYS[2] = presence:<channel>:sync
// ARGV[1] = connection id
// ARGV[2] = record json
// ARGV[3] = hash ttl in milliseconds
const trackScript = `
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PUBLISH', KEYS[2], ARGV[1])
return 1
`

// untrackScript removes a record and announces the change
//
// KEYS[1] = presence:<channel>
// KEYS[2] = presence:<channel>:sync
// ARGV[1] = connection id
const untrackScript = `
local removed = redis.call('HDEL', KEYS[1], ARGV[1])
if removed > 0 then
  redis.call('PUBLISH', KEYS[2], ARGV[1])
end
return removed
`

// RedisStore keeps each channel's roster in a hash and signals changes over pub/sub
type RedisStore struct {
	client *pkgredis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store. ttl bounds how long an abandoned channel hash survives.
func NewRedisStore(client *pkgredis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisStore{client: client, ttl: ttl}
}

func rosterKey(channel string) string { return "presence:" + channel }
func syncKey(channel string) string   { return "presence:" + channel + ":sync" }

func (s *RedisStore) Track(ctx context.Context, channel string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode presence record: %w", err)
	}
	keys := []string{rosterKey(channel), syncKey(channel)}
	if err := s.client.EvalWithFallback(ctx, "presence_track", trackScript, keys,
		rec.ConnID, string(payload), s.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to track presence: %w", err)
	}
	return nil
}

func (s *RedisStore) Untrack(ctx context.Context, channel, connID string) error {
	keys := []string{rosterKey(channel), syncKey(channel)}
	if err := s.client.EvalWithFallback(ctx, "presence_untrack", untrackScript, keys, connID).Err(); err != nil {
		return fmt.Errorf("failed to untrack presence: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, channel string) ([]Record, error) {
	fields, err := s.client.HGetAll(ctx, rosterKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}
	out := make([]Record, 0, len(fields))
	var corrupt []string
	for connID, raw := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			corrupt = append(corrupt, connID)
			continue
		}
		if rec.ConnID == "" {
			rec.ConnID = connID
		}
		out = append(out, rec)
	}
	if len(corrupt) > 0 {
		s.client.HDel(ctx, rosterKey(channel), corrupt...)
	}
	return out, nil
}

// Prune removes the given connections without a sync announcement
func (s *RedisStore) Prune(ctx context.Context, channel string, connIDs ...string) error {
	if len(connIDs) == 0 {
		return nil
	}
	return s.client.HDel(ctx, rosterKey(channel), connIDs...).Err()
}

func (s *RedisStore) Watch(ctx context.Context, channel string) (Watcher, error) {
	ps := s.client.Subscribe(ctx, syncKey(channel))
	// Receive waits for the subscription confirmation so failures surface here
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to presence channel: %w", err)
	}

	w := &redisWatcher{ps: ps, c: make(chan struct{}, 1), done: make(chan struct{})}
	w.wg.Add(1)
	go w.forward(ps.Channel())
	return w, nil
}

type redisWatcher struct {
	ps   *redis.PubSub
	c    chan struct{}
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (w *redisWatcher) forward(msgs <-chan *redis.Message) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			// coalesce bursts into one pending signal
			select {
			case w.c <- struct{}{}:
			default:
			}
		}
	}
}

func (w *redisWatcher) C() <-chan struct{} { return w.c }

func (w *redisWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.ps.Close()
		w.wg.Wait()
	})
	return err
}
