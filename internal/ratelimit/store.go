package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// MemoryStore keeps window counters in process memory. The clock is
// injectable so tests can move time.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewMemoryStore creates a MemoryStore. A nil clock defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{windows: make(map[string]*window), now: now}
}

func (s *MemoryStore) Incr(_ context.Context, key string, length time.Duration) (int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= length {
		w = &window{start: now}
		s.windows[key] = w
	}
	w.count++
	remaining := length - now.Sub(w.start)
	return w.count, remaining, nil
}

// Sweep drops expired windows; callers run it periodically to bound memory.
func (s *MemoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, w := range s.windows {
		// Window length is encoded in the key; a day covers every policy in use.
		if now.Sub(w.start) > 24*time.Hour {
			delete(s.windows, key)
		}
	}
}

// RedisStore keeps window counters in redis so several instances share
// admission state. Buckets expire with the window.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore with the given key prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Incr(ctx context.Context, key string, length time.Duration) (int, time.Duration, error) {
	fullKey := s.prefix + ":" + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	ttl := pipe.PTTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	count := int(incr.Val())
	remaining := ttl.Val()
	if remaining < 0 {
		// First hit in this bucket: start the window.
		if err := s.client.PExpire(ctx, fullKey, length).Err(); err != nil {
			return 0, 0, err
		}
		remaining = length
	}
	return count, remaining, nil
}
