package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests in fixed one-minute windows keyed by
// (userId, ipAddress). Allow mutates the counter as a side effect.
// Injected via configuration: the memory implementation serves
// single-node deployments, the Redis one shares counters across
// instances.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, count int, err error)
	Status(ctx context.Context, key string) (count, limit int, resetIn time.Duration, err error)
}

const rateWindow = time.Minute

type windowCounter struct {
	windowStart time.Time
	count       int
}

// MemoryRateLimiter is the in-process limiter. Stale windows are
// dropped opportunistically on access.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	limit   int
	windows map[string]*windowCounter
	now     func() time.Time
}

func NewMemoryRateLimiter(limit int) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:   limit,
		windows: make(map[string]*windowCounter),
		now:     time.Now,
	}
}

func (m *MemoryRateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w := m.windows[key]
	if w == nil || now.Sub(w.windowStart) >= rateWindow {
		w = &windowCounter{windowStart: now.Truncate(rateWindow)}
		m.windows[key] = w
	}
	w.count++

	if len(m.windows) > 10000 {
		m.sweepLocked(now)
	}

	return w.count <= m.limit, w.count, nil
}

func (m *MemoryRateLimiter) Status(ctx context.Context, key string) (int, int, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w := m.windows[key]
	if w == nil || now.Sub(w.windowStart) >= rateWindow {
		return 0, m.limit, rateWindow, nil
	}
	return w.count, m.limit, w.windowStart.Add(rateWindow).Sub(now), nil
}

func (m *MemoryRateLimiter) sweepLocked(now time.Time) {
	for k, w := range m.windows {
		if now.Sub(w.windowStart) >= rateWindow {
			delete(m.windows, k)
		}
	}
}

// RedisRateLimiter shares fixed-window counters across instances.
// INCR is atomic, so two instances racing on the same key still see a
// consistent count.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
}

func NewRedisRateLimiter(client *redis.Client, limit int) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit}
}

func (r *RedisRateLimiter) windowKey(key string, now time.Time) string {
	return fmt.Sprintf("previewd:rate:%s:%d", key, now.Truncate(rateWindow).Unix())
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	wk := r.windowKey(key, time.Now())

	count, err := r.client.Incr(ctx, wk).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limiter incr: %w", err)
	}
	if count == 1 {
		// Window keys self-clean one window after rollover.
		r.client.Expire(ctx, wk, 2*rateWindow)
	}

	return int(count) <= r.limit, int(count), nil
}

func (r *RedisRateLimiter) Status(ctx context.Context, key string) (int, int, time.Duration, error) {
	now := time.Now()
	wk := r.windowKey(key, now)

	count, err := r.client.Get(ctx, wk).Int()
	if err == redis.Nil {
		count = 0
	} else if err != nil {
		return 0, r.limit, 0, fmt.Errorf("rate limiter get: %w", err)
	}

	resetIn := now.Truncate(rateWindow).Add(rateWindow).Sub(now)
	return count, r.limit, resetIn, nil
}
