// Package ratelimit provides fixed-window counters used to throttle signups
// and PIN attempts.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether another attempt under key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// incrWindow bumps the counter and (re)arms the expiry in one step, so a key
// left without a TTL by an interrupted caller heals on its next attempt.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter counts attempts per key with INCR and a window expiry.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter allows max attempts per window for each key.
func NewRedisLimiter(client *redis.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if max <= 0 {
		max = 5
	}
	return &RedisLimiter{client: client, prefix: prefix, max: max, window: window}
}

// Allow increments the counter for key. Errors are returned with allowed=true
// so callers can fail open.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	cnt, err := incrWindow.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return true, err
	}
	return cnt <= int64(l.max), nil
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is the in-process equivalent of RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	buckets map[string]window
	nowF    func() time.Time
}

// NewMemoryLimiter allows max attempts per window for each key.
func NewMemoryLimiter(max int, win time.Duration) *MemoryLimiter {
	if max <= 0 {
		max = 5
	}
	return &MemoryLimiter{max: max, window: win, buckets: make(map[string]window), nowF: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	b := l.buckets[key]
	if !now.Before(b.resetAt) {
		b = window{resetAt: now.Add(l.window)}
	}
	b.count++
	l.buckets[key] = b
	return b.count <= l.max, nil
}

// Unlimited never throttles.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
