package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLimiterWindow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLimiter(client, "rl:test:", 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "device-1")
		if err != nil || !ok {
			t.Fatalf("attempt %d should pass, ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := l.Allow(ctx, "device-1"); ok {
		t.Fatalf("third attempt should be throttled")
	}
	if ok, _ := l.Allow(ctx, "device-2"); !ok {
		t.Fatalf("other keys must not share the window")
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _ := l.Allow(ctx, "device-1"); !ok {
		t.Fatalf("window should reset after expiry")
	}
}

func TestRedisLimiterRestoresMissingExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	// a counter stranded without a TTL would throttle the key forever
	if err := mr.Set("rl:test:device-1", "7"); err != nil {
		t.Fatalf("seed counter: %v", err)
	}
	l := NewRedisLimiter(client, "rl:test:", 2, time.Minute)
	if ok, err := l.Allow(context.Background(), "device-1"); err != nil || ok {
		t.Fatalf("stranded counter should still throttle, ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("rl:test:device-1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected the window expiry to be restored, got %v", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _ := l.Allow(context.Background(), "device-1"); !ok {
		t.Fatalf("key should recover once the restored window lapses")
	}
}

func TestRedisLimiterFirstHitSetsExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLimiter(client, "rl:test:", 5, 30*time.Second)
	if _, err := l.Allow(context.Background(), "k"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ttl := mr.TTL("rl:test:k"); ttl != 30*time.Second {
		t.Fatalf("expected a 30s window, got %v", ttl)
	}
}

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Now()
	l := NewMemoryLimiter(1, time.Minute)
	l.nowF = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Fatalf("first attempt should pass")
	}
	if ok, _ := l.Allow(ctx, "k"); ok {
		t.Fatalf("second attempt should be throttled")
	}
	now = now.Add(time.Minute)
	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Fatalf("window should reset")
	}
}
