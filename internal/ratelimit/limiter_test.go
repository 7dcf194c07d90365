package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestClient connects to a local Redis and skips when none is running.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return client
}

func TestRedisLimiter_AllowsUpToLimit(t *testing.T) {
	client := newTestClient(t)
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}
	l := NewRedisLimiter(client, rule, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	ok, err := l.Allow(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected 4th request to be limited")
	}

	if ok, _ := l.Allow(ctx, "fresh"); !ok {
		t.Error("expected a different identifier to have its own window")
	}
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	l := NewRedisLimiter(client, RuleMessage, nil)

	ok, err := l.Allow(context.Background(), "u1")
	if err == nil {
		t.Fatal("expected a connection error")
	}
	if !ok {
		t.Fatal("expected fail-open when redis is unreachable")
	}
}

func TestLocalLimiter_BurstThenRefill(t *testing.T) {
	l := NewLocalLimiter(Rule{Limit: 2, Window: time.Second})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "a"); !ok {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "a"); ok {
		t.Fatal("third request inside the window should be limited")
	}
	if ok, _ := l.Allow(ctx, "b"); !ok {
		t.Fatal("other identifiers have their own bucket")
	}

	now = now.Add(600 * time.Millisecond)
	if ok, _ := l.Allow(ctx, "a"); !ok {
		t.Fatal("bucket should have refilled one token")
	}
}

func TestLocalLimiter_Sweep(t *testing.T) {
	l := NewLocalLimiter(Rule{Limit: 1, Window: time.Second})
	now := time.Now()
	l.now = func() time.Time { return now }
	l.Allow(context.Background(), "a")

	now = now.Add(3 * time.Second)
	if n := l.Sweep(); n != 1 {
		t.Errorf("expected 1 swept visitor, got %d", n)
	}
}
