package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func setupRedisLimiter(t *testing.T, cfg Config) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	limiter, err := NewRedisLimiter(context.Background(), RedisLimiterConfig{
		Addr: mr.Addr(), DialTimeout: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second,
	}, cfg, nil, slog.Default())
	require.NoError(t, err)

	return limiter, mr
}

func TestRedisLimiter_AllowsWithinLimit(t *testing.T) {
	limiter, mr := setupRedisLimiter(t, Config{Limit: 3, Window: time.Minute})
	defer mr.Close()
	defer limiter.Close()

	for i := 0; i < 3; i++ {
		if !limiter.Allow("session-1") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if limiter.Allow("session-1") {
		t.Fatal("4th request should be rate limited")
	}
}

func TestRedisLimiter_IndependentPerSession(t *testing.T) {
	limiter, mr := setupRedisLimiter(t, Config{Limit: 1, Window: time.Minute})
	defer mr.Close()
	defer limiter.Close()

	if !limiter.Allow("session-a") {
		t.Fatal("session-a first request should be allowed")
	}
	if limiter.Allow("session-a") {
		t.Fatal("session-a second request should be rate limited")
	}
	if !limiter.Allow("session-b") {
		t.Fatal("session-b should have its own independent window")
	}
}

func TestRedisLimiter_WindowExpires(t *testing.T) {
	limiter, mr := setupRedisLimiter(t, Config{Limit: 1, Window: 50 * time.Millisecond})
	defer mr.Close()
	defer limiter.Close()

	if !limiter.Allow("session-1") {
		t.Fatal("first request should be allowed")
	}
	time.Sleep(100 * time.Millisecond)
	if !limiter.Allow("session-1") {
		t.Fatal("request after window expiry should be allowed")
	}
}
