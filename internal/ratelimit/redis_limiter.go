package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/romanbabin/convogate/pkg/metrics"
)

// RateLimiter is satisfied by both Limiter (in-process, lite profile) and
// RedisLimiter (shared across instances, standard profile).
type RateLimiter interface {
	Allow(sessionID string) bool
}

// RedisLimiterConfig configures the Redis connection a RedisLimiter opens.
type RedisLimiterConfig struct {
	Addr            string
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// RedisLimiter implements the same sliding-window algorithm as Limiter, but
// keeps each session's timestamp log in a Redis sorted set (score = unix
// nanoseconds) so every gateway instance behind a load balancer shares one
// view of a session's request rate, instead of each instance enforcing its
// own independent window.
type RedisLimiter struct {
	client  *redis.Client
	cfg     Config
	metrics *metrics.RateLimiterMetrics
	logger  *slog.Logger
}

// NewRedisLimiter dials Redis and pings it before returning, so a
// misconfigured address fails at startup rather than on the first request.
func NewRedisLimiter(ctx context.Context, rc RedisLimiterConfig, cfg Config, m *metrics.RateLimiterMetrics, logger *slog.Logger) (*RedisLimiter, error) {
	if cfg.Limit <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}

	client := redis.NewClient(&redis.Options{
		Addr:            rc.Addr,
		Password:        rc.Password,
		DB:              rc.DB,
		PoolSize:        rc.PoolSize,
		MinIdleConns:    rc.MinIdleConns,
		DialTimeout:     rc.DialTimeout,
		ReadTimeout:     rc.ReadTimeout,
		WriteTimeout:    rc.WriteTimeout,
		MaxRetries:      rc.MaxRetries,
		MinRetryBackoff: rc.MinRetryBackoff,
		MaxRetryBackoff: rc.MaxRetryBackoff,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisLimiter{client: client, cfg: cfg, metrics: m, logger: logger}, nil
}

// Allow reports whether sessionID may make one more request now. One
// MULTI/EXEC pipeline prunes timestamps older than Window, records the
// current attempt and counts the set, so concurrent requests for the same
// session across instances see each other's attempts; an attempt that takes
// the count over Limit is removed again and refused.
func (l *RedisLimiter) Allow(sessionID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := "ratelimit:" + sessionID
	now := time.Now()
	cutoff := now.Add(-l.cfg.Window)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), sessionID)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: a Redis outage should not block every session's
		// conversation, only forfeit rate limiting until it recovers.
		l.logger.Warn("rate limiter redis pipeline failed, allowing request", "error", err)
		return true
	}

	current, err := count.Result()
	if err != nil {
		l.logger.Warn("rate limiter redis count failed, allowing request", "error", err)
		return true
	}

	allowed := int(current) <= l.cfg.Limit
	outcome := "limited"
	if allowed {
		outcome = "allowed"
	} else if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
		l.logger.Warn("rate limiter redis remove of refused attempt failed", "error", err)
	}

	if l.metrics != nil {
		l.metrics.DecisionsTotal.WithLabelValues(outcome).Inc()
	}
	return allowed
}

// Close releases the underlying Redis connection pool.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
