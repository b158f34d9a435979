package convcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis connection a RedisTier opens.
type RedisConfig struct {
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

// RedisTier is the shared, cross-instance second tier of the conversation
// list cache. A miss here falls through to the repository; a failure is
// logged and treated as a miss rather than propagated, since this cache is
// an optimization, not a correctness dependency.
type RedisTier struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisTier dials Redis and pings it before returning, so a misconfigured
// address fails at startup rather than on the first conversation list
// request.
func NewRedisTier(ctx context.Context, rc RedisConfig, ttl time.Duration, logger *slog.Logger) (*RedisTier, error) {
	if logger == nil {
		logger = slog.Default()
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

	return &RedisTier{client: client, ttl: ttl, logger: logger}, nil
}

func (t *RedisTier) get(ctx context.Context, key string) (Page, bool) {
	data, err := t.client.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return Page{}, false
	}
	if err != nil {
		t.logger.Warn("conversation cache redis get failed, treating as miss", "error", err)
		return Page{}, false
	}

	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		t.logger.Warn("conversation cache redis value corrupt, treating as miss", "error", err)
		return Page{}, false
	}
	return page, true
}

func (t *RedisTier) set(ctx context.Context, key string, value Page) {
	data, err := json.Marshal(value)
	if err != nil {
		t.logger.Warn("conversation cache redis marshal failed", "error", err)
		return
	}
	if err := t.client.Set(ctx, redisKey(key), data, t.ttl).Err(); err != nil {
		t.logger.Warn("conversation cache redis set failed", "error", err)
	}
}

func (t *RedisTier) deleteSession(ctx context.Context, sessionPrefix string) {
	var cursor uint64
	pattern := redisKey(sessionPrefix) + "*"
	for {
		keys, next, err := t.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			t.logger.Warn("conversation cache redis scan failed", "error", err)
			return
		}
		if len(keys) > 0 {
			if err := t.client.Del(ctx, keys...).Err(); err != nil {
				t.logger.Warn("conversation cache redis delete failed", "error", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Close releases the underlying Redis connection pool.
func (t *RedisTier) Close() error {
	return t.client.Close()
}

func redisKey(key string) string {
	return "convcache:" + key
}
