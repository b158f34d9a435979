package convcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/romanbabin/convogate/pkg/metrics"
)

const (
	defaultMaxEntries     = 2000
	defaultL1TTL          = 30 * time.Second
	defaultCleanupInterval = time.Minute
)

// Config sizes the in-memory tier. L2 (Redis) is wired separately via
// WithRedisTier, since it is only ever available in the standard profile.
type Config struct {
	MaxEntries      int
	TTL             time.Duration
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = defaultMaxEntries
	}
	if c.TTL <= 0 {
		c.TTL = defaultL1TTL
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	return c
}

// Cache is the two-tier conversation-list cache: every page is checked
// against the in-process tier first, then against Redis if wired, before
// falling through to the repository. A Get/Set pair always populates both
// tiers so a later L2-only hit warms L1 for the next request.
type Cache struct {
	l1      *l1Cache
	l2      *RedisTier
	metrics *metrics.ConversationCacheMetrics
	logger  *slog.Logger
	stop    chan struct{}
}

// New builds a Cache with its in-memory tier running. Call SetRedisTier to
// add the shared tier, and Close to stop the background sweep.
func New(cfg Config, logger *slog.Logger, m *metrics.ConversationCacheMetrics) *Cache {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		l1:      newL1Cache(cfg.MaxEntries, cfg.TTL, m),
		metrics: m,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	go c.l1.run(c.stop, cfg.CleanupInterval)
	return c
}

// SetRedisTier wires the shared second tier. Safe to call once after New; a
// nil tier (the default) means every miss on L1 falls through to the caller.
func (c *Cache) SetRedisTier(t *RedisTier) {
	c.l2 = t
}

// Get returns the cached page for sessionID/page/limit, checking L1 then L2.
// An L2 hit is copied back into L1 before returning.
func (c *Cache) Get(ctx context.Context, sessionID string, page, limit int) (Page, bool) {
	key := pageKey(sessionID, page, limit)

	if p, ok := c.l1.get(key); ok {
		c.observe("l1", "hit")
		return p, true
	}
	c.observe("l1", "miss")

	if c.l2 != nil {
		if p, ok := c.l2.get(ctx, key); ok {
			c.observe("l2", "hit")
			c.l1.set(key, p)
			return p, true
		}
		c.observe("l2", "miss")
	}

	return Page{}, false
}

// Set stores value for sessionID/page/limit in both tiers.
func (c *Cache) Set(ctx context.Context, sessionID string, page, limit int, value Page) {
	key := pageKey(sessionID, page, limit)
	c.l1.set(key, value)
	if c.l2 != nil {
		c.l2.set(ctx, key, value)
	}
}

// InvalidateSession drops every cached page for sessionID in both tiers. A
// new message or a new conversation changes a session's list ordering and
// totals, so every page for that session is stale, not just page one.
func (c *Cache) InvalidateSession(ctx context.Context, sessionID string) {
	prefix := sessionPrefix(sessionID)
	c.l1.deleteSession(prefix)
	if c.l2 != nil {
		c.l2.deleteSession(ctx, prefix)
	}
}

// Stats reports in-memory tier occupancy for the admin stats surface.
func (c *Cache) Stats() map[string]interface{} {
	stats := c.l1.stats()
	stats["redis_enabled"] = c.l2 != nil
	return stats
}

// Close stops the background sweep and, if wired, the Redis connection.
func (c *Cache) Close() error {
	close(c.stop)
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}

func (c *Cache) observe(tier, outcome string) {
	if c.metrics != nil {
		c.metrics.RequestsTotal.WithLabelValues(tier, outcome).Inc()
	}
}

func sessionPrefix(sessionID string) string {
	return fmt.Sprintf("conversations:%s:", sessionID)
}

func pageKey(sessionID string, page, limit int) string {
	return fmt.Sprintf("%sp%d:l%d", sessionPrefix(sessionID), page, limit)
}
