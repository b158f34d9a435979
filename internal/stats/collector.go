// Package stats aggregates a periodic snapshot of conversation and
// moderation activity for the admin dashboard, without putting the
// aggregation query on the hot request path.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/romanbabin/convogate/internal/domain"
)

// Repository is the subset of storage.Repository the Collector reads.
type Repository interface {
	ListEscalatedConversations(ctx context.Context, limit int) ([]domain.Conversation, error)
	ListModerationLogs(ctx context.Context, limit int) ([]domain.ModerationLog, error)
}

// Snapshot is the point-in-time view served by GET /api/admin/stats.
type Snapshot struct {
	GeneratedAt time.Time `json:"generatedAt"`

	EscalatedConversations int            `json:"escalatedConversations"`
	EscalationsByCategory  map[string]int `json:"escalationsByCategory"`

	// ModerationLogsSampled is the number of moderation log rows the last
	// refresh read, bounded by Config.SampleLimit; it is not a lifetime
	// total.
	ModerationLogsSampled int            `json:"moderationLogsSampled"`
	ModerationFlagged     int            `json:"moderationFlagged"`
	ModerationByCategory  map[string]int `json:"moderationByCategory"`
}

// Config configures a Collector.
type Config struct {
	// Interval between background refreshes. Defaults to 30s.
	Interval time.Duration
	// SampleLimit bounds how many moderation log rows one refresh reads,
	// so the aggregation query stays O(SampleLimit) instead of a full
	// table scan. Defaults to 1000.
	SampleLimit int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.SampleLimit <= 0 {
		c.SampleLimit = 1000
	}
	return c
}

// Collector refreshes a Snapshot on a ticker and serves the cached copy to
// readers without blocking on storage. Zero value is not usable; build
// with New.
type Collector struct {
	repo   Repository
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// New builds a Collector. The returned Collector serves a zero-value,
// zero-GeneratedAt Snapshot until the first refresh runs.
func New(repo Repository, cfg Config, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{repo: repo, cfg: cfg.withDefaults(), logger: logger}
}

// Run refreshes immediately, then on every tick of cfg.Interval, until ctx
// is canceled. Intended to be launched in its own goroutine.
func (c *Collector) Run(ctx context.Context) {
	c.refresh(ctx)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// Snapshot returns the most recently refreshed snapshot. Safe before the
// first Run tick; callers get a zero-value Snapshot in that case.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Collector) refresh(ctx context.Context) {
	next := Snapshot{
		GeneratedAt:           time.Now(),
		EscalationsByCategory: map[string]int{},
		ModerationByCategory:  map[string]int{},
	}

	convs, err := c.repo.ListEscalatedConversations(ctx, 0)
	if err != nil {
		c.logger.Warn("stats collector: list escalated conversations failed", "error", err)
	} else {
		next.EscalatedConversations = len(convs)
		for _, conv := range convs {
			next.EscalationsByCategory[conv.EscalationCategory]++
		}
	}

	logs, err := c.repo.ListModerationLogs(ctx, c.cfg.SampleLimit)
	if err != nil {
		c.logger.Warn("stats collector: list moderation logs failed", "error", err)
	} else {
		next.ModerationLogsSampled = len(logs)
		for _, log := range logs {
			if log.Flagged {
				next.ModerationFlagged++
			}
			for category, hit := range log.Categories {
				if hit {
					next.ModerationByCategory[category]++
				}
			}
		}
	}

	c.mu.Lock()
	c.snap = next
	c.mu.Unlock()
}
