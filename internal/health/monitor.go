// Package health runs a background prober over the gateway's external
// dependencies (moderation provider, completion provider, storage) and
// caches the result, so GET /api/admin/stats never blocks on a live probe.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Checker is satisfied by the moderation and completion HTTP providers'
// circuit breaker wrapper.
type Checker interface {
	Healthy() bool
}

// Pinger is satisfied by storage.Repository.
type Pinger interface {
	Health(ctx context.Context) error
}

// Status is the cached health of one dependency.
type Status struct {
	Name        string    `json:"name"`
	Healthy     bool      `json:"healthy"`
	LastChecked time.Time `json:"lastChecked"`
	Error       string    `json:"error,omitempty"`
}

// Config configures a Monitor.
type Config struct {
	// Interval between background probes. Defaults to 15s.
	Interval time.Duration
	// ProbeTimeout bounds a single storage.Health call. Defaults to 5s.
	ProbeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	return c
}

// Monitor probes the moderation provider, completion provider, and storage
// backend on a ticker and caches the results. Zero value is not usable;
// build with New.
type Monitor struct {
	moderation Checker
	completion Checker
	storage    Pinger
	cfg        Config
	logger     *slog.Logger

	mu       sync.RWMutex
	statuses map[string]Status
}

// New builds a Monitor. moderation/completion/storage may each be nil, in
// which case that dependency is omitted from every snapshot.
func New(moderation, completion Checker, storage Pinger, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		moderation: moderation, completion: completion, storage: storage,
		cfg: cfg.withDefaults(), logger: logger,
		statuses: make(map[string]Status),
	}
}

// Run probes immediately, then on every tick of cfg.Interval, until ctx is
// canceled. Intended to be launched in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.probeAll(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

// Snapshot returns the cached status of every probed dependency, in a
// stable order (moderation, completion, storage).
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, 3)
	for _, name := range []string{"moderation", "completion", "storage"} {
		if s, ok := m.statuses[name]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (m *Monitor) probeAll(ctx context.Context) {
	now := time.Now()

	if m.moderation != nil {
		m.set(Status{Name: "moderation", Healthy: m.moderation.Healthy(), LastChecked: now})
	}
	if m.completion != nil {
		m.set(Status{Name: "completion", Healthy: m.completion.Healthy(), LastChecked: now})
	}
	if m.storage != nil {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		err := m.storage.Health(probeCtx)
		cancel()

		status := Status{Name: "storage", Healthy: err == nil, LastChecked: now}
		if err != nil {
			status.Error = err.Error()
			m.logger.Warn("health monitor: storage probe failed", "error", err)
		}
		m.set(status)
	}
}

func (m *Monitor) set(s Status) {
	m.mu.Lock()
	m.statuses[s.Name] = s
	m.mu.Unlock()
}
