// Package rules implements the Config Store & Cache: a read-through cache
// over persisted safety rules, moderation thresholds, escalation categories,
// and system settings, published as immutable domain.Snapshot values behind
// a pointer guarded by a read-write mutex: readers share the read lock, and
// publishing a new snapshot waits for them to release it.
package rules

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/pkg/metrics"
)

// Repository loads the four configuration sets from persistence. A single
// Refresh call loads all four "in one logical transaction" per spec: the
// repository implementation is responsible for giving callers a consistent
// view (e.g. one DB transaction) even though the interface exposes them as
// separate methods.
type Repository interface {
	LoadRules(ctx context.Context) ([]domain.SafetyRule, error)
	LoadModerationSettings(ctx context.Context) ([]domain.ModerationSetting, error)
	LoadEscalationSettings(ctx context.Context) ([]domain.EscalationSetting, error)
	LoadSystemSettings(ctx context.Context) ([]domain.SystemSetting, error)
}

// Store is the Config Store & Cache. Zero value is not usable; build with New.
type Store struct {
	repo               Repository
	ttl                time.Duration
	fallbackToDefaults bool
	logger             *slog.Logger
	metrics            *metrics.ConfigStoreMetrics

	current snapshotCell

	refreshMu      sync.Mutex
	refreshPending *refreshCall

	version int64 // protected by refreshMu for writes; read via current snapshot otherwise
}

// snapshotCell is a tiny mutex-guarded wrapper so the zero value of Store
// is race-free.
type snapshotCell struct {
	mu   sync.RWMutex
	snap *domain.Snapshot
}

func (a *snapshotCell) Load() *domain.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

func (a *snapshotCell) Store(s *domain.Snapshot) {
	a.mu.Lock()
	a.snap = s
	a.mu.Unlock()
}

// refreshCall represents one in-flight refresh; concurrent callers that
// observe staleness at the same time coalesce onto the same call instead of
// hammering the repository.
type refreshCall struct {
	done chan struct{}
	snap *domain.Snapshot
	err  error
}

// Config configures a Store.
type Config struct {
	TTL                time.Duration
	FallbackToDefaults bool
}

// New builds a Store. logger and m may be nil.
func New(repo Repository, cfg Config, logger *slog.Logger, m *metrics.ConfigStoreMetrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 300 * time.Second
	}
	return &Store{
		repo:               repo,
		ttl:                cfg.TTL,
		fallbackToDefaults: cfg.FallbackToDefaults,
		logger:             logger,
		metrics:            m,
	}
}

// GetSnapshot returns the current configuration snapshot, refreshing it if
// missing or stale. If the refresh fails, it serves the previous snapshot
// while that is younger than twice the TTL, then the built-in defaults when
// FallbackToDefaults is set, and otherwise returns ErrConfigUnavailable.
func (s *Store) GetSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	snap := s.current.Load()

	if snap != nil && time.Since(snap.LoadedAt) < s.ttl {
		return snap, nil
	}

	fresh, err := s.refreshCoalesced(ctx)
	if err == nil {
		return fresh, nil
	}

	// Refresh failed: serve stale data for up to one additional TTL before
	// surfacing ConfigUnavailable, per spec's failure semantics.
	if snap != nil && time.Since(snap.LoadedAt) < 2*s.ttl {
		s.logger.Warn("config store serving stale snapshot after failed refresh",
			"age", time.Since(snap.LoadedAt), "error", err)
		return snap, nil
	}

	if s.fallbackToDefaults {
		s.logger.Warn("config store degraded: serving built-in defaults", "error", err)
		def := DefaultSnapshot()
		return def, nil
	}

	return nil, domain.ErrConfigUnavailable
}

// Invalidate marks the cache stale, forcing the next GetSnapshot call to
// refresh. Admin CRUD operations call this after a successful write.
func (s *Store) Invalidate() {
	snap := s.current.Load()
	if snap == nil {
		return
	}
	rolledBack := *snap
	rolledBack.LoadedAt = time.Now().Add(-s.ttl) // stale now, but still within the failed-refresh grace window
	s.current.Store(&rolledBack)
}

// refreshCoalesced performs a single refresh against the repository,
// coalescing concurrent callers onto the same in-flight call.
func (s *Store) refreshCoalesced(ctx context.Context) (*domain.Snapshot, error) {
	s.refreshMu.Lock()
	if s.refreshPending != nil {
		call := s.refreshPending
		s.refreshMu.Unlock()
		if s.metrics != nil {
			s.metrics.RefreshesTotal.WithLabelValues("coalesced").Inc()
		}
		select {
		case <-call.done:
			return call.snap, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	s.refreshPending = call
	s.refreshMu.Unlock()

	start := time.Now()
	snap, err := s.refresh(ctx)
	if s.metrics != nil {
		s.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	}

	s.refreshMu.Lock()
	call.snap, call.err = snap, err
	s.refreshPending = nil
	if err == nil {
		s.version++
	}
	s.refreshMu.Unlock()
	close(call.done)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if s.metrics != nil {
		s.metrics.RefreshesTotal.WithLabelValues(outcome).Inc()
	}

	if err == nil {
		s.current.Store(snap)
		if s.metrics != nil {
			s.metrics.SnapshotVersion.Set(float64(snap.Version))
			s.metrics.Degraded.Set(0)
		}
	}
	return snap, err
}

// refresh loads all four configuration sets and assembles a sorted Snapshot.
func (s *Store) refresh(ctx context.Context) (*domain.Snapshot, error) {
	ruleRows, err := s.repo.LoadRules(ctx)
	if err != nil {
		return nil, err
	}
	modRows, err := s.repo.LoadModerationSettings(ctx)
	if err != nil {
		return nil, err
	}
	escRows, err := s.repo.LoadEscalationSettings(ctx)
	if err != nil {
		return nil, err
	}
	sysRows, err := s.repo.LoadSystemSettings(ctx)
	if err != nil {
		return nil, err
	}

	return assembleSnapshot(s.version+1, ruleRows, modRows, escRows, sysRows), nil
}

// assembleSnapshot sorts each set per the Config Store contract and builds
// the category/key-indexed maps.
func assembleSnapshot(version int64, ruleRows []domain.SafetyRule, modRows []domain.ModerationSetting, escRows []domain.EscalationSetting, sysRows []domain.SystemSetting) *domain.Snapshot {
	rules := append([]domain.SafetyRule(nil), ruleRows...)
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})

	escalations := append([]domain.EscalationSetting(nil), escRows...)
	sort.SliceStable(escalations, func(i, j int) bool {
		if escalations[i].Priority != escalations[j].Priority {
			return escalations[i].Priority > escalations[j].Priority
		}
		return escalations[i].Category < escalations[j].Category
	})

	moderation := make(map[string]domain.ModerationSetting, len(modRows))
	for _, m := range modRows {
		moderation[m.Category] = m
	}

	system := make(map[string]domain.SystemSetting, len(sysRows))
	for _, sys := range sysRows {
		system[sys.Key] = sys
	}

	return &domain.Snapshot{
		Version:    version,
		LoadedAt:   time.Now(),
		Rules:      rules,
		Moderation: moderation,
		Escalation: escalations,
		System:     system,
		Degraded:   false,
	}
}

// RunRefreshWorker proactively refreshes the snapshot at ttl/2 so the TTL
// window never fully expires under steady load; runs until ctx is canceled.
func (s *Store) RunRefreshWorker(ctx context.Context) {
	interval := s.ttl / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.refreshCoalesced(ctx); err != nil {
				s.logger.Warn("background config refresh failed", "error", err)
			}
		}
	}
}
