// Package ratelimit implements a per-session sliding-window rate limiter:
// each session tracks its own timestamped request log and is limited
// independently, rather than sharing a global token bucket.
package ratelimit

import (
	"sync"
	"time"

	"github.com/romanbabin/convogate/pkg/metrics"
)

// Config configures the sliding window.
type Config struct {
	// Limit is the maximum number of requests allowed within Window.
	Limit int
	// Window is the sliding duration over which Limit applies.
	Window time.Duration
}

// DefaultConfig returns the default rate: 10 messages per 60 seconds.
func DefaultConfig() Config {
	return Config{Limit: 10, Window: 60 * time.Second}
}

type window struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Limiter tracks one sliding window per session key.
type Limiter struct {
	cfg     Config
	metrics *metrics.RateLimiterMetrics

	mu       sync.Mutex
	sessions map[string]*window
}

// New builds a Limiter. m may be nil.
func New(cfg Config, m *metrics.RateLimiterMetrics) *Limiter {
	if cfg.Limit <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Limiter{cfg: cfg, metrics: m, sessions: make(map[string]*window)}
}

// Allow reports whether sessionID may make one more request now, recording
// the attempt if so. Timestamps older than Window are pruned from the
// session's log on every call for that session; a session that stops
// sending requests keeps its last timestamps until Prune drops it.
func (l *Limiter) Allow(sessionID string) bool {
	w := l.windowFor(sessionID)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.cfg.Window)

	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept

	allowed := len(w.timestamps) < l.cfg.Limit
	outcome := "limited"
	if allowed {
		w.timestamps = append(w.timestamps, now)
		outcome = "allowed"
	}

	if l.metrics != nil {
		l.metrics.DecisionsTotal.WithLabelValues(outcome).Inc()
	}
	return allowed
}

func (l *Limiter) windowFor(sessionID string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.sessions[sessionID]
	if !ok {
		w = &window{}
		l.sessions[sessionID] = w
		if l.metrics != nil {
			l.metrics.ActiveWindows.Set(float64(len(l.sessions)))
		}
	}
	return w
}

// Prune drops tracked sessions whose newest timestamp is older than Window,
// bounding memory for long-lived deployments. Nothing on the request path
// calls it.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.cfg.Window)
	for id, w := range l.sessions {
		w.mu.Lock()
		n := len(w.timestamps)
		idle := n == 0 || !w.timestamps[n-1].After(cutoff)
		w.mu.Unlock()
		if idle {
			delete(l.sessions, id)
		}
	}

	if l.metrics != nil {
		l.metrics.ActiveWindows.Set(float64(len(l.sessions)))
	}
}
