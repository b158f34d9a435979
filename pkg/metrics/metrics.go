// Package metrics holds the Prometheus instrumentation for each pipeline
// component. Every constructor accepts a prometheus.Registerer and is
// nil-safe so components can be unit tested without a live registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "convogate"

// PipelineMetrics instruments the Safety Pipeline and Message Orchestrator:
// turn outcomes, per-stage latency, and streaming cancellations.
type PipelineMetrics struct {
	TurnsTotal       *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	DecisionsTotal   *prometheus.CounterVec
	StreamsCanceled  prometheus.Counter
	ActiveStreams    prometheus.Gauge
}

// NewPipelineMetrics registers and returns pipeline metrics. registry may be
// nil, in which case metrics are created but not exported.
func NewPipelineMetrics(registry prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "turns_total",
				Help:      "Total chat turns processed, by terminal state",
			},
			[]string{"state"}, // delivered, blocked_pre, blocked_post, escalated_pre, escalated_post, failed
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Duration of one pipeline stage",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"stage"}, // sanitize, rule_engine_pre, rag, generate, rule_engine_post
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "decisions_total",
				Help:      "Rule Engine decisions, by kind and which pass produced them",
			},
			[]string{"kind", "pass"}, // kind: allow/warn/flag/escalate/block, pass: pre/post
		),
		StreamsCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "streams_canceled_total",
			Help:      "Streaming turns aborted by client disconnect",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "active_streams",
			Help:      "Number of SSE streams currently in flight",
		}),
	}
	if registry != nil {
		registry.MustRegister(m.TurnsTotal, m.StageDuration, m.DecisionsTotal, m.StreamsCanceled, m.ActiveStreams)
	}
	return m
}

// ConfigStoreMetrics instruments the Config Store & Cache: snapshot
// refreshes and staleness.
type ConfigStoreMetrics struct {
	RefreshesTotal   *prometheus.CounterVec
	RefreshDuration  prometheus.Histogram
	SnapshotAge      prometheus.Gauge
	SnapshotVersion  prometheus.Gauge
	Degraded         prometheus.Gauge
}

// NewConfigStoreMetrics registers and returns config store metrics.
func NewConfigStoreMetrics(registry prometheus.Registerer) *ConfigStoreMetrics {
	m := &ConfigStoreMetrics{
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "config_store",
				Name:      "refreshes_total",
				Help:      "Snapshot refresh attempts, by outcome",
			},
			[]string{"outcome"}, // success, error, coalesced
		),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "config_store",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a snapshot refresh against persistence",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapshotAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config_store",
			Name:      "snapshot_age_seconds",
			Help:      "Age of the currently served snapshot",
		}),
		SnapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config_store",
			Name:      "snapshot_version",
			Help:      "Monotonic version number of the currently served snapshot",
		}),
		Degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config_store",
			Name:      "degraded",
			Help:      "1 if currently serving built-in defaults instead of persisted rules",
		}),
	}
	if registry != nil {
		registry.MustRegister(m.RefreshesTotal, m.RefreshDuration, m.SnapshotAge, m.SnapshotVersion, m.Degraded)
	}
	return m
}

// PatternMatcherMetrics instruments the Pattern Matcher's regex cache and
// ReDoS watchdog.
type PatternMatcherMetrics struct {
	MatchesTotal     *prometheus.CounterVec
	MatchDuration    prometheus.Histogram
	CacheOperations  *prometheus.CounterVec
	RulesDisabled    prometheus.Counter
}

// NewPatternMatcherMetrics registers and returns pattern matcher metrics.
func NewPatternMatcherMetrics(registry prometheus.Registerer) *PatternMatcherMetrics {
	m := &PatternMatcherMetrics{
		MatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pattern_matcher",
				Name:      "matches_total",
				Help:      "Pattern rule evaluations, by whether they matched",
			},
			[]string{"matched"},
		),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pattern_matcher",
			Name:      "match_duration_seconds",
			Help:      "Duration of one full rule-set evaluation against one message",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		}),
		CacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pattern_matcher",
				Name:      "cache_operations_total",
				Help:      "Compiled regex cache hits/misses",
			},
			[]string{"result"}, // hit, miss
		),
		RulesDisabled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pattern_matcher",
			Name:      "rules_disabled_total",
			Help:      "Rules auto-disabled after exceeding the per-match time budget",
		}),
	}
	if registry != nil {
		registry.MustRegister(m.MatchesTotal, m.MatchDuration, m.CacheOperations, m.RulesDisabled)
	}
	return m
}

// ProviderMetrics instruments an outbound HTTP provider adapter (Moderation
// Client or Completion Provider), including its circuit breaker.
type ProviderMetrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	BreakerState     prometheus.Gauge
	BreakerTrips     prometheus.Counter
	RetriesTotal     prometheus.Counter
}

// NewProviderMetrics registers and returns metrics for one named provider
// adapter (e.g. "moderation" or "completion").
func NewProviderMetrics(registry prometheus.Registerer, provider string) *ProviderMetrics {
	m := &ProviderMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "provider_" + provider,
				Name:        "requests_total",
				Help:        "Requests to the provider, by outcome",
				ConstLabels: prometheus.Labels{"provider": provider},
			},
			[]string{"outcome"}, // success, error, timeout, breaker_open
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "provider_" + provider,
				Name:        "request_duration_seconds",
				Help:        "Provider request duration in seconds",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: prometheus.Labels{"provider": provider},
			},
			[]string{"outcome"},
		),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "provider_" + provider,
			Name:        "breaker_state",
			Help:        "Circuit breaker state: 0=closed, 1=open, 2=half_open",
			ConstLabels: prometheus.Labels{"provider": provider},
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "provider_" + provider,
			Name:        "breaker_trips_total",
			Help:        "Times the circuit breaker transitioned to open",
			ConstLabels: prometheus.Labels{"provider": provider},
		}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "provider_" + provider,
			Name:        "retries_total",
			Help:        "Retry attempts issued to the provider",
			ConstLabels: prometheus.Labels{"provider": provider},
		}),
	}
	if registry != nil {
		registry.MustRegister(m.RequestsTotal, m.RequestDuration, m.BreakerState, m.BreakerTrips, m.RetriesTotal)
	}
	return m
}

// RAGMetrics instruments the RAG Retriever.
type RAGMetrics struct {
	QueriesTotal    prometheus.Counter
	DocsReturned    prometheus.Histogram
	QueryDuration   prometheus.Histogram
	CorpusSize      prometheus.Gauge
}

// NewRAGMetrics registers and returns RAG retriever metrics.
func NewRAGMetrics(registry prometheus.Registerer) *RAGMetrics {
	m := &RAGMetrics{
		QueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "queries_total",
			Help:      "Retrieval queries executed against the knowledge corpus",
		}),
		DocsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "docs_returned",
			Help:      "Number of documents returned per query",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "query_duration_seconds",
			Help:      "Duration of one retrieval query",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1},
		}),
		CorpusSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "corpus_size",
			Help:      "Number of documents currently loaded in the corpus",
		}),
	}
	if registry != nil {
		registry.MustRegister(m.QueriesTotal, m.DocsReturned, m.QueryDuration, m.CorpusSize)
	}
	return m
}

// RateLimiterMetrics instruments the sliding-window rate limiter.
type RateLimiterMetrics struct {
	DecisionsTotal *prometheus.CounterVec
	ActiveWindows  prometheus.Gauge
}

// NewRateLimiterMetrics registers and returns rate limiter metrics.
func NewRateLimiterMetrics(registry prometheus.Registerer) *RateLimiterMetrics {
	m := &RateLimiterMetrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rate_limiter",
				Name:      "decisions_total",
				Help:      "Rate limit checks, by outcome",
			},
			[]string{"outcome"}, // allowed, limited
		),
		ActiveWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rate_limiter",
			Name:      "active_windows",
			Help:      "Number of sessions with a tracked rate-limit window",
		}),
	}
	if registry != nil {
		registry.MustRegister(m.DecisionsTotal, m.ActiveWindows)
	}
	return m
}

// StorageMetrics instruments the repository layer.
type StorageMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	BackendType       *prometheus.GaugeVec
}

// NewStorageMetrics registers and returns storage metrics.
func NewStorageMetrics(registry prometheus.Registerer) *StorageMetrics {
	m := &StorageMetrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Repository operations, by entity, op, and status",
			},
			[]string{"entity", "op", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "operation_duration_seconds",
				Help:      "Repository operation duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"entity", "op"},
		),
		BackendType: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "backend_type",
				Help:      "1 for the currently active storage backend",
			},
			[]string{"backend"}, // memory, sqlite, postgres
		),
	}
	if registry != nil {
		registry.MustRegister(m.OperationsTotal, m.OperationDuration, m.BackendType)
	}
	return m
}

// DashboardMetrics instruments the admin live dashboard's WebSocket hub:
// connected clients and broadcast events, by type.
type DashboardMetrics struct {
	ActiveConnections prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	ConnectionsTotal  *prometheus.CounterVec
}

// NewDashboardMetrics registers and returns dashboard metrics.
func NewDashboardMetrics(registry prometheus.Registerer) *DashboardMetrics {
	m := &DashboardMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "active_connections",
			Help:      "Number of admin dashboard WebSocket clients currently connected",
		}),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dashboard",
				Name:      "events_total",
				Help:      "Events broadcast to admin dashboard clients, by type",
			},
			[]string{"type"},
		),
		ConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dashboard",
				Name:      "connections_total",
				Help:      "Admin dashboard WebSocket connection attempts, by outcome",
			},
			[]string{"outcome"}, // accepted, rate_limited, upgrade_failed
		),
	}
	if registry != nil {
		registry.MustRegister(m.ActiveConnections, m.EventsTotal, m.ConnectionsTotal)
	}
	return m
}

// ConversationCacheMetrics instruments the two-tier conversation-list cache:
// per-tier hit/miss counts and L1 eviction pressure.
type ConversationCacheMetrics struct {
	RequestsTotal *prometheus.CounterVec
	EvictionsTotal prometheus.Counter
	L1Entries      prometheus.Gauge
}

// NewConversationCacheMetrics registers and returns conversation cache metrics.
func NewConversationCacheMetrics(registry prometheus.Registerer) *ConversationCacheMetrics {
	m := &ConversationCacheMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "conversation_cache",
				Name:      "requests_total",
				Help:      "Conversation list cache lookups, by tier and outcome",
			},
			[]string{"tier", "outcome"}, // tier: l1, l2; outcome: hit, miss
		),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation_cache",
			Name:      "l1_evictions_total",
			Help:      "Entries evicted from the in-memory cache tier to stay under its size bound",
		}),
		L1Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conversation_cache",
			Name:      "l1_entries",
			Help:      "Current number of entries held in the in-memory cache tier",
		}),
	}
	if registry != nil {
		registry.MustRegister(m.RequestsTotal, m.EvictionsTotal, m.L1Entries)
	}
	return m
}
