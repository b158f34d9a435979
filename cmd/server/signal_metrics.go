package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SignalMetrics holds Prometheus metrics for the SIGHUP hot-reload path.
type SignalMetrics struct {
	reloadTotal          *prometheus.CounterVec
	reloadDuration       *prometheus.HistogramVec
	lastSuccessTimestamp *prometheus.GaugeVec
	lastFailureTimestamp *prometheus.GaugeVec
}

// NewSignalMetrics registers the signal-handler metrics against registry.
func NewSignalMetrics(registry prometheus.Registerer) *SignalMetrics {
	factory := promauto.With(registry)
	namespace := "convogate"
	subsystem := "config"

	return &SignalMetrics{
		reloadTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "reload_total", Help: "Total number of safety configuration reload attempts.",
			},
			[]string{"status"},
		),
		reloadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "reload_duration_seconds", Help: "Duration of SIGHUP-triggered reloads, in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"status"},
		),
		lastSuccessTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "reload_last_success_timestamp_seconds", Help: "Unix timestamp of the last successful reload.",
			},
			[]string{},
		),
		lastFailureTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "reload_last_failure_timestamp_seconds", Help: "Unix timestamp of the last failed reload.",
			},
			[]string{},
		),
	}
}

func (m *SignalMetrics) recordAttempt(status string, duration float64) {
	m.reloadTotal.WithLabelValues(status).Inc()
	m.reloadDuration.WithLabelValues(status).Observe(duration)
}

func (m *SignalMetrics) recordSuccess(timestamp float64) {
	m.lastSuccessTimestamp.WithLabelValues().Set(timestamp)
}

func (m *SignalMetrics) recordFailure(timestamp float64) {
	m.lastFailureTimestamp.WithLabelValues().Set(timestamp)
}
