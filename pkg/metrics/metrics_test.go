package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestConstructorsRegisterAgainstAProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	NewPipelineMetrics(registry)
	NewConfigStoreMetrics(registry)
	NewPatternMatcherMetrics(registry)
	NewProviderMetrics(registry, "moderation")
	NewProviderMetrics(registry, "completion")
	NewRAGMetrics(registry)
	NewRateLimiterMetrics(registry)
	NewStorageMetrics(registry)
	NewDashboardMetrics(registry)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestConstructorsToleratesNilRegistry(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("constructor panicked with nil registry: %v", r)
		}
	}()

	if m := NewPipelineMetrics(nil); m == nil {
		t.Fatal("NewPipelineMetrics(nil) returned nil")
	}
	if m := NewProviderMetrics(nil, "moderation"); m == nil {
		t.Fatal("NewProviderMetrics(nil, ...) returned nil")
	}
	if m := NewDashboardMetrics(nil); m == nil {
		t.Fatal("NewDashboardMetrics(nil) returned nil")
	}
}

func TestNewProviderMetricsAppliesDistinctConstLabelsPerProvider(t *testing.T) {
	registry := prometheus.NewRegistry()

	// Two providers on the same registry must not collide: the provider name
	// is part of each metric's subsystem and also a const label on every series.
	NewProviderMetrics(registry, "moderation")
	NewProviderMetrics(registry, "completion")

	if _, err := registry.Gather(); err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
}
