package moderation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/resilience"
)

func newTestProvider(baseURL string) *HTTPProvider {
	cfg := Config{
		BaseURL: baseURL,
		Timeout: time.Second,
		Breaker: resilience.CircuitBreakerConfig{MaxFailures: 100, ResetTimeout: time.Minute, FailureThreshold: 0.99, TimeWindow: time.Minute},
		Retry:   resilience.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}
	return NewHTTPProvider(cfg, nil, nil)
}

func TestHTTPProvider_Moderate_ParsesScoresAndFlags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"categories":{"hate":false},"category_scores":{"hate":0.2,"violence/threat":0.7}}]}`))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	result, err := p.Moderate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 0.2, result.Scores["hate"])
	assert.Equal(t, 0.7, result.Scores["violence/threat"])
	assert.False(t, result.Flagged["hate"])
}

func TestHTTPProvider_Moderate_NonOKStatusIsModerationUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.Moderate(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModerationUnavailable)
}

func TestHTTPProvider_Moderate_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"results":[{"categories":{},"category_scores":{}}]}`))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.Moderate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestApplyThresholds_OverridesProviderFlagWithSnapshotThreshold(t *testing.T) {
	result := Result{
		Scores:  map[string]float64{"self-harm/intent": 0.4, "hate": 0.1},
		Flagged: map[string]bool{"self-harm/intent": false, "hate": true},
	}
	snap := &domain.Snapshot{
		Moderation: map[string]domain.ModerationSetting{
			"self-harm/intent": {Category: "self-harm/intent", Enabled: true, Threshold: 0.3},
			"hate":             {Category: "hate", Enabled: true, Threshold: 0.6},
		},
	}

	flags := ApplyThresholds(result, snap)
	assert.True(t, flags["self-harm/intent"], "score 0.4 meets threshold 0.3 even though provider said false")
	assert.False(t, flags["hate"], "score 0.1 is below threshold 0.6 even though provider said true")
}

func TestApplyThresholds_KeepsProviderVerdictWhenCategoryNotConfigured(t *testing.T) {
	result := Result{
		Scores:  map[string]float64{"harassment": 0.9},
		Flagged: map[string]bool{"harassment": true},
	}
	snap := &domain.Snapshot{Moderation: map[string]domain.ModerationSetting{}}

	flags := ApplyThresholds(result, snap)
	assert.True(t, flags["harassment"])
}

func TestApplyThresholds_SkipsDisabledCategory(t *testing.T) {
	result := Result{
		Scores:  map[string]float64{"hate": 0.9},
		Flagged: map[string]bool{"hate": false},
	}
	snap := &domain.Snapshot{
		Moderation: map[string]domain.ModerationSetting{
			"hate": {Category: "hate", Enabled: false, Threshold: 0.1},
		},
	}

	flags := ApplyThresholds(result, snap)
	assert.False(t, flags["hate"], "disabled category keeps provider's verdict untouched")
}
