// Package moderation implements the Moderation Client: an HTTP adapter to an
// external content-classification API, guarded by a circuit breaker and
// retry policy, with local threshold overrides applied against the
// configuration snapshot.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/resilience"
	"github.com/romanbabin/convogate/pkg/metrics"
)

// Result is one moderation pass over a single message.
type Result struct {
	// Scores holds the provider's raw per-category score, in [0, 1].
	Scores map[string]float64
	// Flagged holds the provider's own flagged bit per category, before any
	// local threshold override is applied.
	Flagged map[string]bool
}

// Provider classifies text against moderation categories.
type Provider interface {
	Moderate(ctx context.Context, text string) (Result, error)
}

// Config configures the HTTP moderation provider.
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`

	Breaker resilience.CircuitBreakerConfig
	Retry   resilience.RetryPolicy
}

// HTTPProvider implements Provider against an HTTP moderation API shaped
// like OpenAI's moderation endpoint: a JSON body with per-category scores.
type HTTPProvider struct {
	cfg        Config
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger
	metrics    *metrics.ProviderMetrics
}

// Healthy reports whether the circuit breaker currently allows calls
// through, for use by the admin health endpoint.
func (p *HTTPProvider) Healthy() bool {
	return p.breaker.State() != resilience.StateOpen
}

// NewHTTPProvider builds an HTTPProvider. logger and m may be nil.
func NewHTTPProvider(cfg Config, logger *slog.Logger, m *metrics.ProviderMetrics) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    resilience.NewCircuitBreaker(cfg.Breaker, logger, m),
		logger:     logger,
		metrics:    m,
	}
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged        map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

// Moderate submits text to the provider, classifying it per safety category.
// A network failure, non-2xx response, or expired context surfaces wrapped
// in domain.ErrModerationUnavailable once retries and the circuit breaker
// are exhausted; callers treat this as non-blocking per the resolution
// policy and record a moderation skip in the audit trail.
func (p *HTTPProvider) Moderate(ctx context.Context, text string) (Result, error) {
	start := time.Now()
	var result Result

	err := resilience.WithRetry(ctx, p.cfg.Retry, func(ctx context.Context) error {
		return p.breaker.Call(ctx, func(ctx context.Context) error {
			r, err := p.moderateOnce(ctx, text)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})

	outcome := "success"
	if err != nil {
		outcome = "error"
		if ctx.Err() != nil {
			outcome = "timeout"
		}
	}
	if p.metrics != nil {
		p.metrics.RequestsTotal.WithLabelValues(outcome).Inc()
		p.metrics.RequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		p.logger.Warn("moderation request failed", "error", err)
		return Result{}, fmt.Errorf("%w: %w", domain.ErrModerationUnavailable, err)
	}
	return result, nil
}

func (p *HTTPProvider) moderateOnce(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(moderationRequest{Input: text})
	if err != nil {
		return Result{}, fmt.Errorf("marshal moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/moderations", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build moderation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read moderation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &resilience.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed moderationResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("parse moderation response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return Result{}, fmt.Errorf("moderation response had no results")
	}

	return Result{
		Scores:  parsed.Results[0].CategoryScores,
		Flagged: parsed.Results[0].Flagged,
	}, nil
}

// ApplyThresholds overrides the provider's flagged bit for each category
// with the snapshot's own threshold, where configured: a category is
// locally flagged when its score meets or exceeds the snapshot's
// threshold for that category, regardless of what the provider decided.
// Categories the snapshot does not configure keep the provider's verdict.
func ApplyThresholds(result Result, snap *domain.Snapshot) map[string]bool {
	out := make(map[string]bool, len(result.Scores))
	for category, flagged := range result.Flagged {
		out[category] = flagged
	}
	for category, score := range result.Scores {
		setting, ok := snap.Moderation[category]
		if !ok || !setting.Enabled {
			continue
		}
		out[category] = score >= setting.Threshold
	}
	return out
}
