// Package completion implements the Completion Provider: a streaming HTTP
// adapter to a hosted chat-completion API, guarded by the same circuit
// breaker and retry policy as the Moderation Client.
package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/prompt"
	"github.com/romanbabin/convogate/internal/resilience"
	"github.com/romanbabin/convogate/pkg/metrics"
)

// ChunkKind distinguishes a content delta from the terminal usage readout.
type ChunkKind string

const (
	ChunkContent ChunkKind = "content"
	ChunkDone    ChunkKind = "done"
)

// CompletionChunk is one unit relayed from StreamCompletion: either a
// content delta or, as the final value on the channel, a usage readout.
type CompletionChunk struct {
	Kind    ChunkKind
	Content string

	// Populated on the final ChunkDone chunk.
	TokenCount int64
}

// Provider streams a chat completion for an assembled prompt.
type Provider interface {
	StreamCompletion(ctx context.Context, messages []prompt.Message) (<-chan CompletionChunk, <-chan error)
}

// Config configures the HTTP completion provider.
type Config struct {
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	Model              string        `mapstructure:"model"`
	OverallTimeout     time.Duration `mapstructure:"overall_timeout"`
	FirstByteTimeout   time.Duration `mapstructure:"first_byte_timeout"`

	Breaker resilience.CircuitBreakerConfig
	Retry   resilience.RetryPolicy
}

// HTTPProvider implements Provider against an OpenAI-compatible
// Server-Sent-Events chat completion endpoint.
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
		httpClient: &http.Client{}, // no blanket timeout: streaming responses are long-lived
		breaker:    resilience.NewCircuitBreaker(cfg.Breaker, logger, m),
		logger:     logger,
		metrics:    m,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// StreamCompletion opens a streaming completion request and relays content
// chunks as they arrive, closing the content channel and sending a final
// ChunkDone with the token usage once the upstream stream ends. On
// cancellation of ctx, the HTTP request is aborted and both channels are
// closed; callers are expected to persist whatever content they have
// buffered so far with a canceled tag, per the turn lifecycle.
func (p *HTTPProvider) StreamCompletion(ctx context.Context, messages []prompt.Message) (<-chan CompletionChunk, <-chan error) {
	chunks := make(chan CompletionChunk)
	errs := make(chan error, 1)

	ctx, cancel := context.WithTimeout(ctx, p.overallTimeout())

	go func() {
		defer cancel()
		defer close(chunks)
		defer close(errs)

		start := time.Now()
		resp, err := p.openStream(ctx, messages)
		outcome := "success"
		if err != nil {
			outcome = "error"
			if ctx.Err() != nil {
				outcome = "timeout"
			}
			if p.metrics != nil {
				p.metrics.RequestsTotal.WithLabelValues(outcome).Inc()
			}
			errs <- fmt.Errorf("%w: %w", domain.ErrLLMUnavailable, err)
			return
		}
		defer resp.Body.Close()

		tokenCount, relayErr := p.relay(ctx, resp.Body, chunks)

		if p.metrics != nil {
			if relayErr != nil {
				outcome = "error"
			}
			p.metrics.RequestsTotal.WithLabelValues(outcome).Inc()
			p.metrics.RequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		}

		if relayErr != nil {
			errs <- relayErr
			return
		}

		select {
		case chunks <- CompletionChunk{Kind: ChunkDone, TokenCount: tokenCount}:
		case <-ctx.Done():
		}
	}()

	return chunks, errs
}

func (p *HTTPProvider) overallTimeout() time.Duration {
	if p.cfg.OverallTimeout <= 0 {
		return 120 * time.Second
	}
	return p.cfg.OverallTimeout
}

// openStream performs the request-opening phase (up to receiving headers)
// under the circuit breaker and retry policy. The retry policy only ever
// covers this phase: once bytes start flowing there is no safe way to
// retry a partially-streamed completion.
func (p *HTTPProvider) openStream(ctx context.Context, messages []prompt.Message) (*http.Response, error) {
	var resp *http.Response
	err := resilience.WithRetry(ctx, p.cfg.Retry, func(ctx context.Context) error {
		return p.breaker.Call(ctx, func(ctx context.Context) error {
			r, err := p.requestOnce(ctx, messages)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})
	return resp, err
}

func (p *HTTPProvider) requestOnce(ctx context.Context, messages []prompt.Message) (*http.Response, error) {
	chatMessages := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		chatMessages = append(chatMessages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{Model: p.cfg.Model, Messages: chatMessages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, &resilience.HTTPStatusError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// relay reads Server-Sent-Events frames from body, forwarding content
// deltas onto chunks until a "[DONE]" sentinel or EOF. It returns the final
// completion-token count reported by the last usage-bearing event.
func (p *HTTPProvider) relay(ctx context.Context, body io.Reader, chunks chan<- CompletionChunk) (int64, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var tokenCount int64
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			p.logger.Warn("skipping malformed completion stream frame", "error", err)
			continue
		}
		if event.Usage != nil {
			tokenCount = event.Usage.CompletionTokens
		}
		for _, choice := range event.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			select {
			case chunks <- CompletionChunk{Kind: ChunkContent, Content: choice.Delta.Content}:
			case <-ctx.Done():
				return tokenCount, ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return tokenCount, fmt.Errorf("read completion stream: %w", err)
	}
	return tokenCount, nil
}
