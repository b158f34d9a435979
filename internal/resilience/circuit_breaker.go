// Package resilience provides the circuit breaker and retry policy shared by
// the Moderation Client and Completion Provider adapters.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/romanbabin/convogate/pkg/metrics"
)

// ErrCircuitBreakerOpen is returned when the breaker is open and a call is
// rejected without reaching the underlying provider.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// State represents the state of a CircuitBreaker.
type State int

const (
	// StateClosed is normal operation: all calls pass through.
	StateClosed State = iota
	// StateOpen fails calls fast without reaching the provider.
	StateOpen
	// StateHalfOpen allows a limited number of probe calls to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type callResult struct {
	timestamp time.Time
	success   bool
}

// CircuitBreaker guards calls to an external provider, failing fast once the
// provider looks unhealthy instead of piling up slow or failing requests.
// Thread-safe for concurrent use.
type CircuitBreaker struct {
	maxFailures      int
	resetTimeout     time.Duration
	failureThreshold float64
	timeWindow       time.Duration
	halfOpenMaxCalls int

	mu                  sync.RWMutex
	state               State
	consecutiveFailures int
	halfOpenCalls       int
	lastStateChange     time.Time
	callResults         []callResult

	logger  *slog.Logger
	metrics *metrics.ProviderMetrics
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	MaxFailures      int           `mapstructure:"max_failures"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	TimeWindow       time.Duration `mapstructure:"time_window"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// DefaultCircuitBreakerConfig returns a sensible production default.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:      5,
		ResetTimeout:     30 * time.Second,
		FailureThreshold: 0.5,
		TimeWindow:       60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.TimeWindow <= 0 {
		c.TimeWindow = d.TimeWindow
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// NewCircuitBreaker builds a CircuitBreaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *slog.Logger, m *metrics.ProviderMetrics) *CircuitBreaker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	cb := &CircuitBreaker{
		maxFailures:      cfg.MaxFailures,
		resetTimeout:     cfg.ResetTimeout,
		failureThreshold: cfg.FailureThreshold,
		timeWindow:       cfg.TimeWindow,
		halfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		callResults:      make([]callResult, 0, 64),
		logger:           logger,
		metrics:          m,
	}
	if m != nil {
		m.BreakerState.Set(float64(StateClosed))
	}
	return cb
}

// Call executes operation if the breaker allows it, recording the outcome.
func (cb *CircuitBreaker) Call(ctx context.Context, operation func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := operation(ctx)
	cb.afterCall(err)
	return err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.resetTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenCalls = 1
			return nil
		}
		return ErrCircuitBreakerOpen

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return ErrCircuitBreakerOpen
		}
		cb.halfOpenCalls++
		return nil

	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	success := err == nil
	now := time.Now()
	cb.callResults = append(cb.callResults, callResult{timestamp: now, success: success})
	cb.pruneLocked(now)

	if success {
		cb.consecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.transitionTo(StateClosed)
		}
		return
	}

	cb.consecutiveFailures++
	cb.logger.Warn("provider call failed", "error", err, "consecutive_failures", cb.consecutiveFailures, "state", cb.state)

	switch cb.state {
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	case StateClosed:
		if cb.shouldOpenLocked() {
			cb.transitionTo(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) shouldOpenLocked() bool {
	if len(cb.callResults) < cb.maxFailures {
		return false
	}
	if cb.consecutiveFailures >= cb.maxFailures {
		return true
	}
	failures := 0
	for _, r := range cb.callResults {
		if !r.success {
			failures++
		}
	}
	return float64(failures)/float64(len(cb.callResults)) >= cb.failureThreshold
}

func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.timeWindow)
	firstValid := len(cb.callResults)
	for i, r := range cb.callResults {
		if r.timestamp.After(cutoff) {
			firstValid = i
			break
		}
	}
	cb.callResults = cb.callResults[firstValid:]
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(next State) {
	prev := cb.state
	cb.state = next
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0
	if next == StateClosed {
		cb.consecutiveFailures = 0
		cb.callResults = cb.callResults[:0]
	}

	cb.logger.Info("circuit breaker state change", "from", prev, "to", next)
	if cb.metrics != nil {
		cb.metrics.BreakerState.Set(float64(next))
		if next == StateOpen {
			cb.metrics.BreakerTrips.Inc()
		}
	}
}
