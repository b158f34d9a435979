package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{}, nil, nil)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour, FailureThreshold: 0.9, TimeWindow: time.Minute}, nil, nil)
	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = cb.Call(context.Background(), failing)
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_OpenFailsFastWithoutCallingOperation(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour, FailureThreshold: 0.1, TimeWindow: time.Minute}, nil, nil)
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	calls := 0
	err := cb.Call(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Equal(t, 0, calls)
}

func TestCircuitBreaker_HalfOpenAfterResetTimeoutAndClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Millisecond, FailureThreshold: 0.1, TimeWindow: time.Minute}, nil, nil)
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	err := cb.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Millisecond, FailureThreshold: 0.1, TimeWindow: time.Minute}, nil, nil)
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(5 * time.Millisecond)

	err := cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("still failing") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ConcurrentCallsAreSafe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: time.Millisecond, FailureThreshold: 0.5, TimeWindow: time.Minute}, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Call(context.Background(), func(ctx context.Context) error {
				if i%2 == 0 {
					return errors.New("boom")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
}
