package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type countingInvalidator struct {
	calls int32
	err   error
}

func (c *countingInvalidator) Invalidate(_ context.Context) error {
	atomic.AddInt32(&c.calls, 1)
	return c.err
}

func TestSignalHandler_ReloadsOnSIGHUP(t *testing.T) {
	target := &countingInvalidator{}
	h := NewSignalHandler(slog.Default(), nil, target)
	h.debounceWindow = 10 * time.Millisecond
	h.Start()
	defer h.Stop()

	h.sigChan <- syscall.SIGHUP

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&target.calls) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for reload")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSignalHandler_DebouncesBurst(t *testing.T) {
	target := &countingInvalidator{}
	h := NewSignalHandler(slog.Default(), nil, target)
	h.debounceWindow = 50 * time.Millisecond
	h.Start()
	defer h.Stop()

	for i := 0; i < 5; i++ {
		h.sigChan <- syscall.SIGHUP
	}

	time.Sleep(200 * time.Millisecond)

	if calls := atomic.LoadInt32(&target.calls); calls == 0 {
		t.Fatal("expected at least one reload")
	}
}

func TestSignalHandler_ContinuesAfterFailure(t *testing.T) {
	failing := &countingInvalidator{err: errors.New("boom")}
	h := NewSignalHandler(slog.Default(), nil, failing)
	h.debounceWindow = 10 * time.Millisecond
	h.Start()
	defer h.Stop()

	h.sigChan <- syscall.SIGHUP
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&failing.calls) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for first reload attempt")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.sigChan <- syscall.SIGHUP
	deadline = time.Now().Add(time.Second)
	for atomic.LoadInt32(&failing.calls) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("handler stopped reloading after a failed attempt")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
