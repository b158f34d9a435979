package orchestrator

import "testing"

func TestTurn_HappyPathDelivered(t *testing.T) {
	tr := newTurn()
	steps := []State{StateSanitized, StatePreChecked, StateGenerating, StateStreaming, StatePostChecked, StateDelivered}
	for _, s := range steps {
		if err := tr.move(s); err != nil {
			t.Fatalf("move to %s: %v", s, err)
		}
	}
	if tr.state != StateDelivered {
		t.Fatalf("expected delivered, got %s", tr.state)
	}
}

func TestTurn_BlockedShortCircuitsAfterPreCheck(t *testing.T) {
	tr := newTurn()
	must(t, tr.move(StateSanitized))
	must(t, tr.move(StatePreChecked))
	must(t, tr.move(StateBlocked))

	if err := tr.move(StateGenerating); err == nil {
		t.Fatal("expected illegal transition out of a terminal state")
	}
}

func TestTurn_IllegalSkipIsRejected(t *testing.T) {
	tr := newTurn()
	if err := tr.move(StatePreChecked); err == nil {
		t.Fatal("expected illegal transition skipping StateSanitized")
	}
}

func TestTurn_FailIsLegalFromAnyNonTerminalState(t *testing.T) {
	tr := newTurn()
	must(t, tr.move(StateSanitized))
	tr.fail()
	if tr.state != StateFailed {
		t.Fatalf("expected failed, got %s", tr.state)
	}

	// cancel is a no-op once already terminal.
	tr.cancel()
	if tr.state != StateFailed {
		t.Fatalf("expected failed state to stick, got %s", tr.state)
	}
}

func TestTurn_CancelFromStreaming(t *testing.T) {
	tr := newTurn()
	must(t, tr.move(StateSanitized))
	must(t, tr.move(StatePreChecked))
	must(t, tr.move(StateGenerating))
	must(t, tr.move(StateStreaming))
	tr.cancel()
	if tr.state != StateCanceled {
		t.Fatalf("expected canceled, got %s", tr.state)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
