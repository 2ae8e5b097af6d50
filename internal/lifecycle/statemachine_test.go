package lifecycle

import "testing"

func TestInitialStateIsScanning(t *testing.T) {
	m := NewStateMachine()
	if m.Current() != StateScanning {
		t.Fatalf("expected initial state scanning, got %s", m.Current())
	}
}

func TestLegalTransitions(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateScanning, StateIndexing},
		{StateScanning, StateActive},
		{StateScanning, StateError},
		{StateIndexing, StateActive},
		{StateIndexing, StateError},
		{StateActive, StateScanning},
		{StateError, StateScanning},
	}
	for _, c := range cases {
		m := &StateMachine{current: c.from}
		if !m.CanTransitionTo(c.to) {
			t.Errorf("expected %s -> %s to be legal", c.from, c.to)
		}
		if !m.TransitionTo(c.to) {
			t.Errorf("expected %s -> %s to succeed", c.from, c.to)
		}
		if m.Current() != c.to {
			t.Errorf("expected current state %s, got %s", c.to, m.Current())
		}
		if m.Previous() != c.from {
			t.Errorf("expected previous state %s, got %s", c.from, m.Previous())
		}
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateScanning, StateScanning},
		{StateIndexing, StateScanning},
		{StateIndexing, StateIndexing},
		{StateActive, StateIndexing},
		{StateActive, StateError},
		{StateActive, StateActive},
		{StateError, StateIndexing},
		{StateError, StateActive},
		{StateError, StateError},
	}
	for _, c := range cases {
		m := &StateMachine{current: c.from}
		if m.CanTransitionTo(c.to) {
			t.Errorf("expected %s -> %s to be illegal", c.from, c.to)
		}
		if m.TransitionTo(c.to) {
			t.Errorf("expected %s -> %s to fail", c.from, c.to)
		}
		if m.Current() != c.from {
			t.Errorf("expected state to remain %s after a rejected transition, got %s", c.from, m.Current())
		}
	}
}

func TestSelfTransitionsForbidden(t *testing.T) {
	for _, s := range []State{StateScanning, StateIndexing, StateActive, StateError} {
		m := &StateMachine{current: s}
		if m.CanTransitionTo(s) {
			t.Errorf("expected self-transition %s -> %s to be forbidden", s, s)
		}
	}
}
