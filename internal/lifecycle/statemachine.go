// Package lifecycle implements the Folder Lifecycle State Machine, the
// per-folder Orchestrator that drives it, and the Manager that owns the set
// of orchestrators (spec §4.F, §4.G, §4.H).
package lifecycle

// State is a folder's lifecycle status.
type State string

const (
	StateScanning State = "scanning"
	StateIndexing State = "indexing"
	StateActive   State = "active"
	StateError    State = "error"
)

// legalTransitions enumerates the state machine's legal transitions (spec
// §4.F). Self-transitions are never legal and are not listed.
var legalTransitions = map[State]map[State]bool{
	StateScanning: {StateIndexing: true, StateActive: true, StateError: true},
	StateIndexing: {StateActive: true, StateError: true},
	StateActive:   {StateScanning: true},
	StateError:    {StateScanning: true},
}

// StateMachine tracks a single folder's lifecycle state and enforces the
// legal-transition table. It is not safe for concurrent use on its own;
// Orchestrator guards it with its own lock.
type StateMachine struct {
	current  State
	previous State
}

// NewStateMachine constructs a state machine starting in StateScanning.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateScanning}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	return m.current
}

// Previous returns the state the machine transitioned from, for
// diagnostics. It is empty before the first transition.
func (m *StateMachine) Previous() State {
	return m.previous
}

// CanTransitionTo reports whether transitioning to target is legal from the
// current state.
func (m *StateMachine) CanTransitionTo(target State) bool {
	if target == m.current {
		return false
	}
	return legalTransitions[m.current][target]
}

// TransitionTo attempts to transition to target, returning false and leaving
// the state unchanged if the transition is illegal.
func (m *StateMachine) TransitionTo(target State) bool {
	if !m.CanTransitionTo(target) {
		return false
	}
	m.previous = m.current
	m.current = target
	return true
}
