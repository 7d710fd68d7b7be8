package turn

import (
	"sync"
	"time"
)

// State is the dialogue session state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateAwaiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateAwaiting:
		return "AWAITING"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes session state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(event StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

var validTransitions = map[State][]State{
	StateIdle:      {StateListening, StateAwaiting},
	StateListening: {StateAwaiting, StateIdle},
	StateAwaiting:  {StateListening, StateIdle},
}

// Machine is the Idle/Listening/Awaiting state machine.
type Machine struct {
	mu        sync.RWMutex
	current   State
	enteredAt time.Time
	listeners []StateListener
}

func NewMachine() *Machine {
	return &Machine{current: StateIdle, enteredAt: time.Now()}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns how long the machine has been in its current state.
func (m *Machine) Since() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.enteredAt)
}

// Transition moves to state. Moving to the current state is a no-op.
func (m *Machine) Transition(state State, reason string) error {
	m.mu.Lock()
	from := m.current
	if from == state {
		m.mu.Unlock()
		return nil
	}
	if !transitionValid(from, state) {
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: state}
	}
	now := time.Now()
	m.current = state
	m.enteredAt = now
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	// Listeners run with the lock released.
	event := StateChange{FromState: from, ToState: state, Timestamp: now, Reason: reason}
	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	if listener == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
