package turn

import (
	"errors"
	"testing"
)

func TestMachineTransitions(t *testing.T) {
	m := NewMachine()
	var events []StateChange
	m.AddListener(StateListenerFunc(func(ev StateChange) { events = append(events, ev) }))

	steps := []State{StateListening, StateAwaiting, StateListening, StateIdle, StateAwaiting, StateIdle}
	for _, s := range steps {
		if err := m.Transition(s, "test"); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if len(events) != len(steps) {
		t.Fatalf("expected %d events, got %d", len(steps), len(events))
	}
	if events[1].FromState != StateListening || events[1].ToState != StateAwaiting {
		t.Fatalf("unexpected event: %#v", events[1])
	}

	if err := m.Transition(StateIdle, "again"); err != nil {
		t.Fatalf("expected self transition to be a no-op, got %v", err)
	}
	if len(events) != len(steps) {
		t.Fatalf("expected no event for self transition")
	}
}

func TestMachineListenerCanReadState(t *testing.T) {
	m := NewMachine()
	var seen State
	m.AddListener(StateListenerFunc(func(StateChange) { seen = m.State() }))
	if err := m.Transition(StateListening, "start"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if seen != StateListening {
		t.Fatalf("expected listener to observe LISTENING, got %s", seen)
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := (&InvalidTransitionError{From: StateIdle, To: State(9)}).Error()
	if err != "invalid state transition from IDLE to UNKNOWN" {
		t.Fatalf("unexpected message: %s", err)
	}
	m := NewMachine()
	var ite *InvalidTransitionError
	if !errors.As(m.Transition(State(9), "bogus"), &ite) {
		t.Fatalf("expected InvalidTransitionError")
	}
}
