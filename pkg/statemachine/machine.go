package statemachine

import (
	"context"
	"fmt"
	"slices"
)

// Machine is a transition table keyed by state name then event name.
// It is read-only after New and safe for concurrent use.
type Machine struct {
	transitions map[string]map[string][]Transition
	terminal    map[string]struct{}
}

func newMachine() *Machine {
	return &Machine{
		transitions: make(map[string]map[string][]Transition),
		terminal:    make(map[string]struct{}),
	}
}

func (m *Machine) addTransition(t Transition) error {
	if t.From == nil || t.To == nil || t.Event == nil {
		return ErrInvalidTransition
	}

	fromStateName := t.From.Name()
	eventName := t.Event.Name()

	if _, ok := m.transitions[fromStateName]; !ok {
		m.transitions[fromStateName] = make(map[string][]Transition)
	}

	// Several rows per state and event branch on guards, first match wins.
	m.transitions[fromStateName][eventName] = append(m.transitions[fromStateName][eventName], t)
	return nil
}

// Next returns the state reached from `from` when `event` fires.
// Guards are evaluated in registration order and the first passing
// transition's actions are executed before returning.
func (m *Machine) Next(ctx context.Context, from State, event Event, data any) (State, error) {
	if from == nil {
		return nil, ErrInvalidState
	}
	if event == nil {
		return nil, ErrInvalidEvent
	}

	if m.IsTerminal(from) {
		return nil, fmt.Errorf("%w: %s", ErrTerminalState, from.Name())
	}

	transitions := m.transitions[from.Name()][event.Name()]
	if len(transitions) == 0 {
		return nil, &TransitionError{From: from.Name(), Event: event.Name(), Err: ErrNoTransition}
	}

	t := firstAllowed(ctx, transitions, from, event, data)
	if t == nil {
		return nil, &TransitionError{From: from.Name(), Event: event.Name(), Err: ErrRejected}
	}

	for _, action := range t.Actions {
		if action == nil {
			continue
		}
		if err := action(ctx, from, t.To, event, data); err != nil {
			return nil, fmt.Errorf("action failed: %w", err)
		}
	}

	return t.To, nil
}

// Can reports whether Next would find an allowed transition. Actions are not run.
func (m *Machine) Can(ctx context.Context, from State, event Event, data any) bool {
	if from == nil || event == nil || m.IsTerminal(from) {
		return false
	}
	return firstAllowed(ctx, m.transitions[from.Name()][event.Name()], from, event, data) != nil
}

// Targets lists every state reachable from `from` in one transition, without
// evaluating guards. Order is stable for a given configuration.
func (m *Machine) Targets(from State) []State {
	if from == nil {
		return nil
	}

	events := m.transitions[from.Name()]
	names := make([]string, 0, len(events))
	for name := range events {
		names = append(names, name)
	}
	slices.Sort(names)

	var targets []State
	seen := make(map[string]struct{})
	for _, name := range names {
		for _, t := range events[name] {
			if _, ok := seen[t.To.Name()]; ok {
				continue
			}
			seen[t.To.Name()] = struct{}{}
			targets = append(targets, t.To)
		}
	}
	return targets
}

// IsTerminal reports whether the state was registered with WithTerminal.
func (m *Machine) IsTerminal(state State) bool {
	if state == nil {
		return false
	}
	_, ok := m.terminal[state.Name()]
	return ok
}

func firstAllowed(ctx context.Context, transitions []Transition, from State, event Event, data any) *Transition {
next:
	for i, t := range transitions {
		for _, guard := range t.Guards {
			if guard != nil && !guard(ctx, from, event, data) {
				continue next
			}
		}
		return &transitions[i]
	}
	return nil
}
