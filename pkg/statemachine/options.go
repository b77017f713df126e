package statemachine

import (
	"fmt"
)

// Option configures a state machine during construction.
type Option func(*Machine) error

// TransitionOption configures a single transition with guards and actions.
type TransitionOption func(*transitionConfig)

type transitionConfig struct {
	guards  []Guard
	actions []Action
}

// New builds a Machine from the given options. Terminal states are validated
// after all options are applied, so option order does not matter.
func New(opts ...Option) (*Machine, error) {
	m := newMachine()

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	for from := range m.transitions {
		if _, ok := m.terminal[from]; ok {
			return nil, fmt.Errorf("%w: %s", ErrTerminalOutgoing, from)
		}
	}

	return m, nil
}

// MustNew works like New but panics on invalid configuration.
func MustNew(opts ...Option) *Machine {
	m, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create state machine: %v", err))
	}
	return m
}

// WithTransition adds a single transition to the state machine.
func WithTransition(from, to State, event Event, opts ...TransitionOption) Option {
	return func(m *Machine) error {
		cfg := &transitionConfig{}
		for _, opt := range opts {
			opt(cfg)
		}

		return m.addTransition(Transition{
			From:    from,
			To:      to,
			Event:   event,
			Guards:  cfg.guards,
			Actions: cfg.actions,
		})
	}
}

// WithTransitions adds multiple transitions to the state machine at once.
func WithTransitions(transitions ...Transition) Option {
	return func(m *Machine) error {
		for i, t := range transitions {
			if err := m.addTransition(t); err != nil {
				return fmt.Errorf("failed to add transition[%d] %s->%s on %s: %w",
					i, nameOf(t.From), nameOf(t.To), nameOf(t.Event), err)
			}
		}
		return nil
	}
}

// WithTerminal marks states that accept no further events.
func WithTerminal(states ...State) Option {
	return func(m *Machine) error {
		for _, s := range states {
			if s == nil {
				return ErrInvalidState
			}
			m.terminal[s.Name()] = struct{}{}
		}
		return nil
	}
}

// WithGuard adds a single guard to a transition.
func WithGuard(guard Guard) TransitionOption {
	return func(cfg *transitionConfig) {
		if guard != nil {
			cfg.guards = append(cfg.guards, guard)
		}
	}
}

// WithAction adds a single action to a transition.
func WithAction(action Action) TransitionOption {
	return func(cfg *transitionConfig) {
		if action != nil {
			cfg.actions = append(cfg.actions, action)
		}
	}
}

func nameOf(v interface{ Name() string }) string {
	if v == nil {
		return "<nil>"
	}
	return v.Name()
}
