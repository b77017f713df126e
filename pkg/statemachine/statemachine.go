package statemachine

import "context"

// State is anything with a stable name. The machine never stores the
// current state; callers pass it in and persist what Next returns.
type State interface {
	Name() string
}

// Event names what happened.
type Event interface {
	Name() string
}

// Guard decides whether a transition applies to data.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Action runs before Next returns the new state. An error aborts the transition.
type Action func(ctx context.Context, from, to State, event Event, data any) error

// Transition is one row of the table. All Guards must pass.
type Transition struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard
	Actions []Action
}

// StateMachine resolves transitions for an externally stored state.
type StateMachine interface {
	Next(ctx context.Context, from State, event Event, data any) (State, error)
	Can(ctx context.Context, from State, event Event, data any) bool
	Targets(from State) []State
	IsTerminal(state State) bool
}

var _ StateMachine = (*Machine)(nil)

// StringState is a State backed by a string.
type StringState string

func (s StringState) Name() string { return string(s) }

// StringEvent is an Event backed by a string.
type StringEvent string

func (e StringEvent) Name() string { return string(e) }
