package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid transition: from, to and event are required")
	ErrInvalidEvent      = errors.New("invalid event: event is nil")
	ErrInvalidState      = errors.New("invalid state: state is nil")
	ErrTerminalState     = errors.New("state is terminal")
	ErrTerminalOutgoing  = errors.New("terminal state cannot have outgoing transitions")

	// ErrNoTransition means the table has no entry for the state and event.
	ErrNoTransition = errors.New("no transition")
	// ErrRejected means entries exist but every guard chain refused.
	ErrRejected = errors.New("rejected by guards")
)

// TransitionError reports which state and event failed to resolve.
// It wraps ErrNoTransition or ErrRejected.
type TransitionError struct {
	From  string
	Event string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s -> ? on %s: %v", e.From, e.Event, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }
