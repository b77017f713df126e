// Package statemachine is a transition table for state machines whose
// current state lives outside the machine, in a database row.
//
// Callers load the persisted state, ask Next for the successor and write it
// back with their own compare-and-set:
//
//	var machine = statemachine.MustNew(
//	    statemachine.WithTransition(Created, Authorizing, Submit,
//	        statemachine.WithGuard(hasProcessorIntent)),
//	    statemachine.WithTransition(Authorizing, Captured, Capture),
//	    statemachine.WithTerminal(Captured),
//	)
//
//	next, err := machine.Next(ctx, row.State, Submit, row)
//	// UPDATE ... SET state = next WHERE id = $1 AND version = $2
//
// Rows sharing a state and event are tried in registration order and the
// first whose guards all pass wins. Resolution failures are *TransitionError
// values wrapping ErrNoTransition or ErrRejected; terminal states fail with
// ErrTerminalState.
package statemachine
