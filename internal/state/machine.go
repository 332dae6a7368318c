package state

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a transition is fired from a state
// that does not permit it. Callers treat it as a handled no-op.
var ErrInvalidTransition = errors.New("invalid state transition")

// StatusTransactionError is the status every kind with a status field is
// forced into when the engine reports a generic transaction failure.
const StatusTransactionError = "transaction_error"

// rule is one guarded transition: the event is allowed from any of From and
// moves the entity to To.
type rule[S comparable] struct {
	From []S
	To   S
}

// machine maps events to their guarded transitions.
type machine[E comparable, S comparable] map[E]rule[S]

func (m machine[E, S]) may(evt E, current S) bool {
	r, ok := m[evt]
	if !ok {
		return false
	}
	for _, from := range r.From {
		if from == current {
			return true
		}
	}
	return false
}

func (m machine[E, S]) fire(kind string, evt E, current S) (S, error) {
	if !m.may(evt, current) {
		return current, invalidTransition(kind, evt, current)
	}
	return m[evt].To, nil
}

func invalidTransition(kind string, evt, from any) error {
	return fmt.Errorf("%w: %s %v from %v", ErrInvalidTransition, kind, evt, from)
}
