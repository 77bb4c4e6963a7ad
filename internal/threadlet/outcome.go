package threadlet

import (
	"context"
	"errors"
)

// OutcomeKind classifies how a run loop ended.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeStopped
	OutcomeCancelled
	OutcomeFaulted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeStopped:
		return "stopped"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFaulted:
		return "faulted"
	default:
		return "none"
	}
}

// Outcome is handed to the completion callback. Err is set for faulted and
// cancelled runs.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

func (o Outcome) String() string {
	if o.Err != nil {
		return o.Kind.String() + ": " + o.Err.Error()
	}
	return o.Kind.String()
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeStopped}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Outcome{Kind: OutcomeCancelled, Err: err}
	default:
		return Outcome{Kind: OutcomeFaulted, Err: err}
	}
}
