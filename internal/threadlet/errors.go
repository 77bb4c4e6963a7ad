package threadlet

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning = errors.New("threadlet already running")
	ErrNotStarted     = errors.New("threadlet not started")
	ErrDuplicateName  = errors.New("name already registered")
	ErrNotFound       = errors.New("not found")
	ErrCancelled      = errors.New("schedulable cancelled")
	ErrSignal         = errors.New("signals cannot be scheduled")
	ErrEmptyName      = errors.New("name is empty")
	ErrNilHandler     = errors.New("nil handler")
	ErrWrongKind      = errors.New("registered item has a different kind")
)

// PanicError wraps a value recovered from a tasklet handler or entry routine.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
