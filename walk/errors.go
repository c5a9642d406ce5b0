package walk

import (
	"errors"
	"fmt"
)

// ErrUnexpectedDefer is returned when a one-shot remote walk is asked to
// defer a node. Nothing will ever resume such a walk.
var ErrUnexpectedDefer = errors.New("walk: defer on non-resumable walk")

// ErrOutstandingRequests is returned by Teardown while bucket or chunk
// requests are still in flight.
var ErrOutstandingRequests = errors.New("walk: teardown with outstanding requests")

// InvariantViolation is the panic value raised when bookkeeping is corrupt.
// Callers must not recover it.
type InvariantViolation struct {
	Msg string
}

func (v InvariantViolation) Error() string {
	return "walk: invariant violation: " + v.Msg
}

func invariant(ok bool, format string, args ...any) {
	if !ok {
		panic(InvariantViolation{Msg: fmt.Sprintf(format, args...)})
	}
}
