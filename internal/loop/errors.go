package loop

import (
	"errors"
	"fmt"

	"github.com/l3wi/takopi-ralph/internal/breaker"
)

// ErrCircuitTripped is returned when a start is attempted while HALTED.
var ErrCircuitTripped = errors.New("circuit breaker tripped")

// CircuitTrippedError wraps ErrCircuitTripped with the trip context. An
// explicit Reset is required before the loop will start again.
type CircuitTrippedError struct {
	Reason      breaker.TripReason
	Description string
}

func (e *CircuitTrippedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("circuit breaker tripped: %s", e.Description)
	}
	return "circuit breaker tripped: loop is halted, reset required"
}

func (e *CircuitTrippedError) Unwrap() error {
	return ErrCircuitTripped
}

// Error class labels recorded in LoopState.LastError so a status reader can
// distinguish a clean loop from a degraded one.
const (
	ErrorClassNone  = ""
	ErrorClassParse = "parse_error"
	ErrorClassAgent = "agent_error"
	ErrorClassState = "state_error"
)
