package breaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is matched by errors returned when a breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitOpenError is returned by Registry.Call when the breaker for Key
// rejects the call without invoking the operation.
type CircuitOpenError struct {
	Key   string
	State State
	// RetryAfter is the remaining cooldown. Zero while half-open trials are
	// in flight.
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit for %q is %s, retry after %s", e.Key, e.State, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit for %q is %s, trial budget exhausted", e.Key, e.State)
}

// Is reports ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// IsOpen reports whether err was caused by an open circuit.
func IsOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
