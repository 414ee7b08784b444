package retry

import (
	"context"
	"errors"
	"fmt"
)

// ErrTimeout is matched by errors returned when the deadline ends a retry loop.
var ErrTimeout = errors.New("retry deadline exceeded")

// PermanentError wraps an error to mark it as non-retryable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// TransientError wraps an error to mark it as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as permanent (validation, authorization, 4xx).
// Operations that return permanent errors are not retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Transient marks an error as transient (network, 5xx, rate limiting).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsPermanent checks if an error is marked permanent.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}

// IsTransient checks if an error is marked transient.
func IsTransient(err error) bool {
	var transErr *TransientError
	return errors.As(err, &transErr)
}

// TimeoutError is returned when the context ends the retry loop, either
// while an attempt was running or while waiting for the next one.
type TimeoutError struct {
	Operation string
	Attempts  int
	LastErr   error
	Err       error // context error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("%s: deadline reached after %d attempts (last error: %v): %v",
			e.Operation, e.Attempts, e.LastErr, e.Err)
	}
	return fmt.Sprintf("%s: deadline reached after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is reports ErrTimeout so callers need not know the concrete type.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// DefaultClassifier treats errors marked with [Permanent] and caller
// cancellation as permanent. Everything else is assumed to be transient.
func DefaultClassifier(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case IsTransient(err):
		return TransientFailure
	case IsPermanent(err), errors.Is(err, context.Canceled):
		return PermanentFailure
	default:
		return TransientFailure
	}
}
