package batcher

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidDelta is returned by Submit for malformed or out-of-range deltas
	ErrInvalidDelta = errors.New("invalid allocation delta")

	// ErrRejected marks a terminal transport failure
	ErrRejected = errors.New("allocation rejected")

	// ErrExhausted is returned when every retry attempt failed
	ErrExhausted = errors.New("retries exhausted")

	// ErrCleared is delivered to waiters dropped by ClearPending
	ErrCleared = errors.New("pending allocations cleared")

	// ErrAbandoned is delivered to waiters of a flush abandoned by ClearPending
	ErrAbandoned = errors.New("in-flight allocation abandoned")

	// ErrClosed is returned by Submit after Close
	ErrClosed = errors.New("batcher closed")

	errResultMismatch = errors.New("result count mismatch")
)

// ValidationError describes why a delta was refused at submission
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidDelta, e.Field, e.Reason)
}

// Is reports ErrInvalidDelta
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidDelta
}

// TransportError classifies a failure returned by a Transport
type TransportError struct {
	Retryable bool
	Code      string
	Err       error
}

// Retryable wraps err as a transient transport failure
func Retryable(code string, err error) *TransportError {
	return &TransportError{Retryable: true, Code: code, Err: err}
}

// Terminal wraps err as a permanent transport failure
func Terminal(code string, err error) *TransportError {
	return &TransportError{Retryable: false, Code: code, Err: err}
}

func (e *TransportError) Error() string {
	kind := "transient"
	if !e.Retryable {
		kind = "terminal"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s transport error (%s): %v", kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s transport error: %v", kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrRejected for terminal errors
func (e *TransportError) Is(target error) bool {
	return target == ErrRejected && !e.Retryable
}

// ExhaustedError is returned when the retry budget runs out
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Is reports ErrExhausted
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// IsRetryable reports whether err should be retried.
// Unclassified errors, timeouts and network failures are treated as
// transient. Only explicit terminal errors and cancellation stop retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	return true
}
