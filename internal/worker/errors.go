package worker

import "errors"

// ErrorKind classifies why Init (connect + setup) did not produce a ready
// handle, mirroring the ErrorType enum of the system this package was
// modeled on.
type ErrorKind string

const (
	ErrKindConnectionFailed  ErrorKind = "CONNECTION_FAILED"
	ErrKindBadImplementation ErrorKind = "BAD_IMPLEMENTATION"
	ErrKindAborted           ErrorKind = "ABORTED"
	ErrKindFailed            ErrorKind = "FAILED"
)

// InitError wraps a terminal Init outcome with its classified kind.
type InitError struct {
	Kind ErrorKind
	Err  error
}

func (e *InitError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *InitError) Unwrap() error { return e.Err }

// ErrInvalidUsage signals a caller-misuse contract violation raised by a
// handle variant's setup step (e.g. a malformed DynamicSubclass request).
// It is never retried and always propagated to the caller of Init.
var ErrInvalidUsage = errors.New("worker: invalid coordinator usage")

// ErrAborted is returned by Init when the handle was closed concurrently
// with a connect attempt.
var ErrAborted = errors.New("worker: aborted, handle closed")
