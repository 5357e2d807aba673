package engine

import (
	"context"
	"errors"
)

var (
	// ErrRecoverable marks a transient engine failure eligible for fallback.
	ErrRecoverable = errors.New("recoverable engine error")
	// ErrFatal marks an engine failure that must not be retried.
	ErrFatal = errors.New("fatal engine error")
)

// Error is an engine failure carrying its recovery classification.
type Error struct {
	Message     string
	Recoverable bool
	Err         error
}

// NewRecoverable wraps err as a recoverable engine failure.
func NewRecoverable(message string, err error) *Error {
	return &Error{Message: message, Recoverable: true, Err: err}
}

// NewFatal wraps err as a non-recoverable engine failure.
func NewFatal(message string, err error) *Error {
	return &Error{Message: message, Recoverable: false, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "engine error"
	}
}

func (e *Error) Unwrap() []error {
	class := ErrFatal
	if e.Recoverable {
		class = ErrRecoverable
	}
	if e.Err == nil {
		return []error{class}
	}
	return []error{class, e.Err}
}

// IsRecoverable reports whether err is classified as recoverable.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// Classify converts an arbitrary adapter error into an *Error.
//
// Deadlines and unclassified errors are recoverable; context cancellation and
// ErrFatal stay fatal.
func Classify(message string, err error) *Error {
	if err == nil {
		return nil
	}
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr
	}
	switch {
	case errors.Is(err, ErrFatal), errors.Is(err, context.Canceled):
		return NewFatal(message, err)
	default:
		return NewRecoverable(message, err)
	}
}
