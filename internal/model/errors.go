package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every client-side precondition failure
	ErrValidation = errors.New("validation failed")

	// ErrTransport matches every failure to complete a remote call
	ErrTransport = errors.New("transport failed")
)

// ValidationError is a precondition rejected before any network call.
type ValidationError struct {
	Field  string
	Reason string
	Cause  error
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Cause }

// TransportError wraps a remote call that could not complete.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }
