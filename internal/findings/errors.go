package findings

import (
	"errors"
	"fmt"
)

// ErrFindingResolved is wrapped by ConflictError when an operation requires
// an open finding.
var ErrFindingResolved = errors.New("finding is resolved")

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a lookup that matched nothing.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

type ConflictError struct {
	ID  int64
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("finding %d: %v", e.ID, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
