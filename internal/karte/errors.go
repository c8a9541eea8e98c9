package karte

import "fmt"

// NotFoundError reports that an id matched no stored row. Read paths report
// absence through a nil result instead; write paths return this error.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("karte: %s: no row with id %q", e.Collection, e.ID)
}

// ValidationError reports a malformed payload before any write is attempted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "karte: " + e.Reason
}

func newValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps an I/O failure from the tabular store. Partial
// writes applied before the failure are not rolled back; callers should
// re-fetch before retrying.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func newPersistenceError(operation string, cause error) error {
	return &PersistenceError{Op: operation, Err: cause}
}
