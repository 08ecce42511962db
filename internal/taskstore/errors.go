package taskstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for task store operations.
var (
	// ErrValidationFailed marks empty text. Stores swallow it; it never reaches users.
	ErrValidationFailed = errors.New("validation failed")
	// ErrWriteFailed marks a rejected remote write.
	ErrWriteFailed = errors.New("write failed")
	// ErrLoadFailed marks a subscription that could not be established or broke.
	ErrLoadFailed = errors.New("load failed")
	// ErrNotFound is returned by a Backend when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")
)

// WriteError is the typed failure of a single remote write.
type WriteError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *WriteError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.TaskID, ErrWriteFailed, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrWriteFailed, e.Err)
}

// Unwrap exposes both ErrWriteFailed and the underlying cause to errors.Is.
func (e *WriteError) Unwrap() []error {
	return []error{ErrWriteFailed, e.Err}
}
