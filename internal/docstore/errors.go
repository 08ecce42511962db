package docstore

import (
	"errors"
	"fmt"

	"github.com/fentz26/todomaster/internal/taskstore"
)

// Sentinel errors for document store operations. They wrap the taskstore
// kinds so a Remote store over a Client classifies them without translation.
var (
	ErrNotFound        = taskstore.ErrNotFound
	ErrInvalidDocument = fmt.Errorf("invalid document: %w", taskstore.ErrValidationFailed)
	ErrShuttingDown    = errors.New("server shutting down")
)

// APIError is a non-2xx response that maps to no sentinel.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}
