// Package audit records document store mutations for later inspection.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/todomaster/internal/models"
	"github.com/fentz26/todomaster/internal/store"
)

// Outcomes recorded for a mutation.
const (
	OutcomeSuccess = "success"
	OutcomeNoop    = "noop"
	OutcomeError   = "error"
)

// Recorder writes change records for every state-mutating action.
type Recorder struct {
	store *store.Store
}

// NewRecorder creates a new change recorder.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s}
}

// Record writes a change record. inputs is hashed, never stored verbatim.
func (r *Recorder) Record(action string, inputs interface{}, outcome, taskID, details string) (*models.ChangeRecord, error) {
	return r.store.WriteChange(action, hashInputs(inputs), outcome, taskID, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
