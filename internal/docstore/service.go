// Package docstore provides the task document store daemon: a service layer
// over SQLite with live change fan-out, its HTTP API and an HTTP client that
// implements taskstore.Backend.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/fentz26/todomaster/internal/audit"
	"github.com/fentz26/todomaster/internal/models"
	"github.com/fentz26/todomaster/internal/store"
)

// Service provides the document store business logic.
type Service struct {
	store    *store.Store
	recorder *audit.Recorder
	hub      *hub
	logger   hclog.Logger

	// mu orders mutate+publish so watchers see snapshots in commit order.
	mu sync.Mutex
}

// NewService creates a new document store service.
func NewService(s *store.Store, rec *audit.Recorder, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		store:    s,
		recorder: rec,
		hub:      newHub(),
		logger:   logger,
	}
}

// CreateTask creates a task document. A nil createdAt is stamped now.
func (s *Service) CreateTask(text string, completed bool, createdAt *int64) (*models.Task, error) {
	var at time.Time
	if createdAt != nil {
		at = time.UnixMilli(*createdAt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.store.CreateTask(text, completed, at)
	if errors.Is(err, store.ErrEmptyText) {
		s.record("task.create", map[string]interface{}{"text": text}, audit.OutcomeError, "", err.Error())
		return nil, ErrInvalidDocument
	}
	if err != nil {
		return nil, err
	}

	s.record("task.create", map[string]interface{}{"text": text, "completed": completed}, audit.OutcomeSuccess, task.ID, "")
	s.publishLocked()
	return task, nil
}

// GetTask retrieves a task by id.
func (s *Service) GetTask(id string) (*models.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNotFound
	}
	return task, nil
}

// ListTasks returns every task, oldest first.
func (s *Service) ListTasks() ([]models.Task, error) {
	return s.store.ListTasks()
}

// UpdateTask applies a field-level patch.
func (s *Service) UpdateTask(id string, patch store.TaskPatch) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inputs := map[string]interface{}{"id": id, "text": patch.Text, "completed": patch.Completed}
	task, err := s.store.UpdateTask(id, patch)
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		s.record("task.update", inputs, audit.OutcomeNoop, id, err.Error())
		return nil, ErrNotFound
	case errors.Is(err, store.ErrEmptyText):
		s.record("task.update", inputs, audit.OutcomeError, id, err.Error())
		return nil, ErrInvalidDocument
	case err != nil:
		return nil, err
	}

	s.record("task.update", inputs, audit.OutcomeSuccess, id, "")
	s.publishLocked()
	return task, nil
}

// DeleteTask removes a task. Missing tasks yield ErrNotFound.
func (s *Service) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted, err := s.store.DeleteTask(id)
	if err != nil {
		return err
	}
	if !deleted {
		s.record("task.delete", map[string]string{"id": id}, audit.OutcomeNoop, id, "")
		return ErrNotFound
	}

	s.record("task.delete", map[string]string{"id": id}, audit.OutcomeSuccess, id, "")
	s.publishLocked()
	return nil
}

// Watch registers a watcher. The returned channel holds the current list
// immediately and the latest list after every change. Call cancel to stop.
func (s *Service) Watch() (<-chan []models.Task, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.store.ListTasks()
	if err != nil {
		return nil, nil, fmt.Errorf("list tasks: %w", err)
	}
	id, ch := s.hub.subscribe(tasks)
	s.logger.Debug("watcher registered", "watchers", s.hub.count())
	return ch, func() { s.hub.unsubscribe(id) }, nil
}

// Watchers returns the number of active watchers.
func (s *Service) Watchers() int {
	return s.hub.count()
}

// Changes returns the most recent change records.
func (s *Service) Changes(limit int) ([]models.ChangeRecord, error) {
	return s.store.ListChanges(limit)
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) publishLocked() {
	tasks, err := s.store.ListTasks()
	if err != nil {
		s.logger.Error("failed to list tasks for watchers", "error", err)
		return
	}
	s.hub.broadcast(tasks)
}

func (s *Service) record(action string, inputs interface{}, outcome, taskID, details string) {
	if s.recorder == nil {
		return
	}
	if _, err := s.recorder.Record(action, inputs, outcome, taskID, details); err != nil {
		s.logger.Warn("failed to record change", "action", action, "error", err)
	}
}
