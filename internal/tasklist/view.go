package tasklist

import (
	"strings"

	"github.com/fentz26/todomaster/internal/models"
)

// View is a consistent read of everything a presentation layer renders.
type View struct {
	Tasks          []models.Task
	CompletedCount int
	TotalCount     int
	Loading        bool
	LastError      string
	LoadFailed     bool
	Editing        *EditSession
	Input          string
}

// IsEditing reports whether id is the task under edit.
func (v View) IsEditing(id string) bool {
	return v.Editing != nil && v.Editing.TaskID == id
}

// CanAdd reports whether the input draft would create a task.
func (v View) CanAdd() bool {
	return !v.LoadFailed && hasText(v.Input)
}

// Snapshot returns the current view. Counts are derived from the task list on
// every call.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		Tasks:          models.CloneTasks(c.tasks),
		CompletedCount: models.CountCompleted(c.tasks),
		TotalCount:     len(c.tasks),
		Loading:        c.loading,
		LastError:      c.lastError,
		LoadFailed:     c.loadFailed,
		Input:          c.input,
	}
	if c.edit != nil {
		e := *c.edit
		v.Editing = &e
	}
	return v
}

// Tasks returns the tasks from the last snapshot in createdAt order.
func (c *Controller) Tasks() []models.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.CloneTasks(c.tasks)
}

// CompletedCount returns the number of completed tasks.
func (c *Controller) CompletedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.CountCompleted(c.tasks)
}

// TotalCount returns the number of tasks.
func (c *Controller) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// IsLoading reports whether the first snapshot is still pending.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// LastError returns the user-visible error message, or "".
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// LoadFailed reports whether the subscription failed for good.
func (c *Controller) LoadFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadFailed
}

// Editing returns the active edit session.
func (c *Controller) Editing() (EditSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit == nil {
		return EditSession{}, false
	}
	return *c.edit, true
}

func hasText(s string) bool {
	return strings.TrimSpace(s) != ""
}
