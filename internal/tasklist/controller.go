// Package tasklist owns the presentation-facing state of the task list: the
// ordered tasks from the last snapshot, the single edit session, the input
// draft and the loading/error flags.
package tasklist

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/fentz26/todomaster/internal/models"
	"github.com/fentz26/todomaster/internal/taskstore"
)

// User-visible error messages. Write failures are not operation-specific.
const (
	WriteFailedMessage = "Could not save your change. Please try again."
	LoadFailedMessage  = "Could not load tasks."
)

// ErrAlreadyStarted is returned by Start on a second call.
var ErrAlreadyStarted = errors.New("controller already started")

// EditSession is the single task currently being edited and its uncommitted draft.
type EditSession struct {
	TaskID string
	Draft  string
}

// Option configures a Controller.
type Option func(*Controller)

// WithOnChange registers fn to be called after every state change. It runs
// without the controller lock or any store lock held, possibly on the store's
// listener goroutine, so fn may read from and write through the controller
// and may call Close.
func WithOnChange(fn func()) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithLogger sets the logger used by the controller.
func WithLogger(l hclog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller mediates between a presentation layer and a taskstore.Store.
// The lock is never held while calling into the store.
type Controller struct {
	store    taskstore.Store
	logger   hclog.Logger
	onChange func()

	mu         sync.Mutex
	tasks      []models.Task
	edit       *EditSession
	input      string
	loading    bool
	loadFailed bool
	lastError  string
	sub        taskstore.Subscription
	started    bool
	closed     bool
}

// New creates a controller over store. Call Start to begin receiving snapshots.
func New(store taskstore.Store, opts ...Option) *Controller {
	c := &Controller{
		store:   store,
		logger:  hclog.NewNullLogger(),
		tasks:   []models.Task{},
		loading: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to the store. A subscription that cannot be established
// puts the controller into the terminal load-failed state rather than
// returning an error.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	sub, err := c.store.Subscribe(ctx, c.applySnapshot, c.failLoad)
	if err != nil {
		c.failLoad(err)
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Close()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()
	return nil
}

// Close releases the subscription. It is safe to call more than once and
// before Start. No state changes are applied after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

func (c *Controller) applySnapshot(tasks []models.Task) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.tasks = tasks
	c.loading = false
	if c.edit != nil && indexOf(tasks, c.edit.TaskID) < 0 {
		c.edit = nil
	}
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) failLoad(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.loading = false
	c.loadFailed = true
	c.lastError = LoadFailedMessage
	c.edit = nil
	c.mu.Unlock()
	c.logger.Error("task list load failed", "error", err)
	c.changed()
}

// SetInput replaces the new-task input draft.
func (c *Controller) SetInput(text string) {
	c.update(func() { c.input = text })
}

// Input returns the new-task input draft.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Submit adds the current input draft as a task.
func (c *Controller) Submit(ctx context.Context) error {
	return c.Add(ctx, c.Input())
}

// Add creates a task from text. Blank text is ignored. The input draft is
// cleared only once the store accepts the write, and only if it still holds
// the submitted text.
func (c *Controller) Add(ctx context.Context, text string) error {
	if _, err := taskstore.NormalizeText(text); err != nil {
		return nil
	}
	if !c.writable() {
		return nil
	}
	err := c.store.Add(ctx, text)
	return c.finishWrite(ctx, "add", err, func() {
		if c.input == text {
			c.input = ""
		}
	})
}

// BeginEdit opens an edit session on id, discarding any previous session.
// Unknown and completed tasks cannot be edited.
func (c *Controller) BeginEdit(id string) {
	c.mu.Lock()
	i := indexOf(c.tasks, id)
	if c.closed || c.loadFailed || i < 0 || c.tasks[i].Completed {
		c.mu.Unlock()
		return
	}
	c.edit = &EditSession{TaskID: id, Draft: c.tasks[i].Text}
	c.mu.Unlock()
	c.changed()
}

// UpdateDraft replaces the edit draft. Without a session it does nothing.
func (c *Controller) UpdateDraft(text string) {
	c.mu.Lock()
	if c.edit == nil {
		c.mu.Unlock()
		return
	}
	c.edit.Draft = text
	c.mu.Unlock()
	c.changed()
}

// CommitEdit writes the draft to the task under edit. A blank draft is a
// no-op and keeps the session open; a failed write keeps it open too.
func (c *Controller) CommitEdit(ctx context.Context) error {
	c.mu.Lock()
	if c.edit == nil {
		c.mu.Unlock()
		return nil
	}
	id, draft := c.edit.TaskID, c.edit.Draft
	c.mu.Unlock()
	if !c.writable() {
		return nil
	}

	if _, err := taskstore.NormalizeText(draft); err != nil {
		return nil
	}
	err := c.store.SetText(ctx, id, draft)
	return c.finishWrite(ctx, "set text", err, func() {
		if c.edit != nil && c.edit.TaskID == id {
			c.edit = nil
		}
	})
}

// CancelEdit discards the edit session.
func (c *Controller) CancelEdit() {
	c.update(func() { c.edit = nil })
}

// ToggleCompleted flips the completed flag of id. The task under edit cannot
// be toggled.
func (c *Controller) ToggleCompleted(ctx context.Context, id string) error {
	c.mu.Lock()
	i := indexOf(c.tasks, id)
	if c.closed || c.loadFailed || i < 0 || (c.edit != nil && c.edit.TaskID == id) {
		c.mu.Unlock()
		return nil
	}
	completed := !c.tasks[i].Completed
	c.mu.Unlock()

	err := c.store.SetCompleted(ctx, id, completed)
	return c.finishWrite(ctx, "set completed", err, nil)
}

// Remove deletes id and ends its edit session, if any.
func (c *Controller) Remove(ctx context.Context, id string) error {
	if !c.writable() {
		return nil
	}
	err := c.store.Remove(ctx, id)
	return c.finishWrite(ctx, "remove", err, func() {
		if c.edit != nil && c.edit.TaskID == id {
			c.edit = nil
		}
	})
}

// DismissError clears a write failure message. A load failure stays.
func (c *Controller) DismissError() {
	c.update(func() {
		if !c.loadFailed {
			c.lastError = ""
		}
	})
}

// finishWrite applies onSuccess or records the failure. Only the caller's own
// context errors are returned.
func (c *Controller) finishWrite(ctx context.Context, op string, err error, onSuccess func()) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		c.logger.Warn("task write failed", "op", op, "error", err)
	}
	c.update(func() {
		if err != nil {
			c.lastError = WriteFailedMessage
			return
		}
		if !c.loadFailed {
			c.lastError = ""
		}
		if onSuccess != nil {
			onSuccess()
		}
	})
	return nil
}

// writable reports whether writes may reach the store. After a load failure
// or Close they are ignored.
func (c *Controller) writable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.loadFailed
}

// update runs fn under the lock unless the controller is closed, then notifies.
func (c *Controller) update(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fn()
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func indexOf(tasks []models.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
