// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/todomaster/internal/models"
	"github.com/fentz26/todomaster/internal/taskstore"
)

// FakeBackend is an in-memory taskstore.Backend that pushes snapshots to
// watchers the way the document store daemon does.
type FakeBackend struct {
	mu       sync.Mutex
	docs     []models.Task
	watchers map[int]*fakeWatcher
	nextW    int
	seq      int
	base     time.Time

	// Error injection for testing
	CreateErr error
	UpdateErr error
	DeleteErr error
	WatchErr  error

	// Calls records every write in order, e.g. "create Learn", "update t-1".
	Calls []string
}

type fakeWatcher struct {
	snapshots chan []models.Task
	fail      chan error
}

// NewFakeBackend creates an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		watchers: make(map[int]*fakeWatcher),
		base:     time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

// Seed inserts a document directly, as another client would, and notifies watchers.
func (f *FakeBackend) Seed(text string, completed bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.insertLocked(text, completed)
	f.broadcastLocked()
	return id
}

// Tasks returns the backend's current documents.
func (f *FakeBackend) Tasks() []models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.CloneTasks(f.docs)
}

// Watchers returns the number of active watches.
func (f *FakeBackend) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

// Break makes every active watch return err.
func (f *FakeBackend) Break(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.watchers {
		select {
		case w.fail <- err:
		default:
		}
	}
}

// Create implements taskstore.Backend.
func (f *FakeBackend) Create(ctx context.Context, doc taskstore.Document) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "create "+doc.Text)
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	id := f.insertLocked(doc.Text, doc.Completed)
	f.broadcastLocked()
	return id, nil
}

// Update implements taskstore.Backend.
func (f *FakeBackend) Update(ctx context.Context, id string, fields taskstore.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "update "+id)
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	for i := range f.docs {
		if f.docs[i].ID == id {
			if fields.Text != nil {
				f.docs[i].Text = *fields.Text
			}
			if fields.Completed != nil {
				f.docs[i].Completed = *fields.Completed
			}
			f.broadcastLocked()
			return nil
		}
	}
	return taskstore.ErrNotFound
}

// Delete implements taskstore.Backend.
func (f *FakeBackend) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "delete "+id)
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	for i := range f.docs {
		if f.docs[i].ID == id {
			f.docs = append(f.docs[:i:i], f.docs[i+1:]...)
			f.broadcastLocked()
			return nil
		}
	}
	return nil
}

// Watch implements taskstore.Backend.
func (f *FakeBackend) Watch(ctx context.Context, deliver func([]models.Task)) error {
	f.mu.Lock()
	if f.WatchErr != nil {
		err := f.WatchErr
		f.mu.Unlock()
		return err
	}
	w := &fakeWatcher{
		snapshots: make(chan []models.Task, 1),
		fail:      make(chan error, 1),
	}
	id := f.nextW
	f.nextW++
	f.watchers[id] = w
	w.snapshots <- models.CloneTasks(f.docs)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-w.fail:
			return err
		case tasks := <-w.snapshots:
			deliver(tasks)
		}
	}
}

func (f *FakeBackend) insertLocked(text string, completed bool) string {
	f.seq++
	id := fmt.Sprintf("doc-%d", f.seq)
	f.docs = append(f.docs, models.Task{
		ID:        id,
		Text:      text,
		Completed: completed,
		CreatedAt: f.base.Add(time.Duration(f.seq) * time.Millisecond),
	})
	return id
}

// broadcastLocked replaces any undelivered snapshot with the latest one.
func (f *FakeBackend) broadcastLocked() {
	for _, w := range f.watchers {
		select {
		case <-w.snapshots:
		default:
		}
		w.snapshots <- models.CloneTasks(f.docs)
	}
}
