package taskstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/todomaster/internal/models"
	"github.com/google/uuid"
)

// IDFunc generates task identifiers for the memory store.
type IDFunc func() string

// SequentialIDs returns an IDFunc yielding prefix-1, prefix-2, ...
func SequentialIDs(prefix string) IDFunc {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// Seed describes a task loaded into a fresh memory store.
type Seed struct {
	Text      string
	Completed bool
}

// DemoSeed is the starter list shown by the demo mode.
func DemoSeed() []Seed {
	return []Seed{
		{Text: "Learn React"},
		{Text: "Build a todo app", Completed: true},
		{Text: "Deploy to production"},
	}
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithIDFunc replaces the uuid generator, e.g. with SequentialIDs in tests.
func WithIDFunc(f IDFunc) MemoryOption {
	return func(m *Memory) { m.newID = f }
}

// WithClock replaces time.Now as the source of CreatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithSeed preloads tasks in the given order.
func WithSeed(seed ...Seed) MemoryOption {
	return func(m *Memory) { m.seed = append(m.seed, seed...) }
}

// Memory is an in-process Store. Mutations are applied and delivered to
// subscribers before the call returns. A mutation made from inside a
// subscriber callback, or while another goroutine is delivering, is queued
// and delivered by the goroutine already delivering, in mutation order.
type Memory struct {
	mu        sync.Mutex
	tasks     []models.Task
	listeners map[int]SnapshotFunc
	nextSub   int
	pending   []delivery
	draining  bool

	newID IDFunc
	now   func() time.Time
	seed  []Seed
}

// delivery is one queued snapshot and the subscribers it is addressed to.
type delivery struct {
	subs  []int
	tasks []models.Task
}

// NewMemory creates a memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		listeners: make(map[int]SnapshotFunc),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, s := range m.seed {
		text, err := NormalizeText(s.Text)
		if err != nil {
			continue
		}
		m.tasks = append(m.tasks, m.newTask(text, s.Completed))
	}
	m.seed = nil
	return m
}

// Tasks returns a copy of the current ordered list.
func (m *Memory) Tasks() []models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.CloneTasks(m.tasks)
}

// Add implements Store.
func (m *Memory) Add(ctx context.Context, text string) error {
	text, err := NormalizeText(text)
	if err != nil {
		return nil
	}
	m.mutate(func() bool {
		m.tasks = append(m.tasks, m.newTask(text, false))
		return true
	})
	return nil
}

// Remove implements Store.
func (m *Memory) Remove(ctx context.Context, id string) error {
	m.mutate(func() bool {
		for i, t := range m.tasks {
			if t.ID == id {
				m.tasks = append(m.tasks[:i:i], m.tasks[i+1:]...)
				return true
			}
		}
		return false
	})
	return nil
}

// SetCompleted implements Store.
func (m *Memory) SetCompleted(ctx context.Context, id string, completed bool) error {
	m.mutate(func() bool {
		for i := range m.tasks {
			if m.tasks[i].ID == id {
				if m.tasks[i].Completed == completed {
					return false
				}
				m.tasks[i].Completed = completed
				return true
			}
		}
		return false
	})
	return nil
}

// SetText implements Store.
func (m *Memory) SetText(ctx context.Context, id, text string) error {
	text, err := NormalizeText(text)
	if err != nil {
		return nil
	}
	m.mutate(func() bool {
		for i := range m.tasks {
			if m.tasks[i].ID == id {
				if m.tasks[i].Text == text {
					return false
				}
				m.tasks[i].Text = text
				return true
			}
		}
		return false
	})
	return nil
}

// Subscribe implements Store. The current list is delivered before Subscribe
// returns unless another delivery is in progress. Memory never fails, so
// onError is never called.
func (m *Memory) Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = onSnapshot
	m.pending = append(m.pending, delivery{subs: []int{id}, tasks: models.CloneTasks(m.tasks)})
	m.mu.Unlock()

	m.drain()
	return &memorySubscription{store: m, id: id}, nil
}

// mutate runs fn under the state lock and, if it reports a change, queues the
// new list for every subscriber and delivers it.
func (m *Memory) mutate(fn func() bool) {
	m.mu.Lock()
	if !fn() {
		m.mu.Unlock()
		return
	}
	subs := make([]int, 0, len(m.listeners))
	for i := 0; i < m.nextSub; i++ {
		if _, ok := m.listeners[i]; ok {
			subs = append(subs, i)
		}
	}
	m.pending = append(m.pending, delivery{subs: subs, tasks: models.CloneTasks(m.tasks)})
	m.mu.Unlock()

	m.drain()
}

// drain delivers queued snapshots until the queue is empty. Callbacks run
// without any lock held, so they may call back into the store. Only one
// goroutine drains at a time; the others return immediately.
func (m *Memory) drain() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true

	for len(m.pending) > 0 {
		d := m.pending[0]
		m.pending = m.pending[1:]
		for _, id := range d.subs {
			l, ok := m.listeners[id]
			if !ok {
				continue
			}
			m.mu.Unlock()
			l(models.CloneTasks(d.tasks))
			m.mu.Lock()
		}
	}
	m.pending = nil
	m.draining = false
	m.mu.Unlock()
}

// newTask builds a task whose CreatedAt never precedes the last task's, so
// append order and createdAt order agree even if the clock steps backwards.
func (m *Memory) newTask(text string, completed bool) models.Task {
	createdAt := m.now()
	if n := len(m.tasks); n > 0 && createdAt.Before(m.tasks[n-1].CreatedAt) {
		createdAt = m.tasks[n-1].CreatedAt
	}
	return models.Task{
		ID:        m.newID(),
		Text:      text,
		Completed: completed,
		CreatedAt: createdAt,
	}
}

type memorySubscription struct {
	store *Memory
	id    int
	once  sync.Once
}

// Close unregisters the subscriber. No callback starts after Close returns.
// It may be called from inside the subscriber's own callback.
func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.listeners, s.id)
		s.store.mu.Unlock()
	})
}
