package taskstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/todomaster/internal/models"
	"github.com/hashicorp/go-hclog"
)

// Document is a task record as created in the remote collection.
// A zero CreatedAt asks the backend to stamp it with its own clock.
type Document struct {
	Text      string
	Completed bool
	CreatedAt time.Time
}

// Fields is a field-level update. Nil fields are left unchanged.
type Fields struct {
	Text      *string
	Completed *bool
}

// Backend is the capability set Remote needs from a document store.
type Backend interface {
	// Create stores a new document and returns its store-assigned id.
	Create(ctx context.Context, doc Document) (string, error)

	// Update applies fields to an existing document. Missing documents yield ErrNotFound.
	Update(ctx context.Context, id string, fields Fields) error

	// Delete removes a document. Missing documents yield ErrNotFound or nil.
	Delete(ctx context.Context, id string) error

	// Watch delivers the full collection ordered by createdAt ascending, once on
	// connect and again after every change, until ctx is done. It returns nil
	// only when ctx is done.
	Watch(ctx context.Context, deliver func([]models.Task)) error
}

// RemoteOption configures a Remote store.
type RemoteOption func(*Remote)

// WithLogger sets the logger used by Remote.
func WithLogger(l hclog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

// Remote is a Store backed by a remote document collection. Mutations never
// change local state; the resulting list arrives through Subscribe.
type Remote struct {
	backend Backend
	logger  hclog.Logger
}

// NewRemote creates a remote store over backend.
func NewRemote(backend Backend, opts ...RemoteOption) *Remote {
	r := &Remote{
		backend: backend,
		logger:  hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add implements Store.
func (r *Remote) Add(ctx context.Context, text string) error {
	text, err := NormalizeText(text)
	if err != nil {
		return nil
	}
	id, err := r.backend.Create(ctx, Document{Text: text})
	if err != nil {
		return r.writeFailed("add", "", err)
	}
	r.logger.Debug("task create requested", "id", id)
	return nil
}

// Remove implements Store.
func (r *Remote) Remove(ctx context.Context, id string) error {
	if err := r.backend.Delete(ctx, id); err != nil {
		return r.writeFailed("remove", id, err)
	}
	return nil
}

// SetCompleted implements Store.
func (r *Remote) SetCompleted(ctx context.Context, id string, completed bool) error {
	if err := r.backend.Update(ctx, id, Fields{Completed: &completed}); err != nil {
		return r.writeFailed("set completed", id, err)
	}
	return nil
}

// SetText implements Store.
func (r *Remote) SetText(ctx context.Context, id, text string) error {
	text, err := NormalizeText(text)
	if err != nil {
		return nil
	}
	if err := r.backend.Update(ctx, id, Fields{Text: &text}); err != nil {
		return r.writeFailed("set text", id, err)
	}
	return nil
}

// writeFailed maps a backend error to the Store contract: missing documents and
// server-side validation rejections are no-ops, everything else is a WriteError.
func (r *Remote) writeFailed(op, id string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidationFailed) {
		r.logger.Debug("remote write ignored", "op", op, "id", id, "reason", err)
		return nil
	}
	r.logger.Warn("remote write failed", "op", op, "id", id, "error", err)
	return &WriteError{Op: op, TaskID: id, Err: err}
}

// Subscribe implements Store. It starts a single listener goroutine; snapshots
// are delivered on it in the order received. A watch that fails or ends before
// the subscription is closed reports one ErrLoadFailed and stops for good. A
// ctx that is already done fails the subscription immediately.
func (r *Remote) Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &remoteSubscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)

		err := r.backend.Watch(ctx, func(tasks []models.Task) {
			sub.inCallback.Store(true)
			defer sub.inCallback.Store(false)
			if ctx.Err() != nil {
				return
			}
			onSnapshot(models.CloneTasks(tasks))
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		r.logger.Error("task subscription failed", "error", err)
		if onError != nil {
			sub.inCallback.Store(true)
			defer sub.inCallback.Store(false)
			onError(fmt.Errorf("%w: %w", ErrLoadFailed, err))
		}
	}()

	return sub, nil
}

type remoteSubscription struct {
	cancel     context.CancelFunc
	done       chan struct{}
	once       sync.Once
	inCallback atomic.Bool
}

// Close stops the listener and waits for it to exit. Called from inside a
// callback it returns without waiting, since the listener is the caller.
func (s *remoteSubscription) Close() {
	s.once.Do(s.cancel)
	if s.inCallback.Load() {
		return
	}
	<-s.done
}
