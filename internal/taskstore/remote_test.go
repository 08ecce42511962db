package taskstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/todomaster/internal/models"
	"github.com/fentz26/todomaster/internal/taskstore"
	"github.com/fentz26/todomaster/internal/testutil"
)

// recorder collects subscription callbacks from the listener goroutine.
type recorder struct {
	mu        sync.Mutex
	snapshots [][]models.Task
	errs      []error
}

func (r *recorder) onSnapshot(tasks []models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, tasks)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) last() []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func TestRemoteWritesArriveThroughSubscription(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	backend.Seed("Learn", false)
	store := taskstore.NewRemote(backend)

	rec := &recorder{}
	sub, err := store.Subscribe(ctx, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return len(rec.last()) == 1 }, waitFor, tick)

	require.NoError(t, store.Add(ctx, "  Build "))
	require.Eventually(t, func() bool { return len(rec.last()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"Learn", "Build"}, texts(rec.last()))

	buildID := rec.last()[1].ID
	require.NoError(t, store.SetCompleted(ctx, buildID, true))
	require.Eventually(t, func() bool {
		l := rec.last()
		return len(l) == 2 && l[1].Completed
	}, waitFor, tick)

	require.NoError(t, store.SetText(ctx, buildID, "Build it"))
	require.Eventually(t, func() bool {
		l := rec.last()
		return len(l) == 2 && l[1].Text == "Build it"
	}, waitFor, tick)

	require.NoError(t, store.Remove(ctx, buildID))
	require.Eventually(t, func() bool { return len(rec.last()) == 1 }, waitFor, tick)
	assert.Empty(t, rec.errors())
}

func TestRemoteValidationSendsNothing(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	id := backend.Seed("Learn", false)
	store := taskstore.NewRemote(backend)

	require.NoError(t, store.Add(ctx, "   "))
	require.NoError(t, store.SetText(ctx, id, ""))
	assert.Empty(t, backend.Calls)
}

func TestRemoteMissingDocumentIsNoop(t *testing.T) {
	ctx := context.Background()
	store := taskstore.NewRemote(testutil.NewFakeBackend())

	assert.NoError(t, store.Remove(ctx, "missing"))
	assert.NoError(t, store.Remove(ctx, "missing"))
	assert.NoError(t, store.SetCompleted(ctx, "missing", true))
	assert.NoError(t, store.SetText(ctx, "missing", "text"))
}

func TestRemoteWriteFailure(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	id := backend.Seed("Learn", false)
	backend.CreateErr = errors.New("connection refused")
	backend.UpdateErr = errors.New("permission denied")
	backend.DeleteErr = errors.New("unavailable")
	store := taskstore.NewRemote(backend)

	rec := &recorder{}
	sub, err := store.Subscribe(ctx, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)

	err = store.Add(ctx, "Build")
	require.Error(t, err)
	assert.ErrorIs(t, err, taskstore.ErrWriteFailed)
	var werr *taskstore.WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "add", werr.Op)
	assert.ErrorIs(t, err, backend.CreateErr)

	assert.ErrorIs(t, store.SetCompleted(ctx, id, true), taskstore.ErrWriteFailed)
	assert.ErrorIs(t, store.SetText(ctx, id, "x"), taskstore.ErrWriteFailed)
	assert.ErrorIs(t, store.Remove(ctx, id), taskstore.ErrWriteFailed)

	// Nothing was applied, so no further deliveries arrive.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, []string{"Learn"}, texts(rec.last()))
}

func TestRemoteLoadFailed(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	backend.WatchErr = errors.New("dial tcp: connection refused")
	store := taskstore.NewRemote(backend)

	rec := &recorder{}
	sub, err := store.Subscribe(ctx, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, waitFor, tick)
	assert.ErrorIs(t, rec.errors()[0], taskstore.ErrLoadFailed)
	assert.Zero(t, rec.count())
}

func TestRemoteBrokenStreamIsTerminal(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	store := taskstore.NewRemote(backend)

	rec := &recorder{}
	sub, err := store.Subscribe(ctx, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
	backend.Break(errors.New("stream reset"))
	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return backend.Watchers() == 0 }, waitFor, tick)

	// No retry: later changes are not delivered.
	backend.Seed("Learn", false)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Len(t, rec.errors(), 1)
}

func TestRemoteCloseReleasesWatch(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	store := taskstore.NewRemote(backend)

	rec := &recorder{}
	sub, err := store.Subscribe(ctx, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return backend.Watchers() == 1 }, waitFor, tick)

	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)

	sub.Close()
	sub.Close()
	require.Eventually(t, func() bool { return backend.Watchers() == 0 }, waitFor, tick)

	n := rec.count()
	backend.Seed("Learn", false)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, rec.count())
	assert.Empty(t, rec.errors(), "closing must not report a load failure")
}

func TestRemoteSubscribeWithDoneContext(t *testing.T) {
	backend := testutil.NewFakeBackend()
	store := taskstore.NewRemote(backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	sub, err := store.Subscribe(ctx, rec.onSnapshot, rec.onError)
	require.ErrorIs(t, err, taskstore.ErrLoadFailed)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, sub)
	assert.Equal(t, 0, backend.Watchers())
}

func TestRemoteCloseFromCallback(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	backend.Seed("Learn", false)
	store := taskstore.NewRemote(backend)

	subs := make(chan taskstore.Subscription, 1)
	closed := make(chan struct{})
	sub, err := store.Subscribe(ctx, func([]models.Task) {
		s := <-subs
		s.Close()
		close(closed)
	}, nil)
	require.NoError(t, err)
	subs <- sub

	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("Close from inside a callback did not return")
	}
	require.Eventually(t, func() bool { return backend.Watchers() == 0 }, waitFor, tick)
	sub.Close()
}
