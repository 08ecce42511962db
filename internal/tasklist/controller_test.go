package tasklist_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/todomaster/internal/models"
	"github.com/fentz26/todomaster/internal/tasklist"
	"github.com/fentz26/todomaster/internal/taskstore"
	"github.com/fentz26/todomaster/internal/testutil"
)

func newMemoryController(t *testing.T, seed ...taskstore.Seed) (*tasklist.Controller, *taskstore.Memory) {
	t.Helper()
	store := taskstore.NewMemory(
		taskstore.WithIDFunc(taskstore.SequentialIDs("t")),
		taskstore.WithSeed(seed...),
	)
	c := tasklist.New(store)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c, store
}

func findByText(t *testing.T, tasks []models.Task, text string) models.Task {
	t.Helper()
	for _, task := range tasks {
		if task.Text == text {
			return task
		}
	}
	t.Fatalf("task %q not found", text)
	return models.Task{}
}

func taskTexts(tasks []models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Text
	}
	return out
}

func TestControllerScenario(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryController(t,
		taskstore.Seed{Text: "Learn"},
		taskstore.Seed{Text: "Build", Completed: true},
	)

	require.NoError(t, c.Add(ctx, "Deploy"))
	assert.Equal(t, []string{"Learn", "Build", "Deploy"}, taskTexts(c.Tasks()))
	assert.Equal(t, 3, c.TotalCount())
	assert.Equal(t, 1, c.CompletedCount())

	build := findByText(t, c.Tasks(), "Build")
	require.NoError(t, c.ToggleCompleted(ctx, build.ID))
	assert.Equal(t, 0, c.CompletedCount())

	learn := findByText(t, c.Tasks(), "Learn")
	c.BeginEdit(learn.ID)
	c.UpdateDraft("Learn deeply")
	require.NoError(t, c.CommitEdit(ctx))
	assert.Equal(t, "Learn deeply", c.Tasks()[0].Text)
	assert.Equal(t, learn.ID, c.Tasks()[0].ID)
	_, editing := c.Editing()
	assert.False(t, editing)

	require.NoError(t, c.Remove(ctx, build.ID))
	tasks := c.Tasks()
	assert.Len(t, tasks, 2)
	assert.Equal(t, []string{"Learn deeply", "Deploy"}, taskTexts(tasks))

	v := c.Snapshot()
	assert.False(t, v.Loading)
	assert.Empty(t, v.LastError)
	assert.Equal(t, 2, v.TotalCount)
}

func TestControllerAddClearsInput(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryController(t)

	c.SetInput("   ")
	assert.False(t, c.Snapshot().CanAdd())
	require.NoError(t, c.Submit(ctx))
	assert.Equal(t, 0, c.TotalCount())
	assert.Equal(t, "   ", c.Input())

	c.SetInput("  Learn ")
	assert.True(t, c.Snapshot().CanAdd())
	require.NoError(t, c.Submit(ctx))
	assert.Equal(t, []string{"Learn"}, taskTexts(c.Tasks()))
	assert.Empty(t, c.Input())
}

func TestControllerSingleEditSession(t *testing.T) {
	c, _ := newMemoryController(t, taskstore.Seed{Text: "a"}, taskstore.Seed{Text: "b"})
	tasks := c.Tasks()

	c.BeginEdit(tasks[0].ID)
	c.UpdateDraft("a changed")
	c.BeginEdit(tasks[1].ID)

	session, ok := c.Editing()
	require.True(t, ok)
	assert.Equal(t, tasklist.EditSession{TaskID: tasks[1].ID, Draft: "b"}, session)
	assert.Equal(t, "a", c.Tasks()[0].Text, "uncommitted draft must be discarded")

	v := c.Snapshot()
	assert.True(t, v.IsEditing(tasks[1].ID))
	assert.False(t, v.IsEditing(tasks[0].ID))
}

func TestControllerEditGuards(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryController(t, taskstore.Seed{Text: "open"}, taskstore.Seed{Text: "done", Completed: true})
	open, done := c.Tasks()[0], c.Tasks()[1]

	c.UpdateDraft("nothing")
	_, ok := c.Editing()
	assert.False(t, ok, "UpdateDraft without a session is a no-op")

	c.BeginEdit(done.ID)
	_, ok = c.Editing()
	assert.False(t, ok, "completed tasks cannot be edited")

	c.BeginEdit("missing")
	_, ok = c.Editing()
	assert.False(t, ok)

	c.BeginEdit(open.ID)
	c.UpdateDraft("   ")
	require.NoError(t, c.CommitEdit(ctx))
	session, ok := c.Editing()
	require.True(t, ok, "blank commit keeps the session")
	assert.Equal(t, "   ", session.Draft)
	assert.Equal(t, "open", c.Tasks()[0].Text)

	require.NoError(t, c.ToggleCompleted(ctx, open.ID))
	assert.False(t, c.Tasks()[0].Completed, "the task under edit cannot be completed")

	c.CancelEdit()
	_, ok = c.Editing()
	assert.False(t, ok)
	assert.Equal(t, "open", c.Tasks()[0].Text)
	c.CancelEdit()
}

func TestControllerRemoveEndsEdit(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryController(t, taskstore.Seed{Text: "a"}, taskstore.Seed{Text: "b"})
	a, b := c.Tasks()[0], c.Tasks()[1]

	c.BeginEdit(a.ID)
	require.NoError(t, c.Remove(ctx, b.ID))
	_, ok := c.Editing()
	assert.True(t, ok, "removing another task keeps the session")

	require.NoError(t, c.Remove(ctx, a.ID))
	_, ok = c.Editing()
	assert.False(t, ok)

	require.NoError(t, c.Remove(ctx, a.ID))
	assert.Equal(t, 0, c.TotalCount())
}

func TestControllerToggleTwiceRestores(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryController(t, taskstore.Seed{Text: "open"}, taskstore.Seed{Text: "done", Completed: true})

	for _, task := range c.Tasks() {
		require.NoError(t, c.ToggleCompleted(ctx, task.ID))
		require.NoError(t, c.ToggleCompleted(ctx, task.ID))
	}
	tasks := c.Tasks()
	assert.False(t, tasks[0].Completed)
	assert.True(t, tasks[1].Completed)
	assert.Equal(t, 1, c.CompletedCount())
}

func TestControllerOnChangeMayWrite(t *testing.T) {
	ctx := context.Background()
	store := taskstore.NewMemory(
		taskstore.WithIDFunc(taskstore.SequentialIDs("t")),
		taskstore.WithSeed(taskstore.Seed{Text: "a"}, taskstore.Seed{Text: "b"}),
	)

	var removed atomic.Bool
	var c *tasklist.Controller
	c = tasklist.New(store, tasklist.WithOnChange(func() {
		if removed.CompareAndSwap(false, true) {
			assert.NoError(t, c.Remove(ctx, "t-1"))
		}
	}))
	t.Cleanup(c.Close)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, c.Start(ctx))
		assert.NoError(t, c.Add(ctx, "c"))
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("a write from the change hook did not return")
	}
	assert.Equal(t, []string{"b", "c"}, taskTexts(c.Tasks()))
}

func TestControllerSnapshotDropsStaleEdit(t *testing.T) {
	ctx := context.Background()
	c, store := newMemoryController(t, taskstore.Seed{Text: "a"})
	a := c.Tasks()[0]

	c.BeginEdit(a.ID)
	require.NoError(t, store.Remove(ctx, a.ID))

	_, ok := c.Editing()
	assert.False(t, ok)
}

func TestControllerOnChange(t *testing.T) {
	ctx := context.Background()
	var changes atomic.Int32
	c := tasklist.New(taskstore.NewMemory(), tasklist.WithOnChange(func() { changes.Add(1) }))
	require.NoError(t, c.Start(ctx))

	start := changes.Load()
	assert.Positive(t, start, "the initial snapshot is a change")

	require.NoError(t, c.Add(ctx, "a"))
	assert.Greater(t, changes.Load(), start)

	c.Close()
	c.Close()
	after := changes.Load()
	c.SetInput("ignored")
	c.CancelEdit()
	assert.Equal(t, after, changes.Load())
	assert.ErrorIs(t, c.Start(ctx), tasklist.ErrAlreadyStarted)
}

func TestControllerCloseBeforeStart(t *testing.T) {
	c := tasklist.New(taskstore.NewMemory())
	c.Close()
	assert.ErrorIs(t, c.Start(context.Background()), tasklist.ErrAlreadyStarted)
}

func TestControllerContextError(t *testing.T) {
	backend := testutil.NewFakeBackend()
	backend.CreateErr = context.Canceled
	c := tasklist.New(taskstore.NewRemote(backend))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Add(ctx, "a"), context.Canceled)
	assert.Empty(t, c.LastError())
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func newRemoteController(t *testing.T, backend *testutil.FakeBackend) *tasklist.Controller {
	t.Helper()
	c := tasklist.New(taskstore.NewRemote(backend))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestRemoteControllerLoading(t *testing.T) {
	backend := testutil.NewFakeBackend()
	backend.Seed("Learn", false)
	c := tasklist.New(taskstore.NewRemote(backend))
	assert.True(t, c.IsLoading())

	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	require.Eventually(t, func() bool { return !c.IsLoading() }, waitFor, tick)
	assert.Equal(t, []string{"Learn"}, taskTexts(c.Tasks()))
}

func TestRemoteControllerFailedWrite(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	backend.Seed("Learn", false)
	backend.Seed("Build", true)
	c := newRemoteController(t, backend)
	require.Eventually(t, func() bool { return c.TotalCount() == 2 }, waitFor, tick)

	backend.CreateErr = errors.New("unavailable")
	c.SetInput("Deploy")
	require.NoError(t, c.Submit(ctx))

	v := c.Snapshot()
	assert.Equal(t, tasklist.WriteFailedMessage, v.LastError)
	assert.Equal(t, []string{"Learn", "Build"}, taskTexts(v.Tasks))
	assert.Equal(t, "Deploy", v.Input, "the draft survives a failed write")
	assert.False(t, v.LoadFailed)

	backend.CreateErr = nil
	require.NoError(t, c.Submit(ctx))
	require.Eventually(t, func() bool { return c.TotalCount() == 3 }, waitFor, tick)
	v = c.Snapshot()
	assert.Empty(t, v.LastError)
	assert.Empty(t, v.Input)
	assert.Equal(t, []string{"Learn", "Build", "Deploy"}, taskTexts(v.Tasks))
}

func TestRemoteControllerFailedEditKeepsSession(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	id := backend.Seed("Learn", false)
	c := newRemoteController(t, backend)
	require.Eventually(t, func() bool { return c.TotalCount() == 1 }, waitFor, tick)

	backend.UpdateErr = errors.New("permission denied")
	c.BeginEdit(id)
	c.UpdateDraft("Learn deeply")
	require.NoError(t, c.CommitEdit(ctx))

	session, ok := c.Editing()
	require.True(t, ok)
	assert.Equal(t, "Learn deeply", session.Draft)
	assert.Equal(t, tasklist.WriteFailedMessage, c.LastError())
	assert.Equal(t, "Learn", c.Tasks()[0].Text)

	require.NoError(t, c.ToggleCompleted(ctx, id))
	c.DismissError()
	assert.Empty(t, c.LastError())
}

func TestRemoteControllerLoadFailed(t *testing.T) {
	backend := testutil.NewFakeBackend()
	backend.WatchErr = errors.New("connection refused")
	c := newRemoteController(t, backend)

	require.Eventually(t, c.LoadFailed, waitFor, tick)
	v := c.Snapshot()
	assert.False(t, v.Loading)
	assert.Equal(t, tasklist.LoadFailedMessage, v.LastError)
	assert.False(t, v.CanAdd())

	c.DismissError()
	assert.Equal(t, tasklist.LoadFailedMessage, c.LastError(), "load failures are terminal")
}

func TestRemoteControllerCloseReleasesSubscription(t *testing.T) {
	backend := testutil.NewFakeBackend()
	c := tasklist.New(taskstore.NewRemote(backend))
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return backend.Watchers() == 1 }, waitFor, tick)

	c.Close()
	require.Eventually(t, func() bool { return backend.Watchers() == 0 }, waitFor, tick)

	backend.Seed("late", false)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.TotalCount())
}

func TestRemoteControllerToggleTwiceRestores(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	id := backend.Seed("Learn", false)
	c := newRemoteController(t, backend)
	require.Eventually(t, func() bool { return c.TotalCount() == 1 }, waitFor, tick)

	require.NoError(t, c.ToggleCompleted(ctx, id))
	require.Eventually(t, func() bool { return c.CompletedCount() == 1 }, waitFor, tick)

	require.NoError(t, c.ToggleCompleted(ctx, id))
	require.Eventually(t, func() bool { return c.CompletedCount() == 0 }, waitFor, tick)
	assert.False(t, backend.Tasks()[0].Completed)
	assert.Empty(t, c.LastError())
}

func TestRemoteControllerCloseFromOnChange(t *testing.T) {
	backend := testutil.NewFakeBackend()
	backend.Seed("Learn", false)

	var once sync.Once
	closed := make(chan struct{})
	var c *tasklist.Controller
	c = tasklist.New(taskstore.NewRemote(backend), tasklist.WithOnChange(func() {
		if c.TotalCount() > 0 {
			once.Do(func() {
				c.Close()
				close(closed)
			})
		}
	}))
	require.NoError(t, c.Start(context.Background()))

	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("Close from the change hook did not return")
	}
	require.Eventually(t, func() bool { return backend.Watchers() == 0 }, waitFor, tick)
}

func TestRemoteControllerStartWithDoneContext(t *testing.T) {
	backend := testutil.NewFakeBackend()
	c := tasklist.New(taskstore.NewRemote(backend))
	t.Cleanup(c.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Start(ctx))

	v := c.Snapshot()
	assert.True(t, v.LoadFailed)
	assert.False(t, v.Loading)
	assert.Equal(t, tasklist.LoadFailedMessage, v.LastError)
}

func TestRemoteControllerIgnoresWritesAfterLoadFailure(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	id := backend.Seed("Learn", false)
	backend.WatchErr = errors.New("connection refused")
	c := newRemoteController(t, backend)
	require.Eventually(t, c.LoadFailed, waitFor, tick)

	require.NoError(t, c.Add(ctx, "Build"))
	require.NoError(t, c.Remove(ctx, id))
	require.NoError(t, c.ToggleCompleted(ctx, id))
	assert.Empty(t, backend.Calls)
	assert.Equal(t, tasklist.LoadFailedMessage, c.LastError())
}
