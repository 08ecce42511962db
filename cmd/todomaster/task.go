package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/todomaster/internal/docstore"
	"github.com/fentz26/todomaster/internal/models"
	"github.com/fentz26/todomaster/internal/tasklist"
	"github.com/fentz26/todomaster/internal/taskstore"
)

// loadTimeout bounds the wait for the first snapshot.
const loadTimeout = 10 * time.Second

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks in the document store",
	Long: `Scripted access to the shared task list. Task commands always talk to the
document store at server.address and start the daemon when it is not running.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Add a new task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithController(cmd, func(ctx context.Context, c *tasklist.Controller) error {
			return taskAdd(ctx, c, cmd.OutOrStdout(), strings.Join(args, " "))
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithController(cmd, func(ctx context.Context, c *tasklist.Controller) error {
			return taskList(c, cmd.OutOrStdout(), listJSON)
		})
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <task-id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithController(cmd, func(ctx context.Context, c *tasklist.Controller) error {
			return taskSetCompleted(ctx, c, cmd.OutOrStdout(), args[0], true)
		})
	},
}

var taskUndoneCmd = &cobra.Command{
	Use:   "undone <task-id>",
	Short: "Mark a task not completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithController(cmd, func(ctx context.Context, c *tasklist.Controller) error {
			return taskSetCompleted(ctx, c, cmd.OutOrStdout(), args[0], false)
		})
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <task-id> <text>",
	Short: "Change a task's text",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithController(cmd, func(ctx context.Context, c *tasklist.Controller) error {
			return taskEdit(ctx, c, cmd.OutOrStdout(), args[0], strings.Join(args[1:], " "))
		})
	},
}

var taskRmCmd = &cobra.Command{
	Use:     "rm <task-id>",
	Aliases: []string{"delete"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithController(cmd, func(ctx context.Context, c *tasklist.Controller) error {
			return taskRemove(ctx, c, cmd.OutOrStdout(), args[0])
		})
	},
}

var taskHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent changes recorded by the document store",
	Args:  cobra.NoArgs,
	RunE:  runTaskHistory,
}

var (
	listJSON     bool
	historyLimit int
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskDoneCmd, taskUndoneCmd, taskEditCmd, taskRmCmd, taskHistoryCmd)

	taskListCmd.Flags().BoolVar(&listJSON, "json", false, "Print tasks as JSON")
	taskHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of records to show")
}

// runWithController connects to the document store, waits for the first
// snapshot and runs fn.
func runWithController(cmd *cobra.Command, fn func(context.Context, *tasklist.Controller) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ensureDaemon(ctx, cfg.Server.Address); err != nil {
		return err
	}

	logger := newLogger("todomaster")
	store := taskstore.NewRemote(docstore.NewClient(cfg.Server.Address), taskstore.WithLogger(logger.Named("remote")))
	return withController(ctx, store, fn)
}

func withController(ctx context.Context, store taskstore.Store, fn func(context.Context, *tasklist.Controller) error) error {
	changes := make(chan struct{}, 1)
	c := tasklist.New(store, tasklist.WithOnChange(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}))
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	for c.IsLoading() {
		select {
		case <-changes:
		case <-ctx.Done():
			return fmt.Errorf("waiting for tasks: %w", ctx.Err())
		}
	}
	if c.LoadFailed() {
		return errors.New(tasklist.LoadFailedMessage)
	}
	return fn(ctx, c)
}

// failed converts the controller's user-visible error into a command error.
func failed(c *tasklist.Controller) error {
	if msg := c.LastError(); msg != "" {
		return errors.New(msg)
	}
	return nil
}

func taskAdd(ctx context.Context, c *tasklist.Controller, w io.Writer, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("task text is empty")
	}
	if err := c.Add(ctx, text); err != nil {
		return err
	}
	if err := failed(c); err != nil {
		return err
	}
	fmt.Fprintf(w, "Added: %s\n", strings.TrimSpace(text))
	return nil
}

func taskList(c *tasklist.Controller, w io.Writer, asJSON bool) error {
	v := c.Snapshot()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v.Tasks)
	}
	printTasks(w, v)
	return nil
}

func taskSetCompleted(ctx context.Context, c *tasklist.Controller, w io.Writer, ref string, completed bool) error {
	task, err := resolveTask(c.Tasks(), ref)
	if err != nil {
		return err
	}
	if task.Completed != completed {
		if err := c.ToggleCompleted(ctx, task.ID); err != nil {
			return err
		}
		if err := failed(c); err != nil {
			return err
		}
	}
	state := "not completed"
	if completed {
		state = "completed"
	}
	fmt.Fprintf(w, "Marked %s %s\n", truncateID(task.ID), state)
	return nil
}

func taskEdit(ctx context.Context, c *tasklist.Controller, w io.Writer, ref, text string) error {
	task, err := resolveTask(c.Tasks(), ref)
	if err != nil {
		return err
	}
	if task.Completed {
		return fmt.Errorf("task %s is completed and cannot be edited", truncateID(task.ID))
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("task text is empty")
	}

	c.BeginEdit(task.ID)
	c.UpdateDraft(text)
	if err := c.CommitEdit(ctx); err != nil {
		return err
	}
	if err := failed(c); err != nil {
		return err
	}
	fmt.Fprintf(w, "Updated %s: %s\n", truncateID(task.ID), strings.TrimSpace(text))
	return nil
}

func taskRemove(ctx context.Context, c *tasklist.Controller, w io.Writer, ref string) error {
	task, err := resolveTask(c.Tasks(), ref)
	if err != nil {
		return err
	}
	if err := c.Remove(ctx, task.ID); err != nil {
		return err
	}
	if err := failed(c); err != nil {
		return err
	}
	fmt.Fprintf(w, "Deleted %s\n", truncateID(task.ID))
	return nil
}

func runTaskHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ensureDaemon(ctx, cfg.Server.Address); err != nil {
		return err
	}
	recs, err := docstore.NewClient(cfg.Server.Address).Changes(ctx, historyLimit)
	if err != nil {
		return err
	}
	printChanges(cmd.OutOrStdout(), recs)
	return nil
}

// --- Helpers ---

// resolveTask finds a task by full id or unique id prefix.
func resolveTask(tasks []models.Task, ref string) (models.Task, error) {
	var matches []models.Task
	for _, t := range tasks {
		if t.ID == ref {
			return t, nil
		}
		if strings.HasPrefix(t.ID, ref) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return models.Task{}, fmt.Errorf("task %q not found", ref)
	case 1:
		return matches[0], nil
	default:
		return models.Task{}, fmt.Errorf("task id %q is ambiguous (%d matches)", ref, len(matches))
	}
}

func printTasks(w io.Writer, v tasklist.View) {
	if len(v.Tasks) == 0 {
		fmt.Fprintln(w, "No tasks yet!")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDONE\tTEXT")
	for _, t := range v.Tasks {
		done := ""
		if t.Completed {
			done = "x"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", truncateID(t.ID), done, truncate(t.Text, 60))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d of %d completed\n", v.CompletedCount, v.TotalCount)
}

func printChanges(w io.Writer, recs []models.ChangeRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No changes recorded")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tOUTCOME\tTASK")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Timestamp.Local().Format(time.DateTime), r.Action, r.Outcome, truncateID(r.TaskID))
	}
	tw.Flush()
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
