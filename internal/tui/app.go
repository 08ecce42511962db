// Package tui provides the interactive terminal UI for todomaster.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/go-hclog"

	"github.com/fentz26/todomaster/internal/models"
	"github.com/fentz26/todomaster/internal/tasklist"
	"github.com/fentz26/todomaster/internal/taskstore"
)

// writeTimeout bounds a single store write issued from the UI.
const writeTimeout = 15 * time.Second

// StoreFactory builds the store behind a fresh controller. It is called
// again when the user retries after a load failure.
type StoreFactory func() (taskstore.Store, error)

type focus int

const (
	focusInput focus = iota
	focusList
)

// App is the main TUI application model.
type App struct {
	newStore   StoreFactory
	logger     hclog.Logger
	controller *tasklist.Controller
	changes    chan struct{}

	view     tasklist.View
	startErr error

	input    textinput.Model
	edit     textinput.Model
	spinner  spinner.Model
	focus    focus
	selected int
	width    int
	height   int
}

// New creates a new TUI application and starts its controller.
func New(newStore StoreFactory, logger hclog.Logger) *App {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	ti := textinput.New()
	ti.Placeholder = "What needs to be done?"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 60

	ed := textinput.New()
	ed.CharLimit = 256
	ed.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = counterStyle

	a := &App{
		newStore: newStore,
		logger:   logger,
		changes:  make(chan struct{}, 1),
		input:    ti,
		edit:     ed,
		spinner:  sp,
	}
	a.startController()
	return a
}

// Run starts the TUI application.
func (a *App) Run() error {
	defer a.Close()
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Close releases the controller's subscription.
func (a *App) Close() {
	if a.controller != nil {
		a.controller.Close()
	}
}

func (a *App) startController() {
	a.Close()
	a.controller = nil
	a.startErr = nil

	store, err := a.newStore()
	if err != nil {
		a.logger.Error("failed to create task store", "error", err)
		a.startErr = err
		a.view = tasklist.View{LoadFailed: true, LastError: tasklist.LoadFailedMessage}
		return
	}

	a.controller = tasklist.New(store,
		tasklist.WithLogger(a.logger.Named("tasklist")),
		tasklist.WithOnChange(a.notify),
	)
	a.controller.SetInput(a.input.Value())
	if err := a.controller.Start(context.Background()); err != nil {
		a.logger.Error("failed to start controller", "error", err)
	}
	a.refresh()
}

// notify coalesces controller changes into at most one pending wake-up.
func (a *App) notify() {
	select {
	case a.changes <- struct{}{}:
	default:
	}
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.spinner.Tick,
		a.waitForChange(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			a.Close()
			return a, tea.Quit
		}
		cmd, handled := a.handleKey(msg)
		if handled {
			a.refresh()
			return a, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = max(10, msg.Width-6)
		a.edit.Width = max(10, msg.Width-10)

	case changedMsg:
		cmds = append(cmds, a.waitForChange())

	case writeDoneMsg:
		if msg.err != nil {
			a.logger.Warn("write did not complete", "op", msg.op, "error", msg.err)
		}

	case spinner.TickMsg:
		if a.view.Loading {
			var cmd tea.Cmd
			a.spinner, cmd = a.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
		a.refresh()
		return a, tea.Batch(cmds...)
	}

	// Update whichever text field has focus
	var cmd tea.Cmd
	if a.view.Editing != nil {
		a.edit, cmd = a.edit.Update(msg)
		if a.controller != nil && a.edit.Value() != a.view.Editing.Draft {
			a.controller.UpdateDraft(a.edit.Value())
		}
	} else {
		a.input, cmd = a.input.Update(msg)
		if a.controller != nil && a.input.Value() != a.view.Input {
			a.controller.SetInput(a.input.Value())
		}
	}
	cmds = append(cmds, cmd)

	a.refresh()
	return a, tea.Batch(cmds...)
}

// handleKey runs key bindings. It reports false for keys that belong to the
// focused text field.
func (a *App) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if a.controller == nil || a.view.LoadFailed {
		if msg.String() == "r" {
			a.startController()
			return a.spinner.Tick, true
		}
		return nil, msg.Type != tea.KeyRunes
	}

	if a.view.Editing != nil {
		switch msg.String() {
		case "enter":
			a.controller.UpdateDraft(a.edit.Value())
			return a.write("edit", a.controller.CommitEdit), true
		case "esc":
			a.controller.CancelEdit()
			return nil, true
		}
		return nil, false
	}

	if a.focus == focusInput {
		switch msg.String() {
		case "enter":
			a.controller.SetInput(a.input.Value())
			if !a.controller.Snapshot().CanAdd() {
				return nil, true
			}
			return a.write("add", a.controller.Submit), true
		case "tab", "down":
			a.setFocus(focusList)
			return nil, true
		case "esc":
			a.controller.DismissError()
			return nil, true
		}
		return nil, false
	}

	task, ok := a.selectedTask()
	switch msg.String() {
	case "tab", "i":
		a.setFocus(focusInput)
	case "up", "k":
		if a.selected > 0 {
			a.selected--
		} else {
			a.setFocus(focusInput)
		}
	case "down", "j":
		if a.selected < len(a.view.Tasks)-1 {
			a.selected++
		}
	case " ", "x", "enter":
		if ok {
			id := task.ID
			return a.write("toggle", func(ctx context.Context) error {
				return a.controller.ToggleCompleted(ctx, id)
			}), true
		}
	case "e":
		if ok {
			a.controller.BeginEdit(task.ID)
			a.edit.SetValue(task.Text)
			a.edit.CursorEnd()
			a.edit.Focus()
		}
	case "d", "delete", "backspace":
		if ok {
			id := task.ID
			return a.write("remove", func(ctx context.Context) error {
				return a.controller.Remove(ctx, id)
			}), true
		}
	case "esc":
		a.controller.DismissError()
	}
	return nil, true
}

func (a *App) setFocus(f focus) {
	a.focus = f
	if f == focusInput {
		a.input.Focus()
	} else {
		a.input.Blur()
	}
}

func (a *App) selectedTask() (models.Task, bool) {
	if a.selected < 0 || a.selected >= len(a.view.Tasks) {
		return models.Task{}, false
	}
	return a.view.Tasks[a.selected], true
}

// refresh re-reads the controller and reconciles the text fields with it.
func (a *App) refresh() {
	if a.controller == nil {
		return
	}
	a.view = a.controller.Snapshot()

	if a.selected >= len(a.view.Tasks) {
		a.selected = max(0, len(a.view.Tasks)-1)
	}
	// Cleared by a confirmed add.
	if a.view.Input != a.input.Value() {
		a.input.SetValue(a.view.Input)
	}
	if a.view.Editing == nil && a.edit.Focused() {
		a.edit.Blur()
		a.edit.SetValue("")
	}
}

// write runs op off the UI goroutine.
func (a *App) write(name string, op func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		return writeDoneMsg{op: name, err: op(ctx)}
	}
}

// waitForChange blocks until the controller reports a change.
func (a *App) waitForChange() tea.Cmd {
	changes := a.changes
	return func() tea.Msg {
		<-changes
		return changedMsg{}
	}
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	header := titleStyle.Render("📝 todomaster")
	if !a.view.Loading && !a.view.LoadFailed {
		header += "  " + counterStyle.Render(fmt.Sprintf("%d of %d completed", a.view.CompletedCount, a.view.TotalCount))
	}
	b.WriteString(header + "\n\n")

	box := inputBoxStyle
	if a.focus != focusInput || a.view.Editing != nil {
		box = blurredInputBoxStyle
	}
	b.WriteString(box.Render(a.input.View()))
	b.WriteString("\n")

	b.WriteString(a.renderTasks())

	if a.view.LastError != "" {
		b.WriteString("\n" + errorStyle.Render(a.view.LastError))
		if a.view.LoadFailed {
			b.WriteString(" " + helpStyle.Render("Press r to retry."))
		}
	}
	b.WriteString("\n\n")

	b.WriteString(statusBarStyle.Width(a.width).Render(a.statusLine()))
	return b.String()
}

func (a *App) renderTasks() string {
	switch {
	case a.view.LoadFailed:
		return ""
	case a.view.Loading:
		return "\n  " + a.spinner.View() + " Loading tasks...\n"
	case len(a.view.Tasks) == 0:
		return "\n  " + helpStyle.Render("No tasks yet! Add one above.") + "\n"
	}

	var lines []string
	for i, task := range a.view.Tasks {
		if a.view.IsEditing(task.ID) {
			lines = append(lines, taskItemStyle.Render("✎ "+a.edit.View()))
			continue
		}

		check := "[ ]"
		text := task.Text
		if task.Completed {
			check = "[x]"
			text = completedStyle.Render(text)
		}

		if a.focus == focusList && i == a.selected {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %s %s", check, task.Text)))
		} else {
			lines = append(lines, taskItemStyle.Render(fmt.Sprintf("  %s %s", check, text)))
		}
	}
	return "\n" + strings.Join(lines, "\n") + "\n"
}

func (a *App) statusLine() string {
	switch {
	case a.view.LoadFailed:
		return " r:retry | Ctrl+C:quit"
	case a.view.Editing != nil:
		return " Enter:save | Esc:cancel | Ctrl+C:quit"
	case a.focus == focusList:
		return " ↑↓:nav | Space:toggle | e:edit | d:delete | Tab:input | Ctrl+C:quit"
	case !a.view.CanAdd():
		return " Type a task | Tab:list | Ctrl+C:quit"
	default:
		return " Enter:add | Tab:list | Ctrl+C:quit"
	}
}

type changedMsg struct{}

type writeDoneMsg struct {
	op  string
	err error
}
