// Package store provides SQLite-backed persistence for the todomaster document store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/todomaster/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrEmptyText indicates a task text that is empty after trimming.
var ErrEmptyText = errors.New("task text is empty")

// ErrTaskNotFound indicates no task exists with the given id.
var ErrTaskNotFound = errors.New("task not found")

// Store provides access to the todomaster SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS changes (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		task_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
	CREATE INDEX IF NOT EXISTS idx_changes_task_id ON changes(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Task Operations ---

// TaskPatch holds a field-level update. Nil fields are left unchanged.
type TaskPatch struct {
	Text      *string
	Completed *bool
}

// CreateTask inserts a new task. A zero createdAt is replaced with the current time.
func (s *Store) CreateTask(text string, completed bool, createdAt time.Time) (*models.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	task := &models.Task{
		ID:        uuid.New().String(),
		Text:      text,
		Completed: completed,
		CreatedAt: createdAt.UTC().Truncate(time.Millisecond),
	}

	_, err := s.db.Exec(
		`INSERT INTO tasks (id, text, completed, created_at) VALUES (?, ?, ?, ?)`,
		task.ID, task.Text, task.Completed, task.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// GetTask retrieves a task by ID. It returns nil, nil when the task does not exist.
func (s *Store) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT id, text, completed, created_at FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks returns all tasks ordered by creation time, oldest first.
func (s *Store) ListTasks() ([]models.Task, error) {
	rows, err := s.db.Query(`SELECT id, text, completed, created_at FROM tasks ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// UpdateTask applies a field-level patch and returns the updated task.
func (s *Store) UpdateTask(id string, patch TaskPatch) (*models.Task, error) {
	var sets []string
	var args []interface{}

	if patch.Text != nil {
		text := strings.TrimSpace(*patch.Text)
		if text == "" {
			return nil, ErrEmptyText
		}
		sets = append(sets, "text = ?")
		args = append(args, text)
	}
	if patch.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, *patch.Completed)
	}

	if len(sets) > 0 {
		args = append(args, id)
		result, err := s.db.Exec(`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return nil, ErrTaskNotFound
		}
	}

	task, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// DeleteTask removes a task. It reports whether a row was deleted.
func (s *Store) DeleteTask(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var createdAt int64
	if err := row.Scan(&task.ID, &task.Text, &task.Completed, &createdAt); err != nil {
		return nil, err
	}
	task.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &task, nil
}

// --- Change Operations ---

// WriteChange writes an audit record.
func (s *Store) WriteChange(action, inputsHash, outcome, taskID, details string) (*models.ChangeRecord, error) {
	rec := &models.ChangeRecord{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO changes (id, action, inputs_hash, outcome, task_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Action, rec.InputsHash, rec.Outcome, rec.TaskID, rec.Details, rec.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert change: %w", err)
	}
	return rec, nil
}

// ListChanges returns the most recent audit records, newest first.
func (s *Store) ListChanges(limit int) ([]models.ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, task_id, details, timestamp FROM changes ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var recs []models.ChangeRecord
	for rows.Next() {
		var rec models.ChangeRecord
		var taskID, details sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.InputsHash, &rec.Outcome, &taskID, &details, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		rec.TaskID = taskID.String
		rec.Details = details.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
