package docstore

import (
	"time"

	"github.com/fentz26/todomaster/internal/models"
)

// Document is the wire form of a task. CreatedAt is in Unix milliseconds.
type Document struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	CreatedAt int64  `json:"createdAt"`
}

// CreateRequest is the body of POST /tasks. A nil CreatedAt is stamped by the server.
type CreateRequest struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	CreatedAt *int64 `json:"createdAt,omitempty"`
}

// PatchRequest is the body of PATCH /tasks/{id}. Nil fields are left unchanged.
type PatchRequest struct {
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func toDocument(t models.Task) Document {
	return Document{
		ID:        t.ID,
		Text:      t.Text,
		Completed: t.Completed,
		CreatedAt: t.CreatedAt.UnixMilli(),
	}
}

func toDocuments(tasks []models.Task) []Document {
	docs := make([]Document, len(tasks))
	for i, t := range tasks {
		docs[i] = toDocument(t)
	}
	return docs
}

func (d Document) task() models.Task {
	return models.Task{
		ID:        d.ID,
		Text:      d.Text,
		Completed: d.Completed,
		CreatedAt: time.UnixMilli(d.CreatedAt).UTC(),
	}
}

func tasksFrom(docs []Document) []models.Task {
	tasks := make([]models.Task, len(docs))
	for i, d := range docs {
		tasks[i] = d.task()
	}
	return tasks
}
