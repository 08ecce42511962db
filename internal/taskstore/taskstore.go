// Package taskstore defines where tasks live and how mutations are applied.
//
// Two implementations share the Store contract: Memory keeps the list in process
// and applies mutations synchronously, Remote forwards every mutation to a
// document store Backend and learns the resulting list only through its
// subscription. Callers observe both the same way: a snapshot of the full,
// createdAt-ordered list is delivered after every change.
package taskstore

import (
	"context"
	"strings"

	"github.com/fentz26/todomaster/internal/models"
)

// SnapshotFunc receives the complete ordered task list. Each call replaces the
// previous one. Callbacks run without store locks held and may call back into
// the store, including Subscription.Close.
type SnapshotFunc func(tasks []models.Task)

// ErrorFunc receives a terminal subscription failure wrapping ErrLoadFailed.
type ErrorFunc func(err error)

// Subscription is a live registration on a Store. Close is idempotent and no
// callback starts after it returns.
type Subscription interface {
	Close()
}

// Store is the task list mutation contract.
//
// Empty or whitespace-only text is rejected silently: Add and SetText return
// nil without changing anything. Remove, SetCompleted and SetText on an
// unknown id are no-ops.
type Store interface {
	Add(ctx context.Context, text string) error
	Remove(ctx context.Context, id string) error
	SetCompleted(ctx context.Context, id string, completed bool) error
	SetText(ctx context.Context, id, text string) error

	// Subscribe registers callbacks for snapshots and for a terminal failure.
	// ctx bounds the lifetime of the subscription.
	Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error)
}

// NormalizeText trims text and reports ErrValidationFailed when nothing is left.
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrValidationFailed
	}
	return text, nil
}
