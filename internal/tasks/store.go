package tasks

import (
	"context"
	"errors"
	"time"
)

var ErrStoreNotFound = errors.New("task not found in store")

type Store interface {
	SaveTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	// ListTasksByRequester returns the newest tasks first.
	ListTasksByRequester(ctx context.Context, requesterID string, limit int) ([]Task, error)
	// ListRetiredTasks returns terminal, non-donated tasks last updated
	// before the cutoff.
	ListRetiredTasks(ctx context.Context, before time.Time) ([]Task, error)
	ListOpenTasks(ctx context.Context) ([]Task, error)
	CountTasksByStatus(ctx context.Context) (map[Status]int, error)
	Ping(ctx context.Context) error
}

func retired(t Task, before time.Time) bool {
	return t.Terminal() && !t.Donate && t.UpdatedAt.Before(before)
}
