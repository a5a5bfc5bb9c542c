package tasks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps task records in process. It is the default backend.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

func (s *MemoryStore) SaveTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrStoreNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

func (s *MemoryStore) ListTasksByRequester(_ context.Context, requesterID string, limit int) ([]Task, error) {
	s.mu.RLock()
	out := make([]Task, 0)
	for _, task := range s.tasks {
		if task.RequesterID == requesterID {
			out = append(out, task.Clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListRetiredTasks(_ context.Context, before time.Time) ([]Task, error) {
	return s.filter(func(t Task) bool { return retired(t, before) }), nil
}

func (s *MemoryStore) ListOpenTasks(_ context.Context) ([]Task, error) {
	return s.filter(func(t Task) bool { return !t.Terminal() }), nil
}

func (s *MemoryStore) CountTasksByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Status]int)
	for _, task := range s.tasks {
		out[task.Status]++
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) filter(keep func(Task) bool) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, task := range s.tasks {
		if keep(task) {
			out = append(out, task.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

func sortNewestFirst(list []Task) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
