package tasks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	persistTimeout = 2 * time.Second
	maxPending     = 4096
)

// writer persists task snapshots off the handling path. Snapshots of the
// same task queued before the previous one was written collapse into the
// newest, so tasks are saved in first-queued order with their latest state.
// Queueing never blocks; past maxPending distinct tasks, new ones are
// dropped with a warning.
type writer struct {
	store  Store
	logger *zap.Logger

	mu      sync.Mutex
	closed  bool
	pending map[string]Task
	order   []string
	flushes []chan struct{}
	dropped int

	wake chan struct{}
	done chan struct{}
}

func newWriter(store Store, logger *zap.Logger) *writer {
	w := &writer{
		store:   store,
		logger:  logger,
		pending: make(map[string]Task),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		batch := make([]Task, 0, len(w.order))
		for _, id := range w.order {
			batch = append(batch, w.pending[id])
		}
		clear(w.pending)
		w.order = w.order[:0]
		flushes := w.flushes
		w.flushes = nil
		closed := w.closed
		w.mu.Unlock()

		for _, task := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := w.store.SaveTask(ctx, task); err != nil {
				w.logger.Warn("persist task failed", zap.String("task_id", task.ID), zap.Error(err))
			}
			cancel()
		}
		for _, f := range flushes {
			close(f)
		}
		if len(batch) > 0 || len(flushes) > 0 {
			continue
		}
		if closed {
			return
		}
		<-w.wake
	}
}

func (w *writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) enqueue(task Task) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if _, queued := w.pending[task.ID]; !queued {
		if len(w.order) >= maxPending {
			w.dropped++
			dropped := w.dropped
			w.mu.Unlock()
			w.logger.Warn("task write queue full, snapshot dropped",
				zap.String("task_id", task.ID),
				zap.Int("dropped_total", dropped),
			)
			return
		}
		w.order = append(w.order, task.ID)
	}
	w.pending[task.ID] = task
	w.mu.Unlock()
	w.signal()
}

// droppedCount returns how many snapshots were dropped on a full queue.
func (w *writer) droppedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// flush waits until everything queued so far has been written.
func (w *writer) flush() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	done := make(chan struct{})
	w.flushes = append(w.flushes, done)
	w.mu.Unlock()
	w.signal()
	<-done
}

func (w *writer) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.signal()
	<-w.done
}
