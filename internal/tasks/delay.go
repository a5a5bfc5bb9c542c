package tasks

import (
	"sync"
	"time"

	"github.com/UKPLab/CARE-broker/internal/clock"
)

// DelayQueue runs deferred work keyed by task id. Each scheduled function
// runs at most once and can be cancelled until it fires.
type DelayQueue struct {
	mu      sync.Mutex
	clock   clock.Clock
	pending map[string]*delayed
}

type delayed struct {
	timer clock.Timer
}

func NewDelayQueue(clk clock.Clock) *DelayQueue {
	if clk == nil {
		clk = clock.Real()
	}
	return &DelayQueue{clock: clk, pending: make(map[string]*delayed)}
}

// Schedule runs fn after d, replacing anything already pending for id. A
// non-positive delay runs fn before Schedule returns.
func (q *DelayQueue) Schedule(id string, d time.Duration, fn func()) {
	q.Cancel(id)
	if d <= 0 {
		fn()
		return
	}
	entry := &delayed{}
	q.mu.Lock()
	q.pending[id] = entry
	entry.timer = q.clock.AfterFunc(d, func() {
		q.mu.Lock()
		current, ok := q.pending[id]
		if !ok || current != entry {
			q.mu.Unlock()
			return
		}
		delete(q.pending, id)
		q.mu.Unlock()
		fn()
	})
	q.mu.Unlock()
}

// Cancel drops the pending work for id and reports whether there was any.
func (q *DelayQueue) Cancel(id string) bool {
	q.mu.Lock()
	entry, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	if ok && entry.timer != nil {
		entry.timer.Stop()
	}
	return ok
}

func (q *DelayQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop cancels everything pending.
func (q *DelayQueue) Stop() {
	q.mu.Lock()
	entries := q.pending
	q.pending = make(map[string]*delayed)
	q.mu.Unlock()
	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
}
