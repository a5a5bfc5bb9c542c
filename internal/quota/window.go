// Package quota implements per-session rate windows and job-slot tracking.
package quota

import (
	"time"

	"github.com/UKPLab/CARE-broker/internal/clock"
)

// RateWindow is a sliding window over the last N accepted operations.
// It is not safe for concurrent use; Set serializes access.
type RateWindow struct {
	capacity int
	interval time.Duration
	clock    clock.Clock
	entries  []time.Time
}

func NewRateWindow(capacity int, interval time.Duration, clk clock.Clock) *RateWindow {
	if clk == nil {
		clk = clock.Real()
	}
	w := &RateWindow{
		capacity: capacity,
		interval: interval,
		clock:    clk,
	}
	if capacity > 0 {
		w.entries = make([]time.Time, 0, capacity)
	}
	return w
}

// Check reports whether the window is exceeded. When it is not and consume
// is set, the current time is recorded as an accepted operation.
// A non-positive capacity never exceeds.
func (w *RateWindow) Check(consume bool) bool {
	if w.capacity <= 0 {
		return false
	}
	now := w.clock.Now()
	if len(w.entries) >= w.capacity {
		if now.Sub(w.entries[0]) < w.interval {
			return true
		}
		w.entries = append(w.entries[:0], w.entries[1:]...)
	}
	if consume {
		w.entries = append(w.entries, now)
	}
	return false
}

func (w *RateWindow) Len() int { return len(w.entries) }

func (w *RateWindow) Capacity() int { return w.capacity }
