package quota

import (
	"sync"
	"time"

	"github.com/UKPLab/CARE-broker/internal/clock"
)

type Kind string

const (
	KindRequests Kind = "requests"
	KindResults  Kind = "results"
)

// Limits are per-interval operation caps plus the concurrent job capacity.
// Zero disables the corresponding limit.
type Limits struct {
	Requests int `json:"requests" yaml:"requests"`
	Results  int `json:"results" yaml:"results"`
	Jobs     int `json:"jobs" yaml:"jobs"`
}

// Set is the quota state of one session.
type Set struct {
	mu       sync.Mutex
	interval time.Duration
	clock    clock.Clock
	limits   Limits
	requests *RateWindow
	results  *RateWindow
	jobs     *SlotTracker
}

func NewSet(limits Limits, interval time.Duration, clk clock.Clock) *Set {
	if interval <= 0 {
		interval = time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	s := &Set{interval: interval, clock: clk, jobs: NewSlotTracker(limits.Jobs)}
	s.applyLocked(limits)
	return s
}

func (s *Set) applyLocked(limits Limits) {
	s.limits = limits
	s.requests = NewRateWindow(limits.Requests, s.interval, s.clock)
	s.results = NewRateWindow(limits.Results, s.interval, s.clock)
}

// Resize applies new limits while keeping the held job slots, so running
// tasks still count against the new capacity. Rate windows start empty.
func (s *Set) Resize(limits Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(limits)
	s.jobs.Resize(limits.Jobs)
}

func (s *Set) Limits() Limits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits
}

// Check reports whether the window for kind is exceeded.
func (s *Set) Check(kind Kind, consume bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case KindResults:
		return s.results.Check(consume)
	default:
		return s.requests.Check(consume)
	}
}

func (s *Set) ReserveJob(reservationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Reserve(reservationID)
}

func (s *Set) CommitJob(reservationID, taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Commit(reservationID, taskID)
}

func (s *Set) ReleaseJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Release(id)
}

func (s *Set) JobsInUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Used()
}
