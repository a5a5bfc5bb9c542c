package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type DurationStats struct {
	Skill   string  `json:"skill"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
}

type DurationSnapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	WindowSize  int             `json:"window_size"`
	Skills      []DurationStats `json:"skills"`
}

// DurationWindow keeps the most recent task durations of each skill in a
// fixed-size ring.
type DurationWindow struct {
	mu         sync.RWMutex
	maxSamples int
	skills     map[string]*durationBuffer
}

type durationBuffer struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func NewDurationWindow(maxSamples int) *DurationWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &DurationWindow{
		maxSamples: maxSamples,
		skills:     make(map[string]*durationBuffer),
	}
}

func (w *DurationWindow) Observe(skill string, d time.Duration) {
	skill = strings.TrimSpace(skill)
	if w == nil || skill == "" || d < 0 {
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, ok := w.skills[skill]
	if !ok {
		buf = &durationBuffer{values: make([]float64, w.maxSamples)}
		w.skills[skill] = buf
	}
	buf.values[buf.next] = ms
	buf.last = ms
	buf.next++
	if buf.next >= len(buf.values) {
		buf.next = 0
		buf.filled = true
	}
}

func (w *DurationWindow) Snapshot() DurationSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.skills))
	for skill := range w.skills {
		keys = append(keys, skill)
	}
	sort.Strings(keys)

	out := make([]DurationStats, 0, len(keys))
	for _, skill := range keys {
		buf := w.skills[skill]
		n := buf.next
		if buf.filled {
			n = len(buf.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, buf.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		out = append(out, DurationStats{
			Skill:   skill,
			Samples: n,
			LastMS:  round2(buf.last),
			AvgMS:   round2(sum / float64(n)),
			P50MS:   round2(quantile(samples, 0.50)),
			P95MS:   round2(quantile(samples, 0.95)),
			P99MS:   round2(quantile(samples, 0.99)),
		})
	}

	return DurationSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Skills:      out,
	}
}

func (w *DurationWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.skills = make(map[string]*durationBuffer)
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
