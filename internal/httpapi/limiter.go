package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// connectLimiter throttles websocket handshakes per client IP. A
// non-positive rate disables it.
type connectLimiter struct {
	rps   float64
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newConnectLimiter(rps float64, burst int) *connectLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &connectLimiter{
		rps:      rps,
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

func (l *connectLimiter) allow(ip string, now time.Time) bool {
	if l.rps <= 0 {
		return true
	}
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

func (l *connectLimiter) prune(now time.Time, idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > idle {
			delete(l.visitors, ip)
			n++
		}
	}
	return n
}
