package mockserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterPool holds one token bucket per bearer token. Entries idle longer
// than ttl are dropped by sweep.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   float64
	burst int
	ttl   time.Duration
}

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return &limiterPool{m: make(map[string]*limiterEntry), rps: rps, burst: burst, ttl: 10 * time.Minute}
}

func (p *limiterPool) Allow(key string) bool {
	p.mu.Lock()
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.m[key] = e
	}
	e.lastSeen = time.Now()
	p.mu.Unlock()
	return e.l.Allow()
}

func (p *limiterPool) sweep(now time.Time) int {
	cutoff := now.Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
			n++
		}
	}
	return n
}
