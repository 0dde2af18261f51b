package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

// Limiter is a per-key token bucket.
type Limiter struct {
	mu    sync.Mutex
	m     map[string]*bucket
	clock clockwork.Clock
}

func New() *Limiter { return NewWithClock(clockwork.NewRealClock()) }

func NewWithClock(clock clockwork.Clock) *Limiter {
	return &Limiter{m: make(map[string]*bucket), clock: clock}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: now}
		l.m[key] = b
	}
	// refill
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Prune drops buckets that have been idle long enough to be full again.
func (l *Limiter) Prune() int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, b := range l.m {
		if b.refillRate <= 0 {
			continue
		}
		full := time.Duration((b.capacity - b.tokens) / b.refillRate * float64(time.Second))
		if now.Sub(b.last) >= full {
			delete(l.m, k)
			n++
		}
	}
	return n
}
