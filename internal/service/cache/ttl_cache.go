package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry struct {
	v   any
	exp time.Time
}

// TTLCache is an in-process map with per-entry expiry.
type TTLCache struct {
	mu    sync.RWMutex
	m     map[string]entry
	clock clockwork.Clock
}

func NewTTLCache() *TTLCache {
	return NewTTLCacheWithClock(clockwork.NewRealClock())
}

func NewTTLCacheWithClock(clock clockwork.Clock) *TTLCache {
	return &TTLCache{m: make(map[string]entry), clock: clock}
}

func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.expired(e, c.clock.Now()) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.v, true
}

func (c *TTLCache) Set(key string, v any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.clock.Now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = entry{v: v, exp: exp}
	c.mu.Unlock()
}

// SetIfAbsent stores v unless a live entry exists. It reports whether v was stored.
func (c *TTLCache) SetIfAbsent(key string, v any, ttl time.Duration) bool {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.m[key]; ok && !c.expired(e, now) {
		return false
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	c.m[key] = entry{v: v, exp: exp}
	return true
}

// Sweep removes expired entries and returns how many were dropped.
func (c *TTLCache) Sweep() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.m {
		if c.expired(e, now) {
			delete(c.m, k)
			n++
		}
	}
	return n
}

func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *TTLCache) expired(e entry, now time.Time) bool {
	return !e.exp.IsZero() && now.After(e.exp)
}
