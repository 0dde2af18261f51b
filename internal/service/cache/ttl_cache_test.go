package cache

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewTTLCacheWithClock(clock)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok, "zero ttl never expires")
}

func TestTTLCacheSetIfAbsent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewTTLCacheWithClock(clock)

	assert.True(t, c.SetIfAbsent("7", struct{}{}, time.Minute))
	assert.False(t, c.SetIfAbsent("7", struct{}{}, time.Minute))

	clock.Advance(time.Minute + time.Second)
	assert.True(t, c.SetIfAbsent("7", struct{}{}, time.Minute))
}

func TestTTLCacheSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewTTLCacheWithClock(clock)

	c.Set("a", 1, time.Second)
	c.Set("b", 1, time.Hour)
	clock.Advance(time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}
