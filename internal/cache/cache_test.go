package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLFreshAndStale(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	c := NewTTL[int](30 * time.Second).WithClock(func() time.Time { return now })
	c.Set("k", 7)

	v, age, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, time.Duration(0), age)

	now = now.Add(45 * time.Second)
	_, age, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 45*time.Second, age)

	v, _, ok = c.GetStale("k", 5*c.TTL())
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	now = now.Add(2 * time.Minute)
	_, _, ok = c.GetStale("k", 5*c.TTL())
	assert.False(t, ok)

	assert.Equal(t, 1, c.Purge(time.Minute))
	assert.Equal(t, 0, c.Len())
}

func TestTTLMissingKey(t *testing.T) {
	c := NewTTL[string](time.Second)
	_, _, ok := c.Get("nope")
	assert.False(t, ok)
	c.Set("a", "b")
	c.Delete("a")
	_, _, ok = c.GetStale("a", time.Hour)
	assert.False(t, ok)
}

func TestUpstreamFlip(t *testing.T) {
	u := NewUpstream()
	assert.True(t, u.Available())

	var seen []bool
	u.OnChange(func(v bool) { seen = append(seen, v) })

	assert.True(t, u.Set(false))
	assert.False(t, u.Set(false))
	assert.True(t, u.Set(true))
	assert.Equal(t, []bool{false, true}, seen)
}
