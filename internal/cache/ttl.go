// Package cache 提供按实体类型划分的 TTL 缓存，以及上游可用性标记。
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL 是带过期时间的并发安全 map。过期条目不会立即删除，
// 上游不可用时仍可通过 GetStale 读取。
type TTL[V any] struct {
	mu    sync.RWMutex
	data  map[string]entry[V]
	ttl   time.Duration
	nowFn func() time.Time
}

func NewTTL[V any](ttl time.Duration) *TTL[V] {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &TTL[V]{data: make(map[string]entry[V]), ttl: ttl, nowFn: time.Now}
}

// WithClock 替换时钟，测试用。
func (c *TTL[V]) WithClock(now func() time.Time) *TTL[V] {
	if now != nil {
		c.nowFn = now
	}
	return c
}

func (c *TTL[V]) TTL() time.Duration {
	return c.ttl
}

// Get 只返回未过期的条目，同时给出条目年龄。
func (c *TTL[V]) Get(key string) (V, time.Duration, bool) {
	return c.GetStale(key, c.ttl)
}

// GetStale 返回年龄不超过 maxAge 的条目（maxAge 可大于 TTL）。
func (c *TTL[V]) GetStale(key string, maxAge time.Duration) (V, time.Duration, bool) {
	var zero V
	if c == nil {
		return zero, 0, false
	}
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return zero, 0, false
	}
	age := c.nowFn().Sub(e.storedAt)
	if age < 0 {
		age = 0
	}
	if age >= maxAge {
		return zero, age, false
	}
	return e.value, age, true
}

func (c *TTL[V]) Set(key string, value V) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.data[key] = entry[V]{value: value, storedAt: c.nowFn()}
	c.mu.Unlock()
}

func (c *TTL[V]) Delete(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Purge 删除年龄超过 maxAge 的条目，返回删除数量。
func (c *TTL[V]) Purge(maxAge time.Duration) int {
	if c == nil {
		return 0
	}
	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.data {
		if now.Sub(e.storedAt) >= maxAge {
			delete(c.data, k)
			removed++
		}
	}
	return removed
}

func (c *TTL[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
