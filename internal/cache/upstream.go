package cache

import (
	"sync"
	"time"
)

// Upstream 记录远端服务可用性，由健康检查循环写入，取数方读取。
type Upstream struct {
	mu        sync.RWMutex
	available bool
	changedAt time.Time
	listeners []func(available bool)
}

func NewUpstream() *Upstream {
	return &Upstream{available: true, changedAt: time.Now()}
}

func (u *Upstream) Available() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.available
}

func (u *Upstream) ChangedAt() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.changedAt
}

// Set 更新标记，状态翻转时同步回调监听者并返回 true。
func (u *Upstream) Set(available bool) bool {
	u.mu.Lock()
	if u.available == available {
		u.mu.Unlock()
		return false
	}
	u.available = available
	u.changedAt = time.Now()
	listeners := append(([]func(bool))(nil), u.listeners...)
	u.mu.Unlock()
	for _, fn := range listeners {
		fn(available)
	}
	return true
}

func (u *Upstream) OnChange(fn func(available bool)) {
	if fn == nil {
		return
	}
	u.mu.Lock()
	u.listeners = append(u.listeners, fn)
	u.mu.Unlock()
}
