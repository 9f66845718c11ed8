// Package circuit 为单个远端地址提供熔断：连续失败后暂时跳过，冷却结束只放行一个试探请求。
package circuit

import (
	"sync"
	"time"

	"qmtrader/internal/logger"
)

var log = logger.With("circuit")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Breaker 的 threshold <= 0 表示关闭熔断。
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openUntil time.Time
	probing   bool
	probeAt   time.Time
}

func New(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, now: time.Now, state: StateClosed}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow 报告本次请求能否发出。half-open 期间只有第一个调用者拿到试探机会。
func (b *Breaker) Allow() bool {
	if b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Before(b.openUntil) {
			return false
		}
		b.moveTo(StateHalfOpen)
		b.startProbe()
		return true
	case StateHalfOpen:
		// 试探请求可能因 ctx 取消而没有回报结果，超过冷却期后另发一个
		if b.probing && b.now().Sub(b.probeAt) < b.cooldown {
			return false
		}
		b.startProbe()
		return true
	}
	return true
}

func (b *Breaker) startProbe() {
	b.probing = true
	b.probeAt = b.now()
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.moveTo(StateClosed)
	}
}

func (b *Breaker) Failure() {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
		if b.state != StateOpen {
			b.moveTo(StateOpen)
		}
	}
}

func (b *Breaker) moveTo(to State) {
	log.Warnf("%s: %s -> %s (failures=%d/%d, cooldown=%s)", b.name, b.state, to, b.failures, b.threshold, b.cooldown)
	b.state = to
}
