package executor

import (
	"context"
	"sync"
)

// FillCounter 返回某标的某交易日已成交次数。
type FillCounter interface {
	CountFills(ctx context.Context, stockCode, tradingDay string) (int, error)
}

// FrequencyLimiter 限制单标的单日成交次数；limit<=0 不限。
// 首次访问某 (标的, 交易日) 时从存储加载计数，之后在内存累加。
type FrequencyLimiter struct {
	mu      sync.Mutex
	limit   int
	counter FillCounter
	counts  map[string]int
}

func NewFrequencyLimiter(limit int, counter FillCounter) *FrequencyLimiter {
	return &FrequencyLimiter{limit: limit, counter: counter, counts: make(map[string]int)}
}

func (l *FrequencyLimiter) SetLimit(limit int) {
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
}

func (l *FrequencyLimiter) key(code, day string) string {
	return day + "|" + code
}

func (l *FrequencyLimiter) load(ctx context.Context, code, day string) (int, error) {
	k := l.key(code, day)
	if n, ok := l.counts[k]; ok {
		return n, nil
	}
	n := 0
	if l.counter != nil {
		var err error
		if n, err = l.counter.CountFills(ctx, code, day); err != nil {
			return 0, err
		}
	}
	l.counts[k] = n
	return n, nil
}

// Allow 读取计数失败时放行。
func (l *FrequencyLimiter) Allow(ctx context.Context, code, day string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit <= 0 {
		return true
	}
	n, err := l.load(ctx, code, day)
	if err != nil {
		log.Warnf("load fill count for %s failed: %v", code, err)
		return true
	}
	return n < l.limit
}

func (l *FrequencyLimiter) Record(ctx context.Context, code, day string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, err := l.load(ctx, code, day)
	if err != nil {
		n = 0
	}
	l.counts[l.key(code, day)] = n + 1
}
