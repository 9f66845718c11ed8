package executor

import (
	"context"
	"sync"
	"time"

	"qmtrader/internal/pkg/money"
	"qmtrader/internal/store"
	"qmtrader/internal/strategy"
)

// Next 计算一次成交后的状态。零成交不改变状态；累计成交达到目标即完成。
func Next(cur strategy.ExecutionStatus, filledBefore, fill, target int64) strategy.ExecutionStatus {
	if fill <= 0 {
		return cur
	}
	if filledBefore+fill >= target {
		return strategy.StatusCompleted
	}
	return strategy.StatusPartial
}

// Reopen 已完成策略的仓位比例被调高时，按比例放大目标并回到 partial。
// 新目标不超过已成交量时返回 false。
func Reopen(p store.Progress, newRatio float64, lot int64) (store.Progress, bool) {
	if p.Status != string(strategy.StatusCompleted) || p.LastRatio <= 0 || !money.GT(newRatio, p.LastRatio) {
		return p, false
	}
	scaled := money.Dec(float64(p.Target)).Mul(money.Dec(newRatio)).Div(money.Dec(p.LastRatio)).Floor().IntPart()
	target := money.FloorToStep(scaled, lot)
	if target <= p.Filled {
		return p, false
	}
	p.Target = target
	p.LastRatio = newRatio
	p.Status = string(strategy.StatusPartial)
	return p, true
}

// ProgressStore 是 Tracker 的持久化后端。
type ProgressStore interface {
	ListProgress(ctx context.Context) ([]store.Progress, error)
	SaveProgress(ctx context.Context, p store.Progress) error
}

// Tracker 缓存各策略的执行进度，写穿到 SQLite。
type Tracker struct {
	mu    sync.RWMutex
	store ProgressStore
	items map[int64]store.Progress
	lot   int64
}

func NewTracker(ctx context.Context, ps ProgressStore, lot int64) (*Tracker, error) {
	t := &Tracker{store: ps, items: make(map[int64]store.Progress), lot: lot}
	if ps == nil {
		return t, nil
	}
	list, err := ps.ListProgress(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		t.items[p.StrategyID] = p
	}
	return t, nil
}

func (t *Tracker) Get(id int64) (store.Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.items[id]
	return p, ok
}

func (t *Tracker) Save(ctx context.Context, p store.Progress) error {
	p.UpdatedAt = time.Now()
	t.mu.Lock()
	t.items[p.StrategyID] = p
	t.mu.Unlock()
	if t.store == nil {
		return nil
	}
	return t.store.SaveProgress(ctx, p)
}

// Reopened 满足 strategy.ReopenChecker。
func (t *Tracker) Reopened(s strategy.Strategy) bool {
	if !s.IsActive {
		return false
	}
	p, ok := t.Get(s.ID)
	if !ok {
		return false
	}
	_, ok = Reopen(p, s.PositionRatio, t.lot)
	return ok
}

// Completed 本地已完成且未重开。
func (t *Tracker) Completed(s strategy.Strategy) bool {
	p, ok := t.Get(s.ID)
	if !ok || p.Status != string(strategy.StatusCompleted) {
		return false
	}
	return !t.Reopened(s)
}
