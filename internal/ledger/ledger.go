// Package ledger 持有现金与持仓，是唯一的修改者。
// 所有写操作经由 mailbox 串行处理，读操作走原子快照。
package ledger

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"qmtrader/internal/logger"
)

var log = logger.With("ledger")

type command struct {
	name  string
	apply func(cur State) (State, bool, error) // bool: 是否需要落盘
	reply chan result
}

type result struct {
	state State
	err   error
}

type Ledger struct {
	store Store

	msgCh    chan command
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	state    State // 仅 runLoop 访问
	snapshot atomic.Value
	nowFn    func() time.Time
}

// Open 从 store 恢复账户；文件不存在时以 initialCash 建账并立即落盘。
func Open(store Store, initialCash float64) (*Ledger, error) {
	l := &Ledger{
		store:  store,
		msgCh:  make(chan command, 64),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		nowFn:  time.Now,
	}
	st, ok, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("ledger load: %w", err)
	}
	if !ok {
		st = NewState(initialCash, l.nowFn())
		if err := store.Save(st); err != nil {
			return nil, l.persistErr(err)
		}
		log.Infof("新建账户，初始资金 %.2f", initialCash)
	}
	st.recompute()
	l.state = st
	l.snapshot.Store(st.Clone())
	return l, nil
}

func (l *Ledger) persistErr(err error) error {
	path := ""
	if fs, ok := l.store.(*FileStore); ok {
		path = fs.Path()
	}
	return &PersistenceError{Path: path, Err: err}
}

func (l *Ledger) Start() {
	l.wg.Add(1)
	go l.runLoop()
}

func (l *Ledger) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

func (l *Ledger) runLoop() {
	defer l.wg.Done()
	defer close(l.doneCh)
	log.Infof("ledger actor started")
	for {
		select {
		case cmd := <-l.msgCh:
			l.handle(cmd)
		case <-l.stopCh:
			// 排空已入队的命令，避免调用方悬挂
			for {
				select {
				case cmd := <-l.msgCh:
					l.handle(cmd)
				default:
					log.Infof("ledger actor stopped")
					return
				}
			}
		}
	}
}

func (l *Ledger) handle(cmd command) {
	var res result
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic handling %s: %v\n%s", cmd.name, r, debug.Stack())
			res = result{state: l.state.Clone(), err: fmt.Errorf("panic: %v", r)}
		}
		cmd.reply <- res
		close(cmd.reply)
		if dur := time.Since(start); dur > 200*time.Millisecond {
			log.Warnf("slow ledger command %s took %v", cmd.name, dur)
		}
	}()

	next, persist, err := cmd.apply(l.state.Clone())
	if err != nil {
		res = result{state: l.state.Clone(), err: err}
		return
	}
	if persist {
		if err := l.store.Save(next); err != nil {
			res = result{state: l.state.Clone(), err: l.persistErr(err)}
			return
		}
	}
	l.state = next
	l.snapshot.Store(next.Clone())
	res = result{state: next.Clone()}
}

func (l *Ledger) send(ctx context.Context, name string, fn func(State) (State, bool, error)) (State, error) {
	cmd := command{name: name, apply: fn, reply: make(chan result, 1)}
	select {
	case l.msgCh <- cmd:
	case <-l.stopCh:
		return l.Snapshot(), ErrStopped
	case <-ctx.Done():
		return l.Snapshot(), ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.state, res.err
	case <-l.doneCh:
		// 退出前的排空可能已处理该命令
		select {
		case res := <-cmd.reply:
			return res.state, res.err
		default:
			return l.Snapshot(), ErrStopped
		}
	}
}

// Snapshot 返回最近一次提交的状态副本。
func (l *Ledger) Snapshot() State {
	v := l.snapshot.Load()
	if v == nil {
		return NewState(0, time.Time{})
	}
	return v.(State).Clone()
}

// ApplyFill 现金与持仓一起更新并落盘；落盘失败时内存状态不变。
func (l *Ledger) ApplyFill(ctx context.Context, f Fill) (State, error) {
	if f.At.IsZero() {
		f.At = l.nowFn()
	}
	return l.send(ctx, "apply_fill", func(cur State) (State, bool, error) {
		next, err := applyFill(cur, f)
		return next, err == nil, err
	})
}

// MarkPrices 用最新价重估 total_assets 并落盘。
func (l *Ledger) MarkPrices(ctx context.Context, prices map[string]float64) (State, error) {
	now := l.nowFn()
	return l.send(ctx, "mark_prices", func(cur State) (State, bool, error) {
		return markPrices(cur, prices, now), true, nil
	})
}

// Persist 重算 total_assets 后重写账户文件。
func (l *Ledger) Persist(ctx context.Context) error {
	now := l.nowFn()
	_, err := l.send(ctx, "persist", func(cur State) (State, bool, error) {
		cur.LastUpdated = now
		cur.recompute()
		return cur, true, nil
	})
	return err
}
