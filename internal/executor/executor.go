// Package executor 模拟下单：校验参数、定量、模拟成交，并在返回成功前提交账本。
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"qmtrader/internal/ledger"
	"qmtrader/internal/logger"
	"qmtrader/internal/pkg/money"
	"qmtrader/internal/sizing"
	"qmtrader/internal/store"
	"qmtrader/internal/strategy"
)

var log = logger.With("executor")

// Ledger 是执行器需要的账本能力。
type Ledger interface {
	Snapshot() ledger.State
	ApplyFill(ctx context.Context, f ledger.Fill) (ledger.State, error)
}

// TradingDayFunc 返回 t 所属交易日（YYYY-MM-DD）。
type TradingDayFunc func(t time.Time) string

type Order struct {
	Strategy strategy.Strategy
	Decision strategy.Decision
}

func (o Order) StockCode() string { return o.Strategy.StockCode }
func (o Order) PriceMin() float64 { return o.Strategy.PriceMin }
func (o Order) PriceMax() float64 { return o.Strategy.PriceMax }
func (o Order) PositionRatio() float64 { return o.Strategy.PositionRatio }

type Result struct {
	StrategyID int64                    `json:"strategy_id"`
	StockCode  string                   `json:"stock_code"`
	Side       strategy.Action          `json:"side"`
	Outcome    Outcome                  `json:"outcome"`
	Requested  int64                    `json:"requested"`
	Filled     int64                    `json:"filled"`
	Price      float64                  `json:"price"`
	Fees       sizing.Fees              `json:"fees"`
	Status     strategy.ExecutionStatus `json:"status"`
	Deactivate bool                     `json:"deactivate,omitempty"`
	Remarks    string                   `json:"remarks"`
	At         time.Time                `json:"at"`
	TradingDay string                   `json:"trading_day"`
	Err        error                    `json:"-"`
}

// StatusChanged 成交导致生命周期状态变化。
func (r Result) StatusChanged(prev strategy.ExecutionStatus) bool {
	return r.Filled > 0 && r.Status != prev
}

type Executor struct {
	ledger     Ledger
	sizer      *sizing.Sizer
	fills      FillModel
	tracker    *Tracker
	limiter    *FrequencyLimiter
	tradingDay TradingDayFunc
	nowFn      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.nowFn = now
		}
	}
}

func WithTradingDay(fn TradingDayFunc) Option {
	return func(e *Executor) {
		if fn != nil {
			e.tradingDay = fn
		}
	}
}

func New(l Ledger, sizer *sizing.Sizer, fills FillModel, tracker *Tracker, limiter *FrequencyLimiter, opts ...Option) *Executor {
	if limiter == nil {
		limiter = NewFrequencyLimiter(0, nil)
	}
	e := &Executor{
		ledger:     l,
		sizer:      sizer,
		fills:      fills,
		tracker:    tracker,
		limiter:    limiter,
		tradingDay: func(t time.Time) string { return t.Format("2006-01-02") },
		nowFn:      time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Tracker() *Tracker { return e.tracker }
func (e *Executor) Limiter() *FrequencyLimiter { return e.limiter }
func (e *Executor) Sizer() *sizing.Sizer { return e.sizer }

func (e *Executor) lockFor(code string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[code]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[code] = mu
	}
	return mu
}

func validateOrder(o Order) error {
	if strings.TrimSpace(o.StockCode()) == "" {
		return fmt.Errorf("%w: empty stock code", ErrInvalidParameters)
	}
	if o.PriceMin() <= 0 || o.PriceMax() <= 0 || o.PriceMin() > o.PriceMax() {
		return fmt.Errorf("%w: price band [%.4f, %.4f]", ErrInvalidParameters, o.PriceMin(), o.PriceMax())
	}
	if o.PositionRatio() <= 0 || o.PositionRatio() > 1 {
		return fmt.Errorf("%w: position_ratio %.4f", ErrInvalidParameters, o.PositionRatio())
	}
	if !o.Decision.Actionable() || o.Decision.TriggerPrice <= 0 {
		return fmt.Errorf("%w: decision %s", ErrInvalidParameters, o.Decision)
	}
	return nil
}

// Execute 执行一次委托。同一标的串行；ctx 取消不会打断已开始的账本修改。
// 返回的 Result.Err 为 ledger.PersistenceError 时，调用方应中止本轮。
func (e *Executor) Execute(ctx context.Context, o Order) Result {
	now := e.nowFn()
	res := Result{
		StrategyID: o.Strategy.ID,
		StockCode:  o.StockCode(),
		Side:       o.Decision.Action,
		Price:      o.Decision.TriggerPrice,
		Status:     o.Strategy.ExecutionStatus,
		At:         now,
		TradingDay: e.tradingDay(now),
	}
	if err := validateOrder(o); err != nil {
		return failed(res, err)
	}

	mu := e.lockFor(o.StockCode())
	mu.Lock()
	defer mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	if !e.limiter.Allow(ctx, o.StockCode(), res.TradingDay) {
		return failed(res, ErrTradeFrequencyLimited)
	}

	progress, prevStatus := e.progressFor(o.Strategy)
	res.Status = prevStatus

	snap := e.ledger.Snapshot()
	pos, _ := snap.Position(o.StockCode())
	plan := e.sizer.Size(o.Strategy, o.Decision,
		sizing.Account{Cash: snap.Cash, TotalAssets: snap.TotalAssets},
		sizing.Holding{Quantity: pos.Quantity, AvgCost: pos.AverageCost})
	res.Side = plan.Side

	requested := plan.Quantity
	switch {
	case o.Decision.FullExit():
		progress.Target = progress.Filled + requested
	case prevStatus == strategy.StatusPartial && progress.Target > progress.Filled:
		if remaining := progress.Target - progress.Filled; remaining < requested {
			requested = remaining
		}
	default:
		progress.Target = requested
		progress.Filled = 0
	}
	if requested <= 0 {
		reason := plan.Reason
		if reason == "" {
			reason = "zero quantity"
		}
		return failed(res, fmt.Errorf("%w: %s", ErrNoTradableQuantity, reason))
	}
	res.Requested = requested

	filled := e.fills.Fill(requested, e.sizer.Limits().LotSize)
	if filled <= 0 {
		return failed(res, ErrSimulatedRejection)
	}
	fees := e.sizer.FeeSchedule().Compute(plan.Side, filled, plan.Price)

	_, err := e.ledger.ApplyFill(ctx, ledger.Fill{
		StockCode: o.StockCode(),
		Side:      plan.Side,
		Quantity:  filled,
		Price:     plan.Price,
		Fees:      fees.Total,
		At:        now,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			err = fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		case errors.Is(err, ledger.ErrInsufficientPosition):
			err = fmt.Errorf("%w: %v", ErrInsufficientPosition, err)
		}
		return failed(res, err)
	}
	e.limiter.Record(ctx, o.StockCode(), res.TradingDay)

	res.Filled = filled
	res.Fees = fees
	res.Status = Next(prevStatus, progress.Filled, filled, progress.Target)
	res.Deactivate = o.Decision.FullExit()
	res.Outcome = OutcomeSuccess
	if filled < requested {
		res.Outcome = OutcomePartial
	}
	res.Remarks = remarksFor(o.Decision, res)

	progress.StrategyID = o.Strategy.ID
	progress.StockCode = o.StockCode()
	progress.Filled += filled
	progress.Status = string(res.Status)
	progress.LastRatio = o.Strategy.PositionRatio
	if e.tracker != nil {
		if err := e.tracker.Save(ctx, progress); err != nil {
			log.Errorf("save progress of strategy %d failed: %v", o.Strategy.ID, err)
		}
	}

	logger.Journal("fill", o.StockCode(),
		logger.F("strategy", o.Strategy.ID),
		logger.F("side", plan.Side),
		logger.F("requested", requested),
		logger.F("filled", filled),
		logger.F("price", plan.Price),
		logger.F("fees", fees.Total),
		logger.F("status", res.Status),
	)
	log.Infof("策略 %d %s %s %d/%d @ %.2f，状态 %s -> %s", o.Strategy.ID, plan.Side, o.StockCode(), filled, requested, plan.Price, prevStatus, res.Status)
	return res
}

// progressFor 合并本地进度与远端状态，返回本次执行前的有效状态。
func (e *Executor) progressFor(s strategy.Strategy) (store.Progress, strategy.ExecutionStatus) {
	if e.tracker == nil {
		return store.Progress{StrategyID: s.ID, StockCode: s.StockCode}, s.ExecutionStatus
	}
	p, ok := e.tracker.Get(s.ID)
	if !ok {
		status := s.ExecutionStatus
		if status == strategy.StatusCompleted {
			status = strategy.StatusPending
		}
		return store.Progress{StrategyID: s.ID, StockCode: s.StockCode}, status
	}
	if reopened, ok := Reopen(p, s.PositionRatio, e.sizer.Limits().LotSize); ok {
		log.Infof("策略 %d 仓位比例 %.4f -> %.4f，重新打开", s.ID, p.LastRatio, s.PositionRatio)
		return reopened, strategy.StatusPartial
	}
	return p, strategy.ExecutionStatus(p.Status)
}

func failed(res Result, err error) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Filled = 0
	res.Remarks = err.Error()
	logger.Journal("reject", res.StockCode,
		logger.F("strategy", res.StrategyID),
		logger.F("reason", err.Error()),
	)
	return res
}

func remarksFor(d strategy.Decision, r Result) string {
	var b strings.Builder
	switch d.Kind {
	case strategy.DecisionStopLoss:
		b.WriteString("止损触发，全部卖出")
	case strategy.DecisionTakeProfit:
		b.WriteString("止盈触发，全部卖出")
	default:
		b.WriteString("按计划执行")
	}
	if r.Outcome == OutcomePartial {
		fmt.Fprintf(&b, "，部分成交 %d/%d", r.Filled, r.Requested)
	}
	fmt.Fprintf(&b, "，费用 %.2f", money.Round2(r.Fees.Total))
	return b.String()
}
