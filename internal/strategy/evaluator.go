package strategy

import (
	"fmt"
	"sync/atomic"
	"time"

	"qmtrader/internal/market"
	"qmtrader/internal/pkg/money"
)

// Clock 判断某一时刻是否处于交易时段。
type Clock interface {
	IsOpen(t time.Time) bool
}

// Limits 是可热更新的判断参数。
type Limits struct {
	PriceDeviation float64
}

// Evaluator 对 (策略, 行情, 时刻) 做纯函数判断，不产生副作用。
type Evaluator struct {
	clock  Clock
	limits atomic.Pointer[Limits]
}

func NewEvaluator(clock Clock, limits Limits) *Evaluator {
	e := &Evaluator{clock: clock}
	e.SetLimits(limits)
	return e
}

func (e *Evaluator) SetLimits(l Limits) {
	e.limits.Store(&l)
}

func (e *Evaluator) Limits() Limits {
	return *e.limits.Load()
}

// Evaluate 判断顺序：交易时段、行情有效性、涨跌幅偏离、止损、止盈、价格区间。
func (e *Evaluator) Evaluate(s Strategy, quote market.QuoteView, at time.Time) (Decision, error) {
	if err := Validate(s); err != nil {
		return Decision{}, err
	}
	if e.clock != nil && !e.clock.IsOpen(at) {
		return Skip(SkipOutsideWindow), nil
	}
	price := quote.Price
	if price <= 0 {
		return Skip(SkipNoQuote), nil
	}
	if quote.StockCode != "" && quote.StockCode != s.StockCode {
		return Decision{}, fmt.Errorf("%w: quote %s does not match strategy %d (%s)", ErrInvalidStrategy, quote.StockCode, s.ID, s.StockCode)
	}
	if limit := e.Limits().PriceDeviation; limit > 0 {
		if dev, ok := quote.DeviationFrom(); ok && money.GT(dev, limit) {
			return Skip(SkipPriceDeviation), nil
		}
	}

	// 止损优先于止盈，两者都优先于区间判断；阈值为 0 表示未设置
	if s.StopLossPrice > 0 && money.LTE(price, s.StopLossPrice) {
		return Decision{Kind: DecisionStopLoss, Action: ActionSell, TriggerPrice: price}, nil
	}
	if s.TakeProfitPrice > 0 && money.GTE(price, s.TakeProfitPrice) {
		return Decision{Kind: DecisionTakeProfit, Action: ActionSell, TriggerPrice: price}, nil
	}
	if money.GTE(price, s.PriceMin) && money.LTE(price, s.PriceMax) {
		return Execute(s.Action, price), nil
	}
	return Skip(SkipOutOfBand), nil
}
