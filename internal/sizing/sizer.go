// Package sizing 把仓位比例换算成具体股数，并施加单笔与持仓风控。
package sizing

import (
	"sync/atomic"

	"qmtrader/internal/config"
	"qmtrader/internal/pkg/money"
	"qmtrader/internal/strategy"

	"github.com/shopspring/decimal"
)

// 拒绝原因
const (
	ReasonBelowMinTrade    = "below_min_trade_amount"
	ReasonBelowMinSell     = "below_min_sell_volume"
	ReasonPositionLimit    = "max_position_ratio"
	ReasonInsufficientCash = "insufficient_funds"
	ReasonNoPosition       = strategy.SkipNoPosition
	ReasonNoPrice          = "no_price"
	ReasonNotActionable    = "not_actionable"
)

type Limits struct {
	MaxPositionRatio float64
	MaxTradeAmount   float64
	MinTradeAmount   float64
	MinBuyVolume     int64
	MinSellVolume    int64
	VolumeStep       int64
	LotSize          int64
}

func LimitsFromConfig(t config.TradingConfig) Limits {
	return Limits{
		MaxPositionRatio: t.MaxPositionRatio,
		MaxTradeAmount:   t.MaxTradeAmount,
		MinTradeAmount:   t.MinTradeAmount,
		MinBuyVolume:     t.MinBuyVolume,
		MinSellVolume:    t.MinSellVolume,
		VolumeStep:       t.VolumeStep,
		LotSize:          t.LotSize,
	}
}

// step 取 volume_step 与 lot_size 中较大者，保证结果总是整手。
func (l Limits) step() int64 {
	if l.VolumeStep >= l.LotSize {
		return l.VolumeStep
	}
	return l.LotSize
}

type Account struct {
	Cash        float64
	TotalAssets float64
}

type Holding struct {
	Quantity int64
	AvgCost  float64
}

// Plan 是一次下单的目标。Quantity 为 0 时 Reason 给出原因。
type Plan struct {
	Side     strategy.Action `json:"side"`
	Quantity int64           `json:"quantity"`
	Price    float64         `json:"price"`
	Notional float64         `json:"notional"`
	Fees     Fees            `json:"fees"`
	Reason   string          `json:"reason,omitempty"`
}

func (p Plan) Tradable() bool {
	return p.Quantity > 0
}

type Sizer struct {
	limits atomic.Pointer[Limits]
	fees   atomic.Pointer[FeeSchedule]
}

func NewSizer(limits Limits, fees FeeSchedule) *Sizer {
	s := &Sizer{}
	s.SetLimits(limits)
	s.SetFees(fees)
	return s
}

func (s *Sizer) SetLimits(l Limits) { s.limits.Store(&l) }
func (s *Sizer) SetFees(f FeeSchedule) { s.fees.Store(&f) }
func (s *Sizer) Limits() Limits { return *s.limits.Load() }
func (s *Sizer) FeeSchedule() FeeSchedule { return *s.fees.Load() }

// Size 纯函数：相同输入总是得到相同 Plan。
func (s *Sizer) Size(st strategy.Strategy, d strategy.Decision, acct Account, h Holding) Plan {
	if !d.Actionable() {
		return Plan{Reason: ReasonNotActionable}
	}
	price := d.TriggerPrice
	if price <= 0 {
		return Plan{Side: d.Action, Reason: ReasonNoPrice}
	}
	if d.FullExit() {
		return s.sizeExit(price, h)
	}
	if d.Action == strategy.ActionSell {
		return s.sizeSell(st.PositionRatio, price, h)
	}
	return s.sizeBuy(st.PositionRatio, price, acct, h)
}

func (s *Sizer) sizeBuy(ratio, price float64, acct Account, h Holding) Plan {
	lim := s.Limits()
	fees := s.FeeSchedule()
	step := lim.step()
	plan := Plan{Side: strategy.ActionBuy, Price: price}

	p := money.Dec(price)
	cash := money.Dec(acct.Cash)
	budget := decimal.Min(cash.Mul(money.Dec(ratio)), money.Dec(lim.MaxTradeAmount))
	qty := money.FloorToStep(money.Shares(budget, p), step)

	total := money.Dec(acct.TotalAssets)
	if total.Sign() <= 0 {
		total = cash
	}
	capQty := money.FloorToStep(money.Shares(total.Mul(money.Dec(lim.MaxPositionRatio)), p)-h.Quantity, step)
	if capQty < qty {
		qty = capQty
		if qty <= 0 {
			plan.Reason = ReasonPositionLimit
			return plan
		}
	}

	// 含费用后仍需满足 cash >= 0；买入费用会拉低成交后的总资产，持仓占比按成交后计算
	maxRatio := money.Dec(lim.MaxPositionRatio)
	held := decimal.NewFromInt(h.Quantity)
	for qty > 0 {
		notional := decimal.NewFromInt(qty).Mul(p)
		fee := money.Dec(fees.Compute(strategy.ActionBuy, qty, price).Total)
		positionAfter := held.Add(decimal.NewFromInt(qty)).Mul(p)
		if notional.Add(fee).LessThanOrEqual(cash) && positionAfter.LessThanOrEqual(total.Sub(fee).Mul(maxRatio)) {
			break
		}
		qty -= step
	}
	if qty <= 0 && budget.GreaterThanOrEqual(p.Mul(decimal.NewFromInt(step))) {
		plan.Reason = ReasonInsufficientCash
		return plan
	}

	notional := decimal.NewFromInt(qty).Mul(p)
	if qty <= 0 || qty < lim.MinBuyVolume || notional.LessThan(money.Dec(lim.MinTradeAmount)) {
		plan.Reason = ReasonBelowMinTrade
		return plan
	}
	plan.Quantity = qty
	plan.Notional = money.Float(notional)
	plan.Fees = fees.Compute(strategy.ActionBuy, qty, price)
	return plan
}

func (s *Sizer) sizeSell(ratio, price float64, h Holding) Plan {
	lim := s.Limits()
	plan := Plan{Side: strategy.ActionSell, Price: price}
	if h.Quantity <= 0 {
		plan.Reason = ReasonNoPosition
		return plan
	}
	raw := decimal.NewFromInt(h.Quantity).Mul(money.Dec(ratio)).Floor().IntPart()
	qty := money.FloorToStep(raw, lim.step())
	if qty > h.Quantity {
		qty = h.Quantity
	}
	if qty <= 0 || (qty < lim.MinSellVolume && qty < h.Quantity) {
		plan.Reason = ReasonBelowMinSell
		return plan
	}
	return s.fill(plan, qty)
}

func (s *Sizer) sizeExit(price float64, h Holding) Plan {
	plan := Plan{Side: strategy.ActionSell, Price: price}
	if h.Quantity <= 0 {
		plan.Reason = ReasonNoPosition
		return plan
	}
	return s.fill(plan, h.Quantity)
}

func (s *Sizer) fill(plan Plan, qty int64) Plan {
	plan.Quantity = qty
	plan.Notional = money.Float(decimal.NewFromInt(qty).Mul(money.Dec(plan.Price)))
	plan.Fees = s.FeeSchedule().Compute(plan.Side, qty, plan.Price)
	return plan
}
