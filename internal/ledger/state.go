package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"qmtrader/internal/pkg/money"
	"qmtrader/internal/strategy"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrInvalidFill          = errors.New("invalid fill")
	ErrStopped              = errors.New("ledger stopped")
)

// PersistenceError 本地落盘失败。磁盘上的旧状态仍然有效。
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

type Position struct {
	Quantity    int64   `json:"quantity"`
	AverageCost float64 `json:"average_cost"`
	LastPrice   float64 `json:"last_price,omitempty"`
}

// State 账户快照；Positions 中不保留数量为 0 的条目。
type State struct {
	Cash        float64             `json:"cash"`
	TotalAssets float64             `json:"total_assets"`
	LastUpdated time.Time           `json:"last_updated"`
	Positions   map[string]Position `json:"positions"`
}

func NewState(cash float64, now time.Time) State {
	return State{Cash: cash, TotalAssets: cash, LastUpdated: now, Positions: map[string]Position{}}
}

func (s State) Clone() State {
	cp := s
	cp.Positions = make(map[string]Position, len(s.Positions))
	for k, v := range s.Positions {
		cp.Positions[k] = v
	}
	return cp
}

func (s State) Position(code string) (Position, bool) {
	p, ok := s.Positions[code]
	return p, ok
}

func (s State) Codes() []string {
	out := make([]string, 0, len(s.Positions))
	for k := range s.Positions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarketValue 按最新价估值，缺价格时用成本价。
func (s State) MarketValue() float64 {
	total := money.Zero
	for _, p := range s.Positions {
		price := p.LastPrice
		if price <= 0 {
			price = p.AverageCost
		}
		total = total.Add(decimal.NewFromInt(p.Quantity).Mul(money.Dec(price)))
	}
	return money.Float(total.Round(2))
}

func (s *State) recompute() {
	s.TotalAssets = money.Round2(money.Float(money.Dec(s.Cash).Add(money.Dec(s.MarketValue()))))
}

// Fill 一笔已成交的交易，Fees 为总费用。
type Fill struct {
	StockCode string          `json:"stock_code"`
	Side      strategy.Action `json:"side"`
	Quantity  int64           `json:"quantity"`
	Price     float64         `json:"price"`
	Fees      float64         `json:"fees"`
	At        time.Time       `json:"at"`
}

func (f Fill) validate() error {
	if strings.TrimSpace(f.StockCode) == "" {
		return fmt.Errorf("%w: empty stock code", ErrInvalidFill)
	}
	if f.Quantity <= 0 || f.Price <= 0 || f.Fees < 0 {
		return fmt.Errorf("%w: quantity=%d price=%.4f fees=%.4f", ErrInvalidFill, f.Quantity, f.Price, f.Fees)
	}
	if f.Side != strategy.ActionBuy && f.Side != strategy.ActionSell {
		return fmt.Errorf("%w: side %q", ErrInvalidFill, f.Side)
	}
	return nil
}

// applyFill 返回成交后的新状态，原状态不变。
// 买入按加权平均更新成本（费用计入成本）；卖出不改变成本，清仓后删除条目。
func applyFill(cur State, f Fill) (State, error) {
	if err := f.validate(); err != nil {
		return cur, err
	}
	next := cur.Clone()
	qty := decimal.NewFromInt(f.Quantity)
	notional := qty.Mul(money.Dec(f.Price))
	fees := money.Dec(f.Fees)
	cash := money.Dec(cur.Cash)
	pos := next.Positions[f.StockCode]

	switch f.Side {
	case strategy.ActionBuy:
		cost := notional.Add(fees)
		if cost.GreaterThan(cash) {
			return cur, fmt.Errorf("%w: need %s have %s", ErrInsufficientFunds, cost.StringFixed(2), cash.StringFixed(2))
		}
		held := decimal.NewFromInt(pos.Quantity)
		basis := held.Mul(money.Dec(pos.AverageCost)).Add(cost)
		newQty := pos.Quantity + f.Quantity
		pos.AverageCost = money.Float(basis.Div(decimal.NewFromInt(newQty)).Round(4))
		pos.Quantity = newQty
		pos.LastPrice = f.Price
		next.Positions[f.StockCode] = pos
		next.Cash = money.Float(cash.Sub(cost).Round(2))
	case strategy.ActionSell:
		if f.Quantity > pos.Quantity {
			return cur, fmt.Errorf("%w: sell %d of %s, hold %d", ErrInsufficientPosition, f.Quantity, f.StockCode, pos.Quantity)
		}
		proceeds := notional.Sub(fees)
		newCash := cash.Add(proceeds)
		if newCash.Sign() < 0 {
			return cur, fmt.Errorf("%w: fees exceed proceeds", ErrInsufficientFunds)
		}
		pos.Quantity -= f.Quantity
		pos.LastPrice = f.Price
		if pos.Quantity == 0 {
			delete(next.Positions, f.StockCode)
		} else {
			next.Positions[f.StockCode] = pos
		}
		next.Cash = money.Float(newCash.Round(2))
	}
	next.LastUpdated = f.At
	next.recompute()
	return next, nil
}

func markPrices(cur State, prices map[string]float64, now time.Time) State {
	next := cur.Clone()
	for code, pos := range next.Positions {
		if p, ok := prices[code]; ok && p > 0 {
			pos.LastPrice = p
			next.Positions[code] = pos
		}
	}
	next.LastUpdated = now
	next.recompute()
	return next
}
