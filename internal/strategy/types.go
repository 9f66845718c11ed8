package strategy

import (
	"strings"
	"time"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

func ParseAction(raw string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionBuy:
		return ActionBuy, true
	case ActionSell:
		return ActionSell, true
	default:
		return "", false
	}
}

type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusPartial   ExecutionStatus = "partial"
	StatusCompleted ExecutionStatus = "completed"
)

func ParseStatus(raw string) (ExecutionStatus, bool) {
	switch ExecutionStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StatusPending:
		return StatusPending, true
	case StatusPartial:
		return StatusPartial, true
	case StatusCompleted:
		return StatusCompleted, true
	default:
		return "", false
	}
}

// Strategy 由外部服务下发的交易指令。
type Strategy struct {
	ID              int64           `json:"id"`
	StockCode       string          `json:"stock_code"`
	StockName       string          `json:"stock_name"`
	Action          Action          `json:"action"`
	PositionRatio   float64         `json:"position_ratio"`
	PriceMin        float64         `json:"price_min"`
	PriceMax        float64         `json:"price_max"`
	TakeProfitPrice float64         `json:"take_profit_price"`
	StopLossPrice   float64         `json:"stop_loss_price"`
	ExecutionStatus ExecutionStatus `json:"execution_status"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type DecisionKind string

const (
	DecisionExecute    DecisionKind = "execute"
	DecisionSkip       DecisionKind = "skip"
	DecisionStopLoss   DecisionKind = "stop_loss_triggered"
	DecisionTakeProfit DecisionKind = "take_profit_triggered"
)

// Skip 原因
const (
	SkipOutsideWindow  = "outside_trading_window"
	SkipOutOfBand      = "price_out_of_band"
	SkipPriceDeviation = "price_deviation"
	SkipNoQuote        = "no_quote"
	SkipNoPosition     = "no_position"
)

// Decision 是条件判断的结果。止盈止损总是全部卖出。
type Decision struct {
	Kind         DecisionKind `json:"kind"`
	Action       Action       `json:"action,omitempty"`
	TriggerPrice float64      `json:"trigger_price,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

func Execute(action Action, price float64) Decision {
	return Decision{Kind: DecisionExecute, Action: action, TriggerPrice: price}
}

func Skip(reason string) Decision {
	return Decision{Kind: DecisionSkip, Reason: reason}
}

func (d Decision) FullExit() bool {
	return d.Kind == DecisionStopLoss || d.Kind == DecisionTakeProfit
}

func (d Decision) Actionable() bool {
	return d.Kind == DecisionExecute || d.FullExit()
}

func (d Decision) String() string {
	switch d.Kind {
	case DecisionSkip:
		return "skip(" + d.Reason + ")"
	case DecisionExecute:
		return "execute(" + string(d.Action) + ")"
	default:
		return string(d.Kind)
	}
}
