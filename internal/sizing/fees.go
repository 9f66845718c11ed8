package sizing

import (
	"qmtrader/internal/config"
	"qmtrader/internal/pkg/money"
	"qmtrader/internal/strategy"

	"github.com/shopspring/decimal"
)

// FeeSchedule A 股交易费用。
type FeeSchedule struct {
	CommissionRate  float64
	MinCommission   float64
	StampDutyRate   float64
	TransferFeeRate float64
}

func FeesFromConfig(c config.FeeConfig) FeeSchedule {
	return FeeSchedule{
		CommissionRate:  c.CommissionRate,
		MinCommission:   c.MinCommission,
		StampDutyRate:   c.StampDutyRate,
		TransferFeeRate: c.TransferFeeRate,
	}
}

type Fees struct {
	Commission float64 `json:"commission"`
	StampDuty  float64 `json:"stamp_duty"`
	Transfer   float64 `json:"transfer"`
	Total      float64 `json:"total"`
}

// Compute 佣金不足最低值按最低值收；印花税仅卖出收取；过户费双向。
func (f FeeSchedule) Compute(side strategy.Action, qty int64, price float64) Fees {
	if qty <= 0 || price <= 0 {
		return Fees{}
	}
	amount := decimal.NewFromInt(qty).Mul(money.Dec(price))
	commission := amount.Mul(money.Dec(f.CommissionRate))
	if min := money.Dec(f.MinCommission); commission.LessThan(min) {
		commission = min
	}
	stamp := money.Zero
	if side == strategy.ActionSell {
		stamp = amount.Mul(money.Dec(f.StampDutyRate))
	}
	transfer := amount.Mul(money.Dec(f.TransferFeeRate))
	commission, stamp, transfer = commission.Round(2), stamp.Round(2), transfer.Round(2)
	return Fees{
		Commission: money.Float(commission),
		StampDuty:  money.Float(stamp),
		Transfer:   money.Float(transfer),
		Total:      money.Float(commission.Add(stamp).Add(transfer)),
	}
}
