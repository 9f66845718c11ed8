// Package money 用 decimal 做价格与金额的比较和取整，避免浮点边界误差。
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

func Dec(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return Zero
	}
	return decimal.NewFromFloat(val)
}

func Float(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func Compare(a, b float64) int {
	return Dec(a).Cmp(Dec(b))
}

func LTE(a, b float64) bool { return Compare(a, b) <= 0 }
func GTE(a, b float64) bool { return Compare(a, b) >= 0 }
func GT(a, b float64) bool { return Compare(a, b) > 0 }

// Round2 保留两位小数（人民币分）。
func Round2(val float64) float64 {
	return Float(Dec(val).Round(2))
}

// FloorToStep 向下取整到 step 的整数倍；step<=0 时原样返回。
func FloorToStep(qty, step int64) int64 {
	if qty <= 0 {
		return 0
	}
	if step <= 0 {
		return qty
	}
	return qty / step * step
}

// Shares 返回 amount/price 向下取整的股数。
func Shares(amount, price decimal.Decimal) int64 {
	if price.Sign() <= 0 || amount.Sign() <= 0 {
		return 0
	}
	return amount.Div(price).Floor().IntPart()
}
