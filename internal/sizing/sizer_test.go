package sizing

import (
	"math/rand"
	"testing"

	"qmtrader/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultLimits() Limits {
	return Limits{
		MaxPositionRatio: 0.3,
		MaxTradeAmount:   500_000,
		MinTradeAmount:   1_000,
		MinBuyVolume:     100,
		MinSellVolume:    100,
		VolumeStep:       100,
		LotSize:          100,
	}
}

func defaultFees() FeeSchedule {
	return FeeSchedule{CommissionRate: 0.00025, MinCommission: 5, StampDutyRate: 0.001, TransferFeeRate: 0.00002}
}

func buy(ratio float64) strategy.Strategy {
	return strategy.Strategy{ID: 1, StockCode: "600519", Action: strategy.ActionBuy, PositionRatio: ratio}
}

func TestSizeBuy(t *testing.T) {
	s := NewSizer(defaultLimits(), defaultFees())
	acct := Account{Cash: 1_000_000, TotalAssets: 1_000_000}

	t.Run("lot rounding at 15.50", func(t *testing.T) {
		p := s.Size(buy(0.1), strategy.Execute(strategy.ActionBuy, 15.5), acct, Holding{})
		require.True(t, p.Tradable(), p.Reason)
		assert.Equal(t, int64(6400), p.Quantity)
		assert.InDelta(t, 99_200, p.Notional, 1e-6)
	})

	t.Run("less than one lot at 1550", func(t *testing.T) {
		p := s.Size(buy(0.1), strategy.Execute(strategy.ActionBuy, 1550), acct, Holding{})
		assert.Equal(t, int64(0), p.Quantity)
		assert.Equal(t, ReasonBelowMinTrade, p.Reason)
	})

	t.Run("max trade amount caps budget", func(t *testing.T) {
		p := s.Size(buy(1), strategy.Execute(strategy.ActionBuy, 10), Account{Cash: 10_000_000, TotalAssets: 10_000_000}, Holding{})
		assert.Equal(t, int64(50_000), p.Quantity)
	})

	t.Run("position ratio shrinks order", func(t *testing.T) {
		p := s.Size(buy(0.5), strategy.Execute(strategy.ActionBuy, 10), acct, Holding{Quantity: 25_000})
		// 上限 300000/10 = 30000 股，已持有 25000；5000 股的费用使成交后占比略超 0.3
		assert.Equal(t, int64(4_900), p.Quantity)
	})

	t.Run("position already at limit", func(t *testing.T) {
		p := s.Size(buy(0.5), strategy.Execute(strategy.ActionBuy, 10), acct, Holding{Quantity: 30_000})
		assert.Equal(t, int64(0), p.Quantity)
		assert.Equal(t, ReasonPositionLimit, p.Reason)
	})

	t.Run("fees keep cash non-negative", func(t *testing.T) {
		p := s.Size(buy(1), strategy.Execute(strategy.ActionBuy, 10), Account{Cash: 20_000, TotalAssets: 20_000}, Holding{})
		// 上限 0.3：600 股扣费后总资产 19994.88，6000 元超过 5998.46
		assert.Equal(t, int64(500), p.Quantity)

		lim := defaultLimits()
		lim.MaxPositionRatio = 1
		s2 := NewSizer(lim, defaultFees())
		p = s2.Size(buy(1), strategy.Execute(strategy.ActionBuy, 10), Account{Cash: 20_000, TotalAssets: 20_000}, Holding{})
		assert.Equal(t, int64(1_900), p.Quantity)
		assert.LessOrEqual(t, p.Notional+p.Fees.Total, 20_000.0)
	})

	t.Run("cap holds after buy fees", func(t *testing.T) {
		small := Account{Cash: 100_000, TotalAssets: 100_000}
		p := s.Size(buy(0.5), strategy.Execute(strategy.ActionBuy, 10), small, Holding{})
		require.True(t, p.Tradable(), p.Reason)
		assert.Equal(t, int64(2_900), p.Quantity)
		after := small.TotalAssets - p.Fees.Total
		assert.LessOrEqual(t, p.Notional/after, 0.3)
	})

	t.Run("skip decision", func(t *testing.T) {
		p := s.Size(buy(0.1), strategy.Skip(strategy.SkipOutOfBand), acct, Holding{})
		assert.False(t, p.Tradable())
		assert.Equal(t, ReasonNotActionable, p.Reason)
	})
}

func TestSizeSell(t *testing.T) {
	s := NewSizer(defaultLimits(), defaultFees())
	sell := strategy.Strategy{ID: 2, StockCode: "600519", Action: strategy.ActionSell, PositionRatio: 0.5}

	t.Run("half of position", func(t *testing.T) {
		p := s.Size(sell, strategy.Execute(strategy.ActionSell, 20), Account{}, Holding{Quantity: 1000})
		assert.Equal(t, int64(500), p.Quantity)
		assert.Equal(t, strategy.ActionSell, p.Side)
	})

	t.Run("floors to lot", func(t *testing.T) {
		p := s.Size(sell, strategy.Execute(strategy.ActionSell, 20), Account{}, Holding{Quantity: 900})
		assert.Equal(t, int64(400), p.Quantity)
	})

	t.Run("no position", func(t *testing.T) {
		p := s.Size(sell, strategy.Execute(strategy.ActionSell, 20), Account{}, Holding{})
		assert.Equal(t, ReasonNoPosition, p.Reason)
	})

	t.Run("stop loss exits everything", func(t *testing.T) {
		d := strategy.Decision{Kind: strategy.DecisionStopLoss, Action: strategy.ActionSell, TriggerPrice: 1450}
		p := s.Size(buy(0.1), d, Account{}, Holding{Quantity: 700})
		assert.Equal(t, int64(700), p.Quantity)
		assert.Equal(t, strategy.ActionSell, p.Side)
		assert.Greater(t, p.Fees.StampDuty, 0.0)
	})

	t.Run("trigger without position", func(t *testing.T) {
		d := strategy.Decision{Kind: strategy.DecisionTakeProfit, Action: strategy.ActionSell, TriggerPrice: 1700}
		p := s.Size(buy(0.1), d, Account{}, Holding{})
		assert.Equal(t, ReasonNoPosition, p.Reason)
	})
}

func TestSizeProperties(t *testing.T) {
	s := NewSizer(defaultLimits(), defaultFees())
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		price := 1 + rng.Float64()*200
		ratio := 0.01 + rng.Float64()*0.99
		held := int64(rng.Intn(200)) * 100
		cash := rng.Float64() * 2_000_000
		total := cash + float64(held)*price

		p := s.Size(buy(ratio), strategy.Execute(strategy.ActionBuy, price), Account{Cash: cash, TotalAssets: total}, Holding{Quantity: held})
		assert.Zero(t, p.Quantity%100)
		assert.GreaterOrEqual(t, p.Quantity, int64(0))
		if p.Tradable() {
			assert.LessOrEqual(t, float64(held+p.Quantity)*price, 0.3*(total-p.Fees.Total)+1e-6)
			assert.LessOrEqual(t, p.Notional+p.Fees.Total, cash+1e-6)
		}
		again := s.Size(buy(ratio), strategy.Execute(strategy.ActionBuy, price), Account{Cash: cash, TotalAssets: total}, Holding{Quantity: held})
		assert.Equal(t, p, again)

		sp := s.Size(strategy.Strategy{Action: strategy.ActionSell, PositionRatio: ratio}, strategy.Execute(strategy.ActionSell, price), Account{}, Holding{Quantity: held})
		assert.LessOrEqual(t, sp.Quantity, held)
		assert.Zero(t, sp.Quantity%100)
	}
}

func TestFees(t *testing.T) {
	f := defaultFees()
	buyFees := f.Compute(strategy.ActionBuy, 100, 10)
	assert.Equal(t, 5.0, buyFees.Commission)
	assert.Equal(t, 0.0, buyFees.StampDuty)
	assert.InDelta(t, 5.02, buyFees.Total, 1e-9)

	sellFees := f.Compute(strategy.ActionSell, 10_000, 100)
	assert.InDelta(t, 250, sellFees.Commission, 1e-9)
	assert.InDelta(t, 1000, sellFees.StampDuty, 1e-9)
	assert.InDelta(t, 20, sellFees.Transfer, 1e-9)
	assert.InDelta(t, 1270, sellFees.Total, 1e-9)
}
