package executor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"qmtrader/internal/config"
	"qmtrader/internal/ledger"
	"qmtrader/internal/sizing"
	"qmtrader/internal/store"
	"qmtrader/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ledger  *ledger.Ledger
	store   *store.Store
	tracker *Tracker
	exec    *Executor
}

func newFixture(t *testing.T, fills FillModel, freqLimit int) *fixture {
	t.Helper()
	dir := t.TempDir()
	l, err := ledger.Open(ledger.NewFileStore(filepath.Join(dir, "account.json")), 1_000_000)
	require.NoError(t, err)
	l.Start()
	t.Cleanup(l.Stop)

	st, err := store.Open(filepath.Join(dir, "qmtrader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tracker, err := NewTracker(context.Background(), st, 100)
	require.NoError(t, err)

	sizer := sizing.NewSizer(sizing.Limits{
		MaxPositionRatio: 0.3, MaxTradeAmount: 500_000, MinTradeAmount: 1_000,
		MinBuyVolume: 100, MinSellVolume: 100, VolumeStep: 100, LotSize: 100,
	}, sizing.FeeSchedule{CommissionRate: 0.00025, MinCommission: 5, StampDutyRate: 0.001, TransferFeeRate: 0.00002})

	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	exec := New(l, sizer, fills, tracker, NewFrequencyLimiter(freqLimit, st), WithClock(func() time.Time { return now }))
	return &fixture{ledger: l, store: st, tracker: tracker, exec: exec}
}

func buyOrder(ratio, price float64) Order {
	return Order{
		Strategy: strategy.Strategy{
			ID: 1, StockCode: "600000", Action: strategy.ActionBuy, PositionRatio: ratio,
			PriceMin: 15, PriceMax: 16, StopLossPrice: 14, TakeProfitPrice: 18,
			ExecutionStatus: strategy.StatusPending, IsActive: true,
		},
		Decision: strategy.Execute(strategy.ActionBuy, price),
	}
}

func TestExecuteFullFill(t *testing.T) {
	f := newFixture(t, NewFixedFill(), 0)
	res := f.exec.Execute(context.Background(), buyOrder(0.1, 15.5))

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, int64(6400), res.Filled)
	assert.Equal(t, strategy.StatusCompleted, res.Status)
	assert.True(t, res.StatusChanged(strategy.StatusPending))

	snap := f.ledger.Snapshot()
	pos, ok := snap.Position("600000")
	require.True(t, ok)
	assert.Equal(t, int64(6400), pos.Quantity)
	assert.InDelta(t, 1_000_000-99_200-res.Fees.Total, snap.Cash, 1e-6)
}

func TestExecutePartialThenComplete(t *testing.T) {
	f := newFixture(t, NewFixedFill(0.5, 1), 0)
	ctx := context.Background()

	first := f.exec.Execute(ctx, buyOrder(0.1, 15.5))
	require.NoError(t, first.Err)
	assert.Equal(t, OutcomePartial, first.Outcome)
	assert.Equal(t, int64(3200), first.Filled)
	assert.Equal(t, strategy.StatusPartial, first.Status)

	order := buyOrder(0.1, 15.5)
	order.Strategy.ExecutionStatus = strategy.StatusPartial
	second := f.exec.Execute(ctx, order)
	require.NoError(t, second.Err)
	assert.Equal(t, int64(3200), second.Requested)
	assert.Equal(t, OutcomeSuccess, second.Outcome)
	assert.Equal(t, strategy.StatusCompleted, second.Status)

	p, ok, err := f.store.GetProgress(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(6400), p.Filled)
	assert.Equal(t, int64(6400), p.Target)
	assert.True(t, f.tracker.Completed(order.Strategy))
}

func TestExecuteFailures(t *testing.T) {
	t.Run("invalid parameters", func(t *testing.T) {
		f := newFixture(t, NewFixedFill(), 0)
		o := buyOrder(1.5, 15.5)
		res := f.exec.Execute(context.Background(), o)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.ErrorIs(t, res.Err, ErrInvalidParameters)
		assert.InDelta(t, 1_000_000, f.ledger.Snapshot().Cash, 1e-9)
	})

	t.Run("no tradable quantity", func(t *testing.T) {
		f := newFixture(t, NewFixedFill(), 0)
		o := buyOrder(0.1, 1550)
		o.Strategy.PriceMin, o.Strategy.PriceMax, o.Strategy.StopLossPrice, o.Strategy.TakeProfitPrice = 1500, 1600, 1450, 1700
		res := f.exec.Execute(context.Background(), o)
		assert.ErrorIs(t, res.Err, ErrNoTradableQuantity)
		assert.Contains(t, res.Remarks, sizing.ReasonBelowMinTrade)
	})

	t.Run("simulated rejection keeps status", func(t *testing.T) {
		f := newFixture(t, NewFixedFill(0), 0)
		res := f.exec.Execute(context.Background(), buyOrder(0.1, 15.5))
		assert.ErrorIs(t, res.Err, ErrSimulatedRejection)
		assert.Equal(t, strategy.StatusPending, res.Status)
		assert.Empty(t, f.ledger.Snapshot().Positions)
	})

	t.Run("frequency limit", func(t *testing.T) {
		f := newFixture(t, NewFixedFill(), 1)
		require.NoError(t, f.exec.Execute(context.Background(), buyOrder(0.05, 15.5)).Err)
		o := buyOrder(0.05, 15.5)
		o.Strategy.ID = 2
		res := f.exec.Execute(context.Background(), o)
		assert.ErrorIs(t, res.Err, ErrTradeFrequencyLimited)
	})
}

func TestExecuteStopLossExitsAll(t *testing.T) {
	f := newFixture(t, NewFixedFill(), 0)
	ctx := context.Background()
	require.NoError(t, f.exec.Execute(ctx, buyOrder(0.1, 15.5)).Err)

	o := buyOrder(0.1, 14)
	o.Decision = strategy.Decision{Kind: strategy.DecisionStopLoss, Action: strategy.ActionSell, TriggerPrice: 14}
	res := f.exec.Execute(ctx, o)
	require.NoError(t, res.Err)
	assert.Equal(t, strategy.ActionSell, res.Side)
	assert.Equal(t, int64(6400), res.Filled)
	assert.True(t, res.Deactivate)
	assert.Empty(t, f.ledger.Snapshot().Positions)
	assert.Contains(t, res.Remarks, "止损")
}

func TestExecuteReopen(t *testing.T) {
	f := newFixture(t, NewFixedFill(), 0)
	ctx := context.Background()
	require.NoError(t, f.exec.Execute(ctx, buyOrder(0.1, 15.5)).Err)

	o := buyOrder(0.2, 15.5)
	o.Strategy.ExecutionStatus = strategy.StatusCompleted
	require.True(t, f.tracker.Reopened(o.Strategy))
	assert.False(t, f.tracker.Completed(o.Strategy))

	res := f.exec.Execute(ctx, o)
	require.NoError(t, res.Err)
	assert.Equal(t, int64(6400), res.Requested)
	assert.Equal(t, strategy.StatusCompleted, res.Status)
	p, _ := f.tracker.Get(1)
	assert.Equal(t, int64(12800), p.Target)
	assert.InDelta(t, 0.2, p.LastRatio, 1e-9)
}

func TestExecuteSerializesSameSymbol(t *testing.T) {
	f := newFixture(t, NewFixedFill(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			o := buyOrder(0.05, 15.5)
			o.Strategy.ID = id
			if id == 10 {
				cancel()
			}
			_ = f.exec.Execute(ctx, o)
		}(int64(i + 1))
	}
	wg.Wait()

	snap := f.ledger.Snapshot()
	assert.GreaterOrEqual(t, snap.Cash, 0.0)
	pos, ok := snap.Position("600000")
	require.True(t, ok)
	// 单标的持仓不超过总资产的 30%
	assert.LessOrEqual(t, float64(pos.Quantity)*15.5, 0.3*1_000_000+1)
}

type failingLedger struct{ snap ledger.State }

func (l failingLedger) Snapshot() ledger.State { return l.snap }
func (l failingLedger) ApplyFill(context.Context, ledger.Fill) (ledger.State, error) {
	return l.snap, &ledger.PersistenceError{Path: "account.json", Err: errors.New("read-only file system")}
}

func TestExecutePersistenceError(t *testing.T) {
	sizer := sizing.NewSizer(sizing.LimitsFromConfig(config.TradingConfig{
		MaxPositionRatio: 0.3, MaxTradeAmount: 500_000, MinTradeAmount: 1_000,
		MinBuyVolume: 100, MinSellVolume: 100, VolumeStep: 100, LotSize: 100,
	}), sizing.FeeSchedule{})
	exec := New(failingLedger{snap: ledger.NewState(1_000_000, time.Now())}, sizer, NewFixedFill(), nil, nil)

	res := exec.Execute(context.Background(), buyOrder(0.1, 15.5))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, ledger.IsPersistence(res.Err))
	assert.Equal(t, int64(0), res.Filled)
}

func TestNextAndReopen(t *testing.T) {
	assert.Equal(t, strategy.StatusPending, Next(strategy.StatusPending, 0, 0, 100))
	assert.Equal(t, strategy.StatusPartial, Next(strategy.StatusPending, 0, 50, 100))
	assert.Equal(t, strategy.StatusCompleted, Next(strategy.StatusPending, 0, 100, 100))
	assert.Equal(t, strategy.StatusCompleted, Next(strategy.StatusPartial, 50, 50, 100))

	p := store.Progress{Status: "completed", Target: 1000, Filled: 1000, LastRatio: 0.1}
	_, ok := Reopen(p, 0.1, 100)
	assert.False(t, ok)
	next, ok := Reopen(p, 0.25, 100)
	require.True(t, ok)
	assert.Equal(t, int64(2500), next.Target)
	assert.Equal(t, "partial", next.Status)
}

func TestSimulatorDeterministic(t *testing.T) {
	cfg := config.SimulationConfig{PartialFillRate: 0.3, RejectRate: 0.2, PartialFillRatio: 0.5, Seed: 7}
	a, b := NewSimulator(cfg), NewSimulator(cfg)
	for i := 0; i < 100; i++ {
		fa := a.Fill(1000, 100)
		assert.Equal(t, fa, b.Fill(1000, 100))
		assert.Contains(t, []int64{0, 500, 1000}, fa)
	}
	clean := NewSimulator(config.SimulationConfig{})
	assert.Equal(t, int64(300), clean.Fill(300, 100))
}
