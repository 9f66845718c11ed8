package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"qmtrader/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	inner *FileStore
	fail  bool
}

func (s *flakyStore) Load() (State, bool, error) { return s.inner.Load() }

func (s *flakyStore) Save(st State) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.inner.Save(st)
}

func openLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	l, err := Open(store, 1_000_000)
	require.NoError(t, err)
	l.Start()
	t.Cleanup(l.Stop)
	return l
}

func buyFill(code string, qty int64, price, fees float64) Fill {
	return Fill{StockCode: code, Side: strategy.ActionBuy, Quantity: qty, Price: price, Fees: fees}
}

func sellFill(code string, qty int64, price, fees float64) Fill {
	return Fill{StockCode: code, Side: strategy.ActionSell, Quantity: qty, Price: price, Fees: fees}
}

func TestApplyFill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.json")
	l := openLedger(t, NewFileStore(path))
	ctx := context.Background()

	st, err := l.ApplyFill(ctx, buyFill("600519", 100, 10, 5))
	require.NoError(t, err)
	assert.InDelta(t, 998_995, st.Cash, 1e-6)
	pos, ok := st.Position("600519")
	require.True(t, ok)
	assert.Equal(t, int64(100), pos.Quantity)
	assert.InDelta(t, 10.05, pos.AverageCost, 1e-9)

	t.Run("weighted average cost", func(t *testing.T) {
		st, err := l.ApplyFill(ctx, buyFill("600519", 100, 12, 5))
		require.NoError(t, err)
		pos, _ := st.Position("600519")
		assert.Equal(t, int64(200), pos.Quantity)
		assert.InDelta(t, 11.05, pos.AverageCost, 1e-9)
	})

	t.Run("sell keeps cost and closing removes entry", func(t *testing.T) {
		st, err := l.ApplyFill(ctx, sellFill("600519", 100, 13, 6.3))
		require.NoError(t, err)
		pos, _ := st.Position("600519")
		assert.Equal(t, int64(100), pos.Quantity)
		assert.InDelta(t, 11.05, pos.AverageCost, 1e-9)

		st, err = l.ApplyFill(ctx, sellFill("600519", 100, 13, 6.3))
		require.NoError(t, err)
		_, ok := st.Position("600519")
		assert.False(t, ok)
		assert.InDelta(t, st.Cash, st.TotalAssets, 1e-6)
	})

	t.Run("persisted file matches snapshot", func(t *testing.T) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var onDisk State
		require.NoError(t, json.Unmarshal(data, &onDisk))
		snap := l.Snapshot()
		assert.InDelta(t, snap.Cash, onDisk.Cash, 1e-9)
		assert.Empty(t, onDisk.Positions)
	})
}

func TestApplyFillRejects(t *testing.T) {
	l := openLedger(t, NewFileStore(filepath.Join(t.TempDir(), "account.json")))
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, buyFill("000001", 100_000, 20, 5))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = l.ApplyFill(ctx, sellFill("000001", 100, 20, 5))
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	_, err = l.ApplyFill(ctx, buyFill("000001", 0, 20, 5))
	assert.ErrorIs(t, err, ErrInvalidFill)

	assert.InDelta(t, 1_000_000, l.Snapshot().Cash, 1e-9)
}

func TestApplyFillPersistenceFailureRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.json")
	store := &flakyStore{inner: NewFileStore(path)}
	l := openLedger(t, store)
	ctx := context.Background()

	store.fail = true
	_, err := l.ApplyFill(ctx, buyFill("600000", 100, 10, 5))
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	assert.Empty(t, l.Snapshot().Positions)
	assert.InDelta(t, 1_000_000, l.Snapshot().Cash, 1e-9)

	onDisk, ok, err := store.inner.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1_000_000, onDisk.Cash, 1e-9)

	store.fail = false
	_, err = l.ApplyFill(ctx, buyFill("600000", 100, 10, 5))
	require.NoError(t, err)
}

func TestMarkPricesRecomputesTotalAssets(t *testing.T) {
	l := openLedger(t, NewFileStore(filepath.Join(t.TempDir(), "account.json")))
	ctx := context.Background()
	_, err := l.ApplyFill(ctx, buyFill("600519", 100, 1500, 37.5))
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, buyFill("000001", 1000, 10, 5))
	require.NoError(t, err)

	st, err := l.MarkPrices(ctx, map[string]float64{"600519": 1600, "000001": 11})
	require.NoError(t, err)
	assert.InDelta(t, st.Cash+100*1600+1000*11, st.TotalAssets, 1e-6)
}

func TestConcurrentFillsKeepInvariants(t *testing.T) {
	l := openLedger(t, NewFileStore(filepath.Join(t.TempDir(), "account.json")))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := []string{"600519", "000001", "300750"}[i%3]
			_, _ = l.ApplyFill(ctx, buyFill(code, 1000, 50, 12.5))
		}(i)
	}
	wg.Wait()

	st := l.Snapshot()
	assert.GreaterOrEqual(t, st.Cash, 0.0)
	var qty int64
	for _, p := range st.Positions {
		qty += p.Quantity
	}
	// 每笔 50012.5，现金只够 19 笔
	assert.Equal(t, int64(19_000), qty)
	assert.InDelta(t, st.Cash+st.MarketValue(), st.TotalAssets, 1e-6)
}

func TestReopenFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.json")
	l, err := Open(NewFileStore(path), 1_000_000)
	require.NoError(t, err)
	l.Start()
	_, err = l.ApplyFill(context.Background(), buyFill("600519", 200, 10, 5))
	require.NoError(t, err)
	l.Stop()

	_, err = l.ApplyFill(context.Background(), buyFill("600519", 100, 10, 5))
	assert.ErrorIs(t, err, ErrStopped)

	again, err := Open(NewFileStore(path), 5)
	require.NoError(t, err)
	pos, ok := again.Snapshot().Position("600519")
	require.True(t, ok)
	assert.Equal(t, int64(200), pos.Quantity)
	assert.WithinDuration(t, time.Now(), again.Snapshot().LastUpdated, time.Minute)
}
