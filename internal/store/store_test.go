package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "qmtrader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExecutionOutbox(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ratio := 0.2
	rec := &ExecutionRecord{
		StrategyID:      7,
		StockCode:       "600519",
		TradingDay:      "2024-03-04",
		Action:          "buy",
		ExecutionPrice:  15.5,
		Volume:          6400,
		ExecutionResult: "success",
		ExecutionTime:   time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		StatusUpdate:    &StatusUpdate{ExecutionStatus: "completed", PositionRatio: &ratio},
	}
	require.NoError(t, s.InsertExecution(ctx, rec))
	require.NotEmpty(t, rec.ID)

	failed := &ExecutionRecord{StrategyID: 8, StockCode: "600519", TradingDay: "2024-03-04", Action: "buy", ExecutionResult: "failed", Remarks: "SimulatedRejection"}
	require.NoError(t, s.InsertExecution(ctx, failed))

	unsent, err := s.ListExecutions(ctx, ExecutionQuery{UnsentOnly: true})
	require.NoError(t, err)
	require.Len(t, unsent, 2)
	assert.Equal(t, rec.ID, unsent[0].ID)
	require.NotNil(t, unsent[0].StatusUpdate)
	assert.Equal(t, "completed", unsent[0].StatusUpdate.ExecutionStatus)

	n, err := s.CountFills(ctx, "600519", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.MarkAttemptFailed(ctx, failed.ID, errors.New("timeout")))
	got, ok, err := s.GetExecution(ctx, failed.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "timeout", got.LastError)
	assert.False(t, got.Sent)

	require.NoError(t, s.MarkSent(ctx, rec.ID, 99))
	pending, err := s.PendingStatusUpdates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(99), pending[0].RemoteID)

	require.NoError(t, s.ClearStatusUpdate(ctx, rec.ID))
	pending, err = s.PendingStatusUpdates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	left, err := s.CountUnsent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	byStrategy, err := s.ListExecutions(ctx, ExecutionQuery{StrategyID: 7})
	require.NoError(t, err)
	require.Len(t, byStrategy, 1)
	assert.True(t, byStrategy[0].Sent)
}

func TestCompleteStatusUpdateSupersedesOlder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	var recs []ExecutionRecord
	for i, status := range []string{"partial", "completed"} {
		rec := ExecutionRecord{
			StrategyID: 5, StockCode: "600000", Action: "buy", Volume: 100, ExecutionResult: "success",
			ExecutionTime: base, CreatedAt: base.Add(time.Duration(i) * time.Second),
			StatusUpdate: &StatusUpdate{ExecutionStatus: status},
		}
		require.NoError(t, s.InsertExecution(ctx, &rec))
		require.NoError(t, s.MarkSent(ctx, rec.ID, int64(i+1)))
		recs = append(recs, rec)
	}

	require.NoError(t, s.CompleteStatusUpdate(ctx, recs[1]))
	pending, err := s.PendingStatusUpdates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProgressUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetProgress(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveProgress(ctx, Progress{StrategyID: 1, StockCode: "000001", Status: "partial", Target: 1000, Filled: 500, LastRatio: 0.1}))
	require.NoError(t, s.SaveProgress(ctx, Progress{StrategyID: 1, StockCode: "000001", Status: "completed", Target: 1000, Filled: 1000, LastRatio: 0.1}))

	p, ok, err := s.GetProgress(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "completed", p.Status)
	assert.Equal(t, int64(1000), p.Filled)

	all, err := s.ListProgress(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTxRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Tx(ctx, func(tx *Store) error {
		require.NoError(t, tx.SaveProgress(ctx, Progress{StrategyID: 3, Status: "partial"}))
		return errors.New("abort")
	})
	require.Error(t, err)
	_, ok, err := s.GetProgress(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}
