// Package recorder 把每次执行尝试写入本地 outbox 并上报远端；
// 上报失败不影响已提交的账本，由健康检查周期补发。
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qmtrader/internal/gateway/strategyapi"
	"qmtrader/internal/logger"
	"qmtrader/internal/pkg/convert"
	"qmtrader/internal/store"
)

var log = logger.With("recorder")

var ErrRecordingFailed = errors.New("recording failed")

// maxAttempts 单条记录最多补发次数，超过后留在本地等待人工处理。
const maxAttempts = 20

type Remote interface {
	CreateExecution(ctx context.Context, payload strategyapi.ExecutionPayload) (strategyapi.ExecutionAck, error)
	UpdateStrategy(ctx context.Context, id int64, upd strategyapi.StrategyUpdate) error
}

type Outbox interface {
	InsertExecution(ctx context.Context, rec *store.ExecutionRecord) error
	MarkSent(ctx context.Context, id string, remoteID int64) error
	MarkAttemptFailed(ctx context.Context, id string, cause error) error
	CompleteStatusUpdate(ctx context.Context, rec store.ExecutionRecord) error
	ListExecutions(ctx context.Context, q store.ExecutionQuery) ([]store.ExecutionRecord, error)
	PendingStatusUpdates(ctx context.Context, limit int) ([]store.ExecutionRecord, error)
}

// Attempt 一次执行器调用的结果，失败也要记录（volume=0）。
type Attempt struct {
	StrategyID   int64
	StockCode    string
	Action       string
	Price        float64
	Volume       int64
	Result       string
	Remarks      string
	At           time.Time
	TradingDay   string
	StatusUpdate *store.StatusUpdate
}

type Recorder struct {
	remote Remote
	outbox Outbox
	loc    *time.Location
}

func New(remote Remote, outbox Outbox, loc *time.Location) *Recorder {
	if loc == nil {
		loc = time.Local
	}
	return &Recorder{remote: remote, outbox: outbox, loc: loc}
}

// Record 先落本地，再上报。返回的记录总是有效（除非本地写入失败）。
func (r *Recorder) Record(ctx context.Context, a Attempt) (store.ExecutionRecord, error) {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	rec := store.ExecutionRecord{
		StrategyID:      a.StrategyID,
		StockCode:       a.StockCode,
		TradingDay:      a.TradingDay,
		Action:          a.Action,
		ExecutionPrice:  a.Price,
		Volume:          a.Volume,
		ExecutionResult: a.Result,
		Remarks:         a.Remarks,
		ExecutionTime:   a.At,
		StatusUpdate:    a.StatusUpdate,
	}
	if err := r.outbox.InsertExecution(ctx, &rec); err != nil {
		return rec, fmt.Errorf("%w: local outbox: %w", ErrRecordingFailed, err)
	}
	if err := r.send(ctx, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (r *Recorder) payload(rec store.ExecutionRecord) strategyapi.ExecutionPayload {
	return strategyapi.ExecutionPayload{
		StrategyID:      rec.StrategyID,
		StockCode:       rec.StockCode,
		Action:          rec.Action,
		ExecutionPrice:  rec.ExecutionPrice,
		Volume:          rec.Volume,
		ExecutionResult: rec.ExecutionResult,
		Remarks:         rec.Remarks,
		ExecutionTime:   convert.FormatTimestamp(rec.ExecutionTime, r.loc),
		IdempotencyKey:  rec.ID,
	}
}

func (r *Recorder) send(ctx context.Context, rec *store.ExecutionRecord) error {
	ack, err := r.remote.CreateExecution(ctx, r.payload(*rec))
	if err != nil {
		if markErr := r.outbox.MarkAttemptFailed(ctx, rec.ID, err); markErr != nil {
			log.Errorf("mark attempt failed for %s: %v", rec.ID, markErr)
		}
		rec.Attempts++
		log.Warnf("执行记录 %s (策略 %d) 上报失败，稍后重试: %v", rec.ID, rec.StrategyID, err)
		return fmt.Errorf("%w: %w", ErrRecordingFailed, err)
	}
	if err := r.outbox.MarkSent(ctx, rec.ID, ack.ID); err != nil {
		log.Errorf("mark sent for %s: %v", rec.ID, err)
	}
	rec.Sent = true
	rec.RemoteID = ack.ID
	rec.Attempts++
	if rec.StatusUpdate != nil {
		r.applyStatus(ctx, *rec)
	}
	return nil
}

// applyStatus 执行记录确认后才推送策略状态。失败保留在 outbox 中。
func (r *Recorder) applyStatus(ctx context.Context, rec store.ExecutionRecord) bool {
	if rec.StatusUpdate == nil {
		return true
	}
	upd := strategyapi.StrategyUpdate{
		ExecutionStatus: rec.StatusUpdate.ExecutionStatus,
		PositionRatio:   rec.StatusUpdate.PositionRatio,
		IsActive:        rec.StatusUpdate.IsActive,
	}
	if err := r.remote.UpdateStrategy(ctx, rec.StrategyID, upd); err != nil {
		log.Warnf("策略 %d 状态 %s 推送失败: %v", rec.StrategyID, upd.ExecutionStatus, err)
		return false
	}
	if err := r.outbox.CompleteStatusUpdate(ctx, rec); err != nil {
		log.Errorf("complete status update for %s: %v", rec.ID, err)
	}
	log.Infof("策略 %d 状态已更新为 %s", rec.StrategyID, upd.ExecutionStatus)
	return true
}

type FlushReport struct {
	Sent           int
	Failed         int
	StatusApplied  int
	StatusDeferred int
}

// FlushPending 补发未确认的执行记录与延迟的状态更新，按创建时间顺序。
func (r *Recorder) FlushPending(ctx context.Context) (FlushReport, error) {
	var rep FlushReport
	unsent, err := r.outbox.ListExecutions(ctx, store.ExecutionQuery{UnsentOnly: true, MaxAttempts: maxAttempts, Limit: 200})
	if err != nil {
		return rep, err
	}
	for i := range unsent {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		// send 内部会推送状态，这里先摘掉，统一在下面按顺序处理
		rec := unsent[i]
		rec.StatusUpdate = nil
		if err := r.send(ctx, &rec); err != nil {
			rep.Failed++
			continue
		}
		rep.Sent++
	}
	pending, err := r.outbox.PendingStatusUpdates(ctx, 200)
	if err != nil {
		return rep, err
	}
	for _, rec := range pending {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if r.applyStatus(ctx, rec) {
			rep.StatusApplied++
		} else {
			rep.StatusDeferred++
		}
	}
	if rep.Sent+rep.Failed+rep.StatusApplied+rep.StatusDeferred > 0 {
		log.Infof("outbox flush: sent=%d failed=%d status_applied=%d status_deferred=%d",
			rep.Sent, rep.Failed, rep.StatusApplied, rep.StatusDeferred)
	}
	return rep, nil
}
