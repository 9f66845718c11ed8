package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StatusUpdate 是等待执行记录确认后才推送到远端的策略状态。
type StatusUpdate struct {
	ExecutionStatus string   `json:"execution_status"`
	PositionRatio   *float64 `json:"position_ratio,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
}

type ExecutionRecord struct {
	ID              string        `json:"id"`
	StrategyID      int64         `json:"strategy_id"`
	StockCode       string        `json:"stock_code"`
	TradingDay      string        `json:"trading_day"`
	Action          string        `json:"action"`
	ExecutionPrice  float64       `json:"execution_price"`
	Volume          int64         `json:"volume"`
	ExecutionResult string        `json:"execution_result"`
	Remarks         string        `json:"remarks"`
	ExecutionTime   time.Time     `json:"execution_time"`
	Sent            bool          `json:"sent"`
	Attempts        int           `json:"attempts"`
	LastError       string        `json:"last_error,omitempty"`
	RemoteID        int64         `json:"remote_id,omitempty"`
	StatusUpdate    *StatusUpdate `json:"status_update,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

type ExecutionQuery struct {
	StrategyID  int64
	StockCode   string
	UnsentOnly  bool
	MaxAttempts int // >0 时只返回尝试次数小于该值的记录
	Limit       int
}

func newExecutionModel(rec ExecutionRecord) (ExecutionRecordModel, error) {
	m := ExecutionRecordModel{
		ID:              rec.ID,
		StrategyID:      rec.StrategyID,
		StockCode:       rec.StockCode,
		TradingDay:      rec.TradingDay,
		Action:          rec.Action,
		ExecutionPrice:  rec.ExecutionPrice,
		Volume:          rec.Volume,
		ExecutionResult: rec.ExecutionResult,
		Remarks:         rec.Remarks,
		ExecutionTime:   rec.ExecutionTime,
		Sent:            rec.Sent,
		Attempts:        rec.Attempts,
		LastError:       rec.LastError,
		RemoteID:        rec.RemoteID,
		CreatedAt:       rec.CreatedAt,
	}
	if rec.StatusUpdate != nil {
		raw, err := json.Marshal(rec.StatusUpdate)
		if err != nil {
			return m, err
		}
		m.StatusUpdate = datatypes.JSON(raw)
	}
	return m, nil
}

func (m ExecutionRecordModel) toRecord() ExecutionRecord {
	rec := ExecutionRecord{
		ID:              m.ID,
		StrategyID:      m.StrategyID,
		StockCode:       m.StockCode,
		TradingDay:      m.TradingDay,
		Action:          m.Action,
		ExecutionPrice:  m.ExecutionPrice,
		Volume:          m.Volume,
		ExecutionResult: m.ExecutionResult,
		Remarks:         m.Remarks,
		ExecutionTime:   m.ExecutionTime,
		Sent:            m.Sent,
		Attempts:        m.Attempts,
		LastError:       m.LastError,
		RemoteID:        m.RemoteID,
		CreatedAt:       m.CreatedAt,
	}
	if len(m.StatusUpdate) > 0 && string(m.StatusUpdate) != "null" {
		var upd StatusUpdate
		if err := json.Unmarshal(m.StatusUpdate, &upd); err == nil {
			rec.StatusUpdate = &upd
		}
	}
	return rec
}

// InsertExecution 写入一条未发送的记录，ID 为空时生成 UUID。
func (s *Store) InsertExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil {
		return fmt.Errorf("execution record is nil")
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m, err := newExecutionModel(*rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Store) GetExecution(ctx context.Context, id string) (ExecutionRecord, bool, error) {
	var m ExecutionRecordModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ExecutionRecord{}, false, nil
	}
	if err != nil {
		return ExecutionRecord{}, false, err
	}
	return m.toRecord(), true, nil
}

// MarkSent 远端确认后调用。
func (s *Store) MarkSent(ctx context.Context, id string, remoteID int64) error {
	return s.db.WithContext(ctx).Model(&ExecutionRecordModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"sent":       true,
			"remote_id":  remoteID,
			"last_error": "",
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		}).Error
}

func (s *Store) MarkAttemptFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.db.WithContext(ctx).Model(&ExecutionRecordModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_error": msg,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		}).Error
}

// ClearStatusUpdate 延迟的状态推送成功后清除。
func (s *Store) ClearStatusUpdate(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&ExecutionRecordModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status_update": nil,
			"updated_at":    time.Now(),
		}).Error
}

// SupersedeStatusUpdates 清除同一策略更早记录上尚未推送的状态，避免乱序覆盖。
func (s *Store) SupersedeStatusUpdates(ctx context.Context, strategyID int64, before time.Time) error {
	return s.db.WithContext(ctx).Model(&ExecutionRecordModel{}).
		Where("strategy_id = ? AND created_at < ? AND status_update IS NOT NULL", strategyID, before).
		Updates(map[string]interface{}{
			"status_update": nil,
			"updated_at":    time.Now(),
		}).Error
}

// CompleteStatusUpdate 状态推送成功后，在同一事务里清除本条及同策略更早的待推送状态。
func (s *Store) CompleteStatusUpdate(ctx context.Context, rec ExecutionRecord) error {
	return s.Tx(ctx, func(tx *Store) error {
		if err := tx.ClearStatusUpdate(ctx, rec.ID); err != nil {
			return err
		}
		return tx.SupersedeStatusUpdates(ctx, rec.StrategyID, rec.CreatedAt)
	})
}

// PendingStatusUpdates 已确认但状态尚未推送的记录。
func (s *Store) PendingStatusUpdates(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []ExecutionRecordModel
	err := s.db.WithContext(ctx).
		Where("sent = ? AND status_update IS NOT NULL", true).
		Order("created_at ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func (s *Store) ListExecutions(ctx context.Context, q ExecutionQuery) ([]ExecutionRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	tx := s.db.WithContext(ctx).Model(&ExecutionRecordModel{})
	if q.StrategyID > 0 {
		tx = tx.Where("strategy_id = ?", q.StrategyID)
	}
	if code := strings.TrimSpace(q.StockCode); code != "" {
		tx = tx.Where("stock_code = ?", code)
	}
	if q.MaxAttempts > 0 {
		tx = tx.Where("attempts < ?", q.MaxAttempts)
	}
	order := "created_at DESC"
	if q.UnsentOnly {
		tx = tx.Where("sent = ?", false)
		order = "created_at ASC"
	}
	var rows []ExecutionRecordModel
	if err := tx.Order(order).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// CountFills 统计某标的在某交易日有成交的次数。
func (s *Store) CountFills(ctx context.Context, stockCode, tradingDay string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ExecutionRecordModel{}).
		Where("stock_code = ? AND trading_day = ? AND volume > 0", stockCode, tradingDay).
		Count(&n).Error
	return int(n), err
}

func (s *Store) CountUnsent(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ExecutionRecordModel{}).Where("sent = ?", false).Count(&n).Error
	return int(n), err
}

func toRecords(rows []ExecutionRecordModel) []ExecutionRecord {
	out := make([]ExecutionRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toRecord())
	}
	return out
}
