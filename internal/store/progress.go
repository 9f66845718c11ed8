package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Progress struct {
	StrategyID int64     `json:"strategy_id"`
	StockCode  string    `json:"stock_code"`
	Status     string    `json:"status"`
	Target     int64     `json:"target"`
	Filled     int64     `json:"filled"`
	LastRatio  float64   `json:"last_ratio"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *Store) GetProgress(ctx context.Context, strategyID int64) (Progress, bool, error) {
	var m StrategyProgressModel
	err := s.db.WithContext(ctx).Where("strategy_id = ?", strategyID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Progress{}, false, nil
	}
	if err != nil {
		return Progress{}, false, err
	}
	return Progress(m), true, nil
}

// SaveProgress upsert。
func (s *Store) SaveProgress(ctx context.Context, p Progress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	m := StrategyProgressModel(p)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "strategy_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stock_code", "status", "target", "filled", "last_ratio", "updated_at"}),
	}).Create(&m).Error
}

func (s *Store) ListProgress(ctx context.Context) ([]Progress, error) {
	var rows []StrategyProgressModel
	if err := s.db.WithContext(ctx).Order("strategy_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Progress, 0, len(rows))
	for _, m := range rows {
		out = append(out, Progress(m))
	}
	return out, nil
}
