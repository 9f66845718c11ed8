package store

import (
	"time"

	"gorm.io/datatypes"
)

// ExecutionRecordModel 本地执行记录，同时充当远端上报的 outbox。
type ExecutionRecordModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	StrategyID      int64          `gorm:"column:strategy_id;index"`
	StockCode       string         `gorm:"column:stock_code;index:idx_exec_code_day"`
	TradingDay      string         `gorm:"column:trading_day;index:idx_exec_code_day"`
	Action          string         `gorm:"column:action"`
	ExecutionPrice  float64        `gorm:"column:execution_price"`
	Volume          int64          `gorm:"column:volume"`
	ExecutionResult string         `gorm:"column:execution_result"`
	Remarks         string         `gorm:"column:remarks"`
	ExecutionTime   time.Time      `gorm:"column:execution_time"`
	Sent            bool           `gorm:"column:sent;index"`
	Attempts        int            `gorm:"column:attempts"`
	LastError       string         `gorm:"column:last_error"`
	RemoteID        int64          `gorm:"column:remote_id"`
	StatusUpdate    datatypes.JSON `gorm:"column:status_update"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (ExecutionRecordModel) TableName() string { return "execution_records" }

// StrategyProgressModel 记录每个策略的累计成交，用于状态机和重开判断。
type StrategyProgressModel struct {
	StrategyID int64     `gorm:"column:strategy_id;primaryKey;autoIncrement:false"`
	StockCode  string    `gorm:"column:stock_code"`
	Status     string    `gorm:"column:status"`
	Target     int64     `gorm:"column:target"`
	Filled     int64     `gorm:"column:filled"`
	LastRatio  float64   `gorm:"column:last_ratio"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (StrategyProgressModel) TableName() string { return "strategy_progress" }
