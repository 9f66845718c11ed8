package config

import (
	"strings"
	"time"
)

// Config 是 qmtrader 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	API        APIConfig        `toml:"api"`
	Cache      CacheConfig      `toml:"cache"`
	Trading    TradingConfig    `toml:"trading"`
	Fees       FeeConfig        `toml:"fees"`
	Simulation SimulationConfig `toml:"simulation"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Quote      QuoteConfig      `toml:"quote"`
	Storage    StorageConfig    `toml:"storage"`
	Notify     NotifyConfig     `toml:"notify"`
}

type AppConfig struct {
	Env         string `toml:"env"`
	LogLevel    string `toml:"log_level"`
	LogPath     string `toml:"log_path"`
	JournalPath string `toml:"journal_path"`
	HTTPAddr    string `toml:"http_addr"`
	HTTPEnabled bool   `toml:"http_enabled"`
}

// APIConfig 描述远端策略服务的访问方式。
type APIConfig struct {
	BaseURL                string   `toml:"base_url"`
	BackupURLs             []string `toml:"backup_urls"`
	Token                  string   `toml:"token"`
	TimeoutSeconds         int      `toml:"timeout_seconds"`
	RetryTimes             int      `toml:"retry_times"`      // 每个地址的总尝试次数
	RetryIntervalMS        int      `toml:"retry_interval_ms"`
	HealthPath             string   `toml:"health_path"`
	BreakerThreshold       int      `toml:"breaker_threshold"` // 0 表示关闭熔断
	BreakerCooldownSeconds int      `toml:"breaker_cooldown_seconds"`
}

func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func (a APIConfig) RetryInterval() time.Duration {
	return time.Duration(a.RetryIntervalMS) * time.Millisecond
}

func (a APIConfig) BreakerCooldown() time.Duration {
	return time.Duration(a.BreakerCooldownSeconds) * time.Second
}

type CacheConfig struct {
	QuoteTTLMS         int `toml:"quote_ttl_ms"`
	StrategyTTLSeconds int `toml:"strategy_ttl_seconds"`
	PositionTTLSeconds int `toml:"position_ttl_seconds"`
	StaleFactor        int `toml:"stale_factor"`
}

func (c CacheConfig) QuoteTTL() time.Duration {
	return time.Duration(c.QuoteTTLMS) * time.Millisecond
}

func (c CacheConfig) StrategyTTL() time.Duration {
	return time.Duration(c.StrategyTTLSeconds) * time.Second
}

func (c CacheConfig) PositionTTL() time.Duration {
	return time.Duration(c.PositionTTLSeconds) * time.Second
}

// TradingConfig 控制交易时段、风控限额与下单步长。
type TradingConfig struct {
	InitialCash         float64  `toml:"initial_cash"`
	Timezone            string   `toml:"timezone"`
	TradingDays         []int    `toml:"trading_days"` // ISO weekday，1=周一
	Sessions            []string `toml:"sessions"`     // "09:30-11:30"
	HolidaysFile        string   `toml:"holidays_file"`
	MaxPositionRatio    float64  `toml:"max_position_ratio"`
	MaxTradeAmount      float64  `toml:"max_trade_amount"`
	MinTradeAmount      float64  `toml:"min_trade_amount"`
	MinBuyVolume        int64    `toml:"min_buy_volume"`
	MinSellVolume       int64    `toml:"min_sell_volume"`
	VolumeStep          int64    `toml:"volume_step"`
	LotSize             int64    `toml:"lot_size"`
	PriceDeviation      float64  `toml:"price_deviation"`
	TradeFrequencyLimit int      `toml:"trade_frequency_limit"` // 单标的单日最大成交次数，0 不限
	LookbackDays        int      `toml:"lookback_days"`
	Workers             int      `toml:"workers"`
}

// FeeConfig A 股费用：佣金（有最低值）、印花税（仅卖出）、过户费。
type FeeConfig struct {
	CommissionRate  float64 `toml:"commission_rate"`
	MinCommission   float64 `toml:"min_commission"`
	StampDutyRate   float64 `toml:"stamp_duty_rate"`
	TransferFeeRate float64 `toml:"transfer_fee_rate"`
}

type SimulationConfig struct {
	PartialFillRate  float64 `toml:"partial_fill_rate"`
	RejectRate       float64 `toml:"reject_rate"`
	PartialFillRatio float64 `toml:"partial_fill_ratio"`
	Seed             int64   `toml:"seed"`
}

type MonitorConfig struct {
	CheckIntervalSeconds       int  `toml:"check_interval_seconds"`
	HealthCheckIntervalSeconds int  `toml:"health_check_interval_seconds"`
	RunImmediately             bool `toml:"run_immediately"`
}

func (m MonitorConfig) CheckInterval() time.Duration {
	return time.Duration(m.CheckIntervalSeconds) * time.Second
}

func (m MonitorConfig) HealthCheckInterval() time.Duration {
	return time.Duration(m.HealthCheckIntervalSeconds) * time.Second
}

type QuoteConfig struct {
	Source         string             `toml:"source"` // gtimg | static
	BaseURL        string             `toml:"base_url"`
	TimeoutSeconds int                `toml:"timeout_seconds"`
	StaticPrices   map[string]float64 `toml:"static_prices"`
}

type StorageConfig struct {
	AccountFile string `toml:"account_file"`
	DBPath      string `toml:"db_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
