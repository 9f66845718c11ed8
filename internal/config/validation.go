package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.API.validate(); err != nil {
		return err
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	if err := c.Trading.Validate(); err != nil {
		return err
	}
	if err := c.Fees.Validate(); err != nil {
		return err
	}
	if err := c.Simulation.validate(); err != nil {
		return err
	}
	if err := c.Monitor.validate(); err != nil {
		return err
	}
	if err := c.Quote.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *APIConfig) validate() error {
	if strings.TrimSpace(a.BaseURL) == "" {
		return fmt.Errorf("api.base_url cannot be empty")
	}
	for _, raw := range append([]string{a.BaseURL}, a.BackupURLs...) {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("api url is invalid: %q", raw)
		}
	}
	if a.RetryTimes < 1 {
		return fmt.Errorf("api.retry_times must be >= 1")
	}
	if a.RetryIntervalMS < 0 {
		return fmt.Errorf("api.retry_interval_ms must be >= 0")
	}
	if a.BreakerThreshold < 0 {
		return fmt.Errorf("api.breaker_threshold must be >= 0")
	}
	return nil
}

func (c *CacheConfig) validate() error {
	if c.StaleFactor < 1 {
		return fmt.Errorf("cache.stale_factor must be >= 1")
	}
	return nil
}

// Validate 校验交易配置；热更新时同样调用。
func (t *TradingConfig) Validate() error {
	if t.InitialCash < 0 {
		return fmt.Errorf("trading.initial_cash must be >= 0")
	}
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		return fmt.Errorf("trading.timezone invalid: %w", err)
	}
	for _, d := range t.TradingDays {
		if d < 1 || d > 7 {
			return fmt.Errorf("trading.trading_days only accepts 1..7, got %d", d)
		}
	}
	for _, s := range t.Sessions {
		if _, _, err := ParseSession(s); err != nil {
			return fmt.Errorf("trading.sessions: %w", err)
		}
	}
	if t.MaxPositionRatio <= 0 || t.MaxPositionRatio > 1 {
		return fmt.Errorf("trading.max_position_ratio must be in (0,1]")
	}
	if t.MaxTradeAmount <= 0 {
		return fmt.Errorf("trading.max_trade_amount must be > 0")
	}
	if t.MinTradeAmount < 0 || t.MinTradeAmount > t.MaxTradeAmount {
		return fmt.Errorf("trading.min_trade_amount must be in [0, max_trade_amount]")
	}
	if t.LotSize <= 0 || t.VolumeStep <= 0 {
		return fmt.Errorf("trading.lot_size and trading.volume_step must be > 0")
	}
	if t.VolumeStep%t.LotSize != 0 {
		return fmt.Errorf("trading.volume_step must be a multiple of lot_size")
	}
	if t.MinBuyVolume < 0 || t.MinSellVolume < 0 {
		return fmt.Errorf("trading.min_buy_volume/min_sell_volume must be >= 0")
	}
	if t.PriceDeviation < 0 {
		return fmt.Errorf("trading.price_deviation must be >= 0")
	}
	if t.TradeFrequencyLimit < 0 {
		return fmt.Errorf("trading.trade_frequency_limit must be >= 0")
	}
	if t.Workers < 1 {
		return fmt.Errorf("trading.workers must be >= 1")
	}
	return nil
}

func (f *FeeConfig) Validate() error {
	if f.CommissionRate < 0 || f.MinCommission < 0 || f.StampDutyRate < 0 || f.TransferFeeRate < 0 {
		return fmt.Errorf("fees must be >= 0")
	}
	return nil
}

func (s *SimulationConfig) validate() error {
	if s.PartialFillRate < 0 || s.PartialFillRate > 1 {
		return fmt.Errorf("simulation.partial_fill_rate must be in [0,1]")
	}
	if s.RejectRate < 0 || s.RejectRate > 1 {
		return fmt.Errorf("simulation.reject_rate must be in [0,1]")
	}
	if s.PartialFillRate+s.RejectRate > 1 {
		return fmt.Errorf("simulation.partial_fill_rate + reject_rate must be <= 1")
	}
	if s.PartialFillRatio <= 0 || s.PartialFillRatio >= 1 {
		return fmt.Errorf("simulation.partial_fill_ratio must be in (0,1)")
	}
	return nil
}

func (m *MonitorConfig) validate() error {
	if m.CheckIntervalSeconds <= 0 || m.HealthCheckIntervalSeconds <= 0 {
		return fmt.Errorf("monitor intervals must be > 0")
	}
	return nil
}

func (q *QuoteConfig) validate() error {
	switch q.Source {
	case "gtimg":
		if strings.TrimSpace(q.BaseURL) == "" {
			return fmt.Errorf("quote.base_url cannot be empty")
		}
	case "static":
		for code, price := range q.StaticPrices {
			if price <= 0 {
				return fmt.Errorf("quote.static_prices.%s must be > 0", code)
			}
		}
	default:
		return fmt.Errorf("quote.source must be gtimg or static, got %q", q.Source)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id")
		}
	}
	return nil
}

// ParseSession 解析 "HH:MM-HH:MM"，返回当天偏移。
func ParseSession(raw string) (start, end time.Duration, err error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("session %q must look like HH:MM-HH:MM", raw)
	}
	start, err = parseClock(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err = parseClock(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("session %q ends before it starts", raw)
	}
	return start, end, nil
}

func parseClock(raw string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", raw, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
