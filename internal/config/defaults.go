package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppHTTPAddr        = ":9992"
	defaultAPITimeout         = 10
	defaultAPIRetryTimes      = 3
	defaultAPIRetryIntervalMS = 1000
	defaultAPIHealthPath      = "/api/v1/health"
	defaultBreakerCooldown    = 60
	defaultQuoteTTLMS         = 1000
	defaultStrategyTTL        = 30
	defaultPositionTTL        = 60
	defaultStaleFactor        = 5
	defaultInitialCash        = 1_000_000
	defaultTimezone           = "Asia/Shanghai"
	defaultMaxPositionRatio   = 0.3
	defaultMaxTradeAmount     = 500_000
	defaultMinTradeAmount     = 1_000
	defaultLotSize            = 100
	defaultPriceDeviation     = 0.1
	defaultLookbackDays       = 7
	defaultWorkers            = 4
	defaultCommissionRate     = 0.00025
	defaultMinCommission      = 5
	defaultStampDutyRate      = 0.001
	defaultTransferFeeRate    = 0.00002
	defaultPartialFillRatio   = 0.5
	defaultCheckInterval      = 30
	defaultHealthInterval     = 300
	defaultQuoteSource        = "gtimg"
	defaultQuoteBaseURL       = "https://qt.gtimg.cn"
	defaultQuoteTimeout       = 5
	defaultAccountFile        = "data/account.json"
	defaultDBPath             = "data/qmtrader.db"
)

var (
	defaultTradingDays = []int{1, 2, 3, 4, 5}
	defaultSessions    = []string{"09:30-11:30", "13:00-15:00"}
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.API.applyDefaults(keys)
	c.Cache.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Fees.applyDefaults(keys)
	c.Simulation.applyDefaults(keys)
	c.Monitor.applyDefaults(keys)
	c.Quote.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		boolFieldDefault("app.http_enabled", &a.HTTPEnabled, true),
	)
}

func (a *APIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	a.BaseURL = strings.TrimRight(strings.TrimSpace(a.BaseURL), "/")
	a.BackupURLs = normalizeURLList(a.BackupURLs, a.BaseURL)
	applyFieldDefaults(keys,
		intFieldDefault("api.timeout_seconds", &a.TimeoutSeconds, defaultAPITimeout),
		intFieldDefault("api.retry_times", &a.RetryTimes, defaultAPIRetryTimes),
		intFieldDefault("api.retry_interval_ms", &a.RetryIntervalMS, defaultAPIRetryIntervalMS),
		stringFieldDefault("api.health_path", &a.HealthPath, defaultAPIHealthPath),
		intFieldDefault("api.breaker_cooldown_seconds", &a.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
}

func (c *CacheConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("cache.quote_ttl_ms", &c.QuoteTTLMS, defaultQuoteTTLMS),
		intFieldDefault("cache.strategy_ttl_seconds", &c.StrategyTTLSeconds, defaultStrategyTTL),
		intFieldDefault("cache.position_ttl_seconds", &c.PositionTTLSeconds, defaultPositionTTL),
		intFieldDefault("cache.stale_factor", &c.StaleFactor, defaultStaleFactor),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("trading.initial_cash", &t.InitialCash, defaultInitialCash),
		stringFieldDefault("trading.timezone", &t.Timezone, defaultTimezone),
		fieldDefault{
			key:   "trading.trading_days",
			need:  func() bool { return len(t.TradingDays) == 0 },
			apply: func() { t.TradingDays = append([]int(nil), defaultTradingDays...) },
		},
		fieldDefault{
			key:   "trading.sessions",
			need:  func() bool { return len(t.Sessions) == 0 },
			apply: func() { t.Sessions = append([]string(nil), defaultSessions...) },
		},
		floatFieldDefault("trading.max_position_ratio", &t.MaxPositionRatio, defaultMaxPositionRatio),
		floatFieldDefault("trading.max_trade_amount", &t.MaxTradeAmount, defaultMaxTradeAmount),
		floatFieldDefault("trading.min_trade_amount", &t.MinTradeAmount, defaultMinTradeAmount),
		int64FieldDefault("trading.lot_size", &t.LotSize, defaultLotSize),
		floatFieldDefault("trading.price_deviation", &t.PriceDeviation, defaultPriceDeviation),
		intFieldDefault("trading.lookback_days", &t.LookbackDays, defaultLookbackDays),
		intFieldDefault("trading.workers", &t.Workers, defaultWorkers),
	)
	// 步长与最小买卖量默认跟随一手
	applyFieldDefaults(keys,
		int64FieldDefault("trading.volume_step", &t.VolumeStep, t.LotSize),
		int64FieldDefault("trading.min_buy_volume", &t.MinBuyVolume, t.LotSize),
		int64FieldDefault("trading.min_sell_volume", &t.MinSellVolume, t.LotSize),
	)
}

func (f *FeeConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("fees.commission_rate", &f.CommissionRate, defaultCommissionRate),
		floatFieldDefault("fees.min_commission", &f.MinCommission, defaultMinCommission),
		floatFieldDefault("fees.stamp_duty_rate", &f.StampDutyRate, defaultStampDutyRate),
		floatFieldDefault("fees.transfer_fee_rate", &f.TransferFeeRate, defaultTransferFeeRate),
	)
}

func (s *SimulationConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("simulation.partial_fill_ratio", &s.PartialFillRatio, defaultPartialFillRatio),
	)
}

func (m *MonitorConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("monitor.check_interval_seconds", &m.CheckIntervalSeconds, defaultCheckInterval),
		intFieldDefault("monitor.health_check_interval_seconds", &m.HealthCheckIntervalSeconds, defaultHealthInterval),
		boolFieldDefault("monitor.run_immediately", &m.RunImmediately, true),
	)
}

func (q *QuoteConfig) applyDefaults(keys keySet) {
	if q == nil {
		return
	}
	q.Source = strings.ToLower(strings.TrimSpace(q.Source))
	applyFieldDefaults(keys,
		stringFieldDefault("quote.source", &q.Source, defaultQuoteSource),
		stringFieldDefault("quote.base_url", &q.BaseURL, defaultQuoteBaseURL),
		intFieldDefault("quote.timeout_seconds", &q.TimeoutSeconds, defaultQuoteTimeout),
	)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.account_file", &s.AccountFile, defaultAccountFile),
		stringFieldDefault("storage.db_path", &s.DBPath, defaultDBPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func int64FieldDefault(key string, target *int64, def int64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func normalizeURLList(urls []string, primary string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, 0, len(urls))
	seen := map[string]bool{primary: true}
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
