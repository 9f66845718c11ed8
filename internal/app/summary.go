package app

import (
	"fmt"
	"strings"

	"qmtrader/internal/config"
	"qmtrader/internal/ledger"
)

// StartupSummary 启动时打印一次，便于核对关键配置。
type StartupSummary struct {
	Env       string
	Endpoints []string
	Trading   TradingSummary
	Monitor   MonitorSummary
	Account   AccountSummary
	Storage   config.StorageConfig
	HTTPAddr  string
	Notify    bool
}

type TradingSummary struct {
	Timezone         string
	Sessions         []string
	MaxPositionRatio float64
	MaxTradeAmount   float64
	MinTradeAmount   float64
	VolumeStep       int64
	PriceDeviation   float64
	FrequencyLimit   int
	Workers          int
}

type MonitorSummary struct {
	CheckInterval  string
	HealthInterval string
	QuoteSource    string
}

type AccountSummary struct {
	Cash        float64
	TotalAssets float64
	Positions   []string
}

func newStartupSummary(cfg *config.Config, endpoints []string, st ledger.State) *StartupSummary {
	s := &StartupSummary{
		Env:       cfg.App.Env,
		Endpoints: endpoints,
		Trading: TradingSummary{
			Timezone:         cfg.Trading.Timezone,
			Sessions:         cfg.Trading.Sessions,
			MaxPositionRatio: cfg.Trading.MaxPositionRatio,
			MaxTradeAmount:   cfg.Trading.MaxTradeAmount,
			MinTradeAmount:   cfg.Trading.MinTradeAmount,
			VolumeStep:       cfg.Trading.VolumeStep,
			PriceDeviation:   cfg.Trading.PriceDeviation,
			FrequencyLimit:   cfg.Trading.TradeFrequencyLimit,
			Workers:          cfg.Trading.Workers,
		},
		Monitor: MonitorSummary{
			CheckInterval:  cfg.Monitor.CheckInterval().String(),
			HealthInterval: cfg.Monitor.HealthCheckInterval().String(),
			QuoteSource:    cfg.Quote.Source,
		},
		Account: AccountSummary{Cash: st.Cash, TotalAssets: st.TotalAssets},
		Storage: cfg.Storage,
		Notify:  cfg.Notify.Telegram.Enabled,
	}
	if cfg.App.HTTPEnabled {
		s.HTTPAddr = cfg.App.HTTPAddr
	}
	for _, code := range st.Codes() {
		p, _ := st.Position(code)
		s.Account.Positions = append(s.Account.Positions, fmt.Sprintf("%s×%d@%.2f", code, p.Quantity, p.AverageCost))
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[策略服务 (STRATEGY API)]")
	fmt.Printf("  环境: %s\n", s.Env)
	fmt.Printf("  地址: %s\n", formatList(s.Endpoints))
	fmt.Println()

	fmt.Println("[交易限额 (TRADING LIMITS)]")
	fmt.Printf("  时区/时段: %s %s\n", s.Trading.Timezone, formatList(s.Trading.Sessions))
	fmt.Printf("  单标的最大仓位: %.2f%%\n", s.Trading.MaxPositionRatio*100)
	fmt.Printf("  单笔金额: %.0f ~ %.0f\n", s.Trading.MinTradeAmount, s.Trading.MaxTradeAmount)
	fmt.Printf("  下单步长: %d\n", s.Trading.VolumeStep)
	fmt.Printf("  价格偏离上限: %.2f%%\n", s.Trading.PriceDeviation*100)
	if s.Trading.FrequencyLimit > 0 {
		fmt.Printf("  单日成交次数上限: %d\n", s.Trading.FrequencyLimit)
	}
	fmt.Printf("  并发标的: %d\n", s.Trading.Workers)
	fmt.Println()

	fmt.Println("[调度 (SCHEDULER)]")
	fmt.Printf("  交易周期: %s\n", s.Monitor.CheckInterval)
	fmt.Printf("  健康检查: %s\n", s.Monitor.HealthInterval)
	fmt.Printf("  行情源: %s\n", s.Monitor.QuoteSource)
	fmt.Println()

	fmt.Println("[账户 (ACCOUNT)]")
	fmt.Printf("  现金: %.2f\n", s.Account.Cash)
	fmt.Printf("  总资产: %.2f\n", s.Account.TotalAssets)
	fmt.Printf("  持仓: %s\n", formatList(s.Account.Positions))
	fmt.Printf("  账本文件: %s\n", s.Storage.AccountFile)
	fmt.Printf("  数据库: %s\n", s.Storage.DBPath)
	fmt.Println()

	if s.HTTPAddr != "" {
		fmt.Printf("状态接口: http://%s\n", strings.TrimPrefix(s.HTTPAddr, "http://"))
	}
	if s.Notify {
		fmt.Println("Telegram 通知: 已启用")
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
