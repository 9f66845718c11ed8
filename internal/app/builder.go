package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qmtrader/internal/cache"
	"qmtrader/internal/calendar"
	"qmtrader/internal/config"
	"qmtrader/internal/config/loader"
	"qmtrader/internal/engine"
	"qmtrader/internal/executor"
	"qmtrader/internal/gateway/notifier"
	"qmtrader/internal/gateway/quote"
	"qmtrader/internal/gateway/strategyapi"
	"qmtrader/internal/ledger"
	"qmtrader/internal/logger"
	"qmtrader/internal/market"
	"qmtrader/internal/recorder"
	"qmtrader/internal/scheduler"
	"qmtrader/internal/sizing"
	"qmtrader/internal/store"
	"qmtrader/internal/strategy"
	statushttp "qmtrader/internal/transport/http/status"
)

type AppBuilder struct {
	cfg     *config.Config
	cfgPath string

	quoteSourceFn func(config.QuoteConfig, *time.Location) (market.Source, error)
	fillModelFn   func(config.SimulationConfig) executor.FillModel
	textNotifier  notifier.TextNotifier
	clientOpts    []strategyapi.Option
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfgPath string, cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		cfgPath:       cfgPath,
		quoteSourceFn: buildQuoteSource,
		fillModelFn:   func(c config.SimulationConfig) executor.FillModel { return executor.NewSimulator(c) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithQuoteSource 替换行情源（测试或回放）。
func WithQuoteSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		if src != nil {
			b.quoteSourceFn = func(config.QuoteConfig, *time.Location) (market.Source, error) { return src, nil }
		}
	}
}

func WithFillModel(m executor.FillModel) AppBuilderOption {
	return func(b *AppBuilder) {
		if m != nil {
			b.fillModelFn = func(config.SimulationConfig) executor.FillModel { return m }
		}
	}
}

func WithTextNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.textNotifier = n
	}
}

func WithClientOptions(opts ...strategyapi.Option) AppBuilderOption {
	return func(b *AppBuilder) {
		b.clientOpts = append(b.clientOpts, opts...)
	}
}

func buildQuoteSource(cfg config.QuoteConfig, loc *time.Location) (market.Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "gtimg":
		return quote.NewGTimg(cfg.BaseURL, time.Duration(cfg.TimeoutSeconds)*time.Second, loc), nil
	case "static":
		return quote.NewStatic(cfg.StaticPrices), nil
	default:
		return nil, fmt.Errorf("unknown quote source %q", cfg.Source)
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	cal, err := calendar.New(cfg.Trading)
	if err != nil {
		return nil, err
	}
	loc := cal.Location()

	api, err := strategyapi.NewClient(strategyapi.Config{
		BaseURL:          cfg.API.BaseURL,
		BackupURLs:       cfg.API.BackupURLs,
		Token:            cfg.API.Token,
		Timeout:          cfg.API.Timeout(),
		RetryTimes:       cfg.API.RetryTimes,
		RetryInterval:    cfg.API.RetryInterval(),
		HealthPath:       cfg.API.HealthPath,
		BreakerThreshold: cfg.API.BreakerThreshold,
		BreakerCooldown:  cfg.API.BreakerCooldown(),
	}, b.clientOpts...)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ 策略服务地址: %s", strings.Join(api.Endpoints(), ", "))

	validator, err := strategy.NewValidator(loc)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app, err := b.assemble(ctx, cfg, cal, api, validator, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return app, nil
}

func (b *AppBuilder) assemble(ctx context.Context, cfg *config.Config, cal *calendar.Calendar, api *strategyapi.Client, validator *strategy.Validator, st *store.Store) (*App, error) {
	if err := ensureDir(cfg.Storage.AccountFile); err != nil {
		return nil, err
	}
	led, err := ledger.Open(ledger.NewFileStore(cfg.Storage.AccountFile), cfg.Trading.InitialCash)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	sizer := sizing.NewSizer(sizing.LimitsFromConfig(cfg.Trading), sizing.FeesFromConfig(cfg.Fees))
	tracker, err := executor.NewTracker(ctx, st, cfg.Trading.LotSize)
	if err != nil {
		return nil, fmt.Errorf("load strategy progress: %w", err)
	}
	limiter := executor.NewFrequencyLimiter(cfg.Trading.TradeFrequencyLimit, st)
	exec := executor.New(led, sizer, b.fillModelFn(cfg.Simulation), tracker, limiter,
		executor.WithTradingDay(cal.TradingDay))

	upstream := cache.NewUpstream()
	fetcher := strategy.NewFetcher(api, validator, upstream, strategy.FetcherConfig{
		LookbackDays: cfg.Trading.LookbackDays,
		TTL:          cfg.Cache.StrategyTTL(),
		StaleFactor:  cfg.Cache.StaleFactor,
		Location:     cal.Location(),
	}).WithReopenChecker(tracker)

	src, err := b.quoteSourceFn(cfg.Quote, cal.Location())
	if err != nil {
		return nil, err
	}
	quotes := market.NewQuoteService(src, cfg.Cache.QuoteTTL(), cfg.Cache.StaleFactor)
	evaluator := strategy.NewEvaluator(cal, strategy.Limits{PriceDeviation: cfg.Trading.PriceDeviation})
	rec := recorder.New(api, st, cal.Location())

	var dispatcher *notifier.Dispatcher
	if text := b.resolveTextNotifier(cfg.Notify); text != nil {
		dispatcher = notifier.NewDispatcher(text, 64)
	}
	deps := engine.Deps{
		Candidates: fetcher,
		Quotes:     quotes,
		Evaluator:  evaluator,
		Executor:   exec,
		Recorder:   rec,
		Account:    led,
		Progress:   tracker,
		Calendar:   cal,
		Upstream:   upstream,
		Prober:     api,
		Positions:  api,
		Sweepers:   []engine.Sweeper{fetcher, quotes},
		Workers:    cfg.Trading.Workers,
	}
	if dispatcher != nil {
		deps.Notifier = dispatcher
	}
	eng, err := engine.New(deps)
	if err != nil {
		return nil, err
	}

	var status *statushttp.Server
	if cfg.App.HTTPEnabled {
		srv, router, err := statushttp.NewServer(statushttp.ServerConfig{
			Addr:        cfg.App.HTTPAddr,
			Account:     led,
			Candidates:  fetcher,
			Executions:  st,
			Cycles:      eng,
			Upstream:    upstream,
			PositionTTL: cfg.Cache.PositionTTL(),
		})
		if err != nil {
			return nil, err
		}
		eng.OnFill(func(executor.Result) { router.InvalidateAccount() })
		status = srv
	}

	var watcher *loader.Watcher
	if strings.TrimSpace(b.cfgPath) != "" {
		watcher, err = loader.NewWatcher(b.cfgPath, cfg)
		if err != nil {
			logger.Warnf("配置热更新未启用: %v", err)
		} else {
			watcher.Subscribe(func(s loader.Snapshot) {
				evaluator.SetLimits(strategy.Limits{PriceDeviation: s.Trading.PriceDeviation})
				sizer.SetLimits(sizing.LimitsFromConfig(s.Trading))
				sizer.SetFees(sizing.FeesFromConfig(s.Fees))
				limiter.SetLimit(s.Trading.TradeFrequencyLimit)
				eng.SetWorkers(s.Trading.Workers)
				logger.Debugf("trading limits applied (config version=%d)", s.Version)
			})
		}
	}

	return &App{
		cfg:        cfg,
		ledger:     led,
		store:      st,
		engine:     eng,
		trade:      scheduler.NewInterval("trade", cfg.Monitor.CheckInterval(), cfg.Monitor.RunImmediately),
		health:     scheduler.NewInterval("health", cfg.Monitor.HealthCheckInterval(), cfg.Monitor.RunImmediately),
		status:     status,
		dispatcher: dispatcher,
		watcher:    watcher,
		Summary:    newStartupSummary(cfg, api.Endpoints(), led.Snapshot()),
	}, nil
}

func (b *AppBuilder) resolveTextNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if b.textNotifier != nil {
		return b.textNotifier
	}
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

func ensureDir(path string) error {
	dir := filepath.Dir(strings.TrimSpace(path))
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
