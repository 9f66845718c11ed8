package app

import (
	"context"
	"fmt"

	"qmtrader/internal/config"
	"qmtrader/internal/config/loader"
	"qmtrader/internal/engine"
	"qmtrader/internal/gateway/notifier"
	"qmtrader/internal/ledger"
	"qmtrader/internal/logger"
	"qmtrader/internal/scheduler"
	"qmtrader/internal/store"
	statushttp "qmtrader/internal/transport/http/status"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：账本 actor、交易周期、健康检查周期、状态接口与通知投递。
type App struct {
	cfg        *config.Config
	ledger     *ledger.Ledger
	store      *store.Store
	engine     *engine.Engine
	trade      *scheduler.Interval
	health     *scheduler.Interval
	status     *statushttp.Server
	dispatcher *notifier.Dispatcher
	watcher    *loader.Watcher
	Summary    *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。cfgPath 为空时不启用热更新。
func NewApp(cfgPath string, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfgPath, cfg)
}

// Run 阻塞直到 ctx 结束。两个循环都退出后才停止账本，保证最后一次成交已经落盘。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.engine == nil || a.ledger == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}

	a.ledger.Start()
	defer func() {
		// 停止前按最新行情重写一次账户文件
		if err := a.ledger.Persist(context.Background()); err != nil {
			logger.Warnf("final ledger persist: %v", err)
		}
		a.ledger.Stop()
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				logger.Warnf("close store: %v", err)
			}
		}
		logger.Infof("qmtrader stopped")
	}()

	if _, err := a.engine.Reconcile(ctx); err != nil {
		logger.Warnf("持仓对账跳过: %v", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.trade.Start(ctx, a.engine.RunCycle)
	})
	group.Go(func() error {
		return a.health.Start(ctx, a.engine.RunHealthCheck)
	})
	if a.status != nil {
		// 状态接口只读且可选，启动失败不影响交易与健康检查循环
		group.Go(func() error {
			if err := a.status.Start(ctx); err != nil {
				logger.Errorf("status http server error: %v", err)
			}
			return nil
		})
	}
	if a.dispatcher != nil {
		group.Go(func() error {
			return a.dispatcher.Run(ctx)
		})
	}
	return group.Wait()
}

// Engine exposes the underlying engine (for tests and replay harnesses).
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

func (a *App) Ledger() *ledger.Ledger {
	if a == nil {
		return nil
	}
	return a.ledger
}
