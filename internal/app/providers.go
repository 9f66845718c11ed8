package app

import (
	"context"

	"qmtrader/internal/config"
)

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b *AppBuilder, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfgPath string, cfg *config.Config) *AppBuilder {
	return NewAppBuilder(cfgPath, cfg)
}

var _ appBuilderDeps = (*AppBuilder)(nil)
