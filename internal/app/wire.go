//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"qmtrader/internal/config"

	"github.com/google/wire"
)

func buildAppWithWire(ctx context.Context, cfgPath string, cfg *config.Config) (*App, error) {
	wire.Build(provideAppBuilder, provideAppFromBuilder)
	return nil, nil
}
