//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
)

// BuildApp wires the server components using Google Wire.
func BuildApp(ctx context.Context, path ConfigPath) (*App, func(), error) {
	wire.Build(
		provideConfig,
		provideLogger,
		provideRegistry,
		provideHub,
		provideActivity,
		provideStorage,
		provideNATS,
		provideUsers,
		provideListener,
		provideRefresher,
		provideHandler,
		provideServer,
		provideMetricsServer,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
