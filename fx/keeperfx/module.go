// Package keeperfx provides an fx module for a keeper built from a config file.
package keeperfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wilologistics/keeper"
	"github.com/wilologistics/keeper/internal/config"
	"github.com/wilologistics/keeper/internal/stats"
	"github.com/wilologistics/keeper/internal/stats/logger"
)

// Config holds configuration for the keeper.
type Config struct {
	// ConfigPath is the JSON or YAML config file. Missing files fall back
	// to the built-in defaults.
	ConfigPath string

	// RootDir is the directory relative paths are resolved against.
	// Default is the working directory.
	RootDir string
}

// Module provides a *keeper.Keeper and its *config.Config, and runs the
// cache sweeper and backup scheduler for the lifetime of the app.
// Requires a Config and a *zap.Logger to be provided. A stats.Collector
// may be supplied with fx.Decorate; otherwise metrics are logged.
var Module = fx.Module("keeper",
	fx.Provide(
		newStatsCollector,
		newConfig,
		newKeeper,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("keeper.stats"))
}

func newConfig(c Config, log *zap.Logger) (*config.Config, error) {
	return config.Load(c.ConfigPath, config.WithLogger(log.Named("config")))
}

// Params holds dependencies for creating the keeper.
type Params struct {
	fx.In

	Config    Config
	Settings  *config.Config
	Logger    *zap.Logger
	Collector stats.Collector
	Lifecycle fx.Lifecycle
}

// Result holds the provided keeper.
type Result struct {
	fx.Out

	Keeper *keeper.Keeper
}

func newKeeper(p Params) (Result, error) {
	root := p.Config.RootDir
	if root == "" {
		root = "."
	}

	k, err := keeper.New(context.Background(),
		keeper.WithConfig(p.Settings),
		keeper.WithRootDir(root),
		keeper.WithStats(p.Collector),
		keeper.WithLogger(p.Logger.Named("keeper")),
	)
	if err != nil {
		return Result{}, err
	}

	// Background work must outlive the start context.
	runCtx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			k.Start(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return k.Close()
		},
	})

	return Result{Keeper: k}, nil
}
