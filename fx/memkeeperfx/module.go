// Package memkeeperfx provides an fx module for a keeper with in-memory
// table and offsite stores. Useful for testing.
package memkeeperfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wilologistics/keeper"
	"github.com/wilologistics/keeper/internal/config"
	"github.com/wilologistics/keeper/internal/datastore/memstore"
	"github.com/wilologistics/keeper/internal/stats"
	offsitemem "github.com/wilologistics/keeper/internal/store/memstore"
)

// Config holds configuration for the in-memory keeper.
type Config struct {
	// RootDir holds the backup directory. Required.
	RootDir string

	// Values override the built-in configuration defaults.
	Values map[string]any
}

// Module provides an in-memory keeper for testing. Scheduled backups are off.
// Requires a Config and a *zap.Logger to be provided.
var Module = fx.Module("memkeeper",
	fx.Provide(
		newStatsCollector,
		newDatastore,
		newOffsite,
		newKeeper,
	),
)

func newStatsCollector() *stats.Memory {
	return stats.NewMemory()
}

func newDatastore() *memstore.Store {
	return memstore.New()
}

func newOffsite() *offsitemem.Store {
	return offsitemem.New()
}

// Params holds dependencies for creating the keeper.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector *stats.Memory
	Datastore *memstore.Store
	Offsite   *offsitemem.Store
	Lifecycle fx.Lifecycle
}

// Result holds the provided keeper.
type Result struct {
	fx.Out

	Keeper *keeper.Keeper
}

func newKeeper(p Params) (Result, error) {
	settings := config.New(p.Config.Values)
	if err := settings.Set("features.auto_backup", false); err != nil {
		return Result{}, err
	}

	k, err := keeper.New(context.Background(),
		keeper.WithConfig(settings),
		keeper.WithRootDir(p.Config.RootDir),
		keeper.WithDatastore(p.Datastore),
		keeper.WithOffsite(p.Offsite),
		keeper.WithStats(p.Collector),
		keeper.WithLogger(p.Logger.Named("keeper")),
	)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return k.Close()
		},
	})

	return Result{Keeper: k}, nil
}
