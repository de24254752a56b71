package keeper

import (
	"time"

	"go.uber.org/zap"

	"github.com/wilologistics/keeper/internal/backup"
	"github.com/wilologistics/keeper/internal/config"
	"github.com/wilologistics/keeper/internal/datastore"
	"github.com/wilologistics/keeper/internal/stats"
	"github.com/wilologistics/keeper/internal/store"
)

// Option configures a Keeper.
type Option interface {
	apply(*options)
}

// options holds the keeper configuration.
type options struct {
	config    *config.Config
	datastore datastore.Store
	offsite   store.Store
	rootDir   string
	stats     stats.Collector
	logger    *zap.Logger
	now       func() time.Time
	progress  backup.ProgressFunc
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		rootDir: ".",
		stats:   stats.NewNoop(),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithConfig sets the configuration.
// If not set, the built-in defaults are used.
func WithConfig(c *config.Config) Option {
	return optionFunc(func(o *options) {
		o.config = c
	})
}

// WithDatastore sets the table datastore.
// If not set, one is opened from the datastore.* settings and closed by Close.
func WithDatastore(s datastore.Store) Option {
	return optionFunc(func(o *options) {
		o.datastore = s
	})
}

// WithOffsite sets the store archives are replicated to.
// If not set, one is opened from backup.offsite.* when configured.
func WithOffsite(s store.Store) Option {
	return optionFunc(func(o *options) {
		o.offsite = s
	})
}

// WithRootDir sets the directory relative paths in the configuration are
// resolved against. Default is the working directory.
func WithRootDir(dir string) Option {
	return optionFunc(func(o *options) {
		o.rootDir = dir
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// WithClock replaces time.Now for the cache, the archiver and the scheduler.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) {
		o.now = now
	})
}

// WithProgress sets a callback for backup and restore progress.
func WithProgress(fn backup.ProgressFunc) Option {
	return optionFunc(func(o *options) {
		o.progress = fn
	})
}
