// Package keeper keeps the KPI dashboard's data safe and fast: a namespaced,
// tag-aware result cache in front of the table datastore, and a backup
// archiver that snapshots tables, config files and the data folder.
//
// Example usage:
//
//	cfg, err := config.Load("config.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	k, err := keeper.New(ctx, keeper.WithConfig(cfg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer k.Close()
//
//	k.Start(ctx)
//	path, err := k.Backups().Create(ctx, backup.TypeFull, "before upgrade")
package keeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wilologistics/keeper/internal/backup"
	"github.com/wilologistics/keeper/internal/config"
	"github.com/wilologistics/keeper/internal/datastore"
	"github.com/wilologistics/keeper/internal/health"
	"github.com/wilologistics/keeper/internal/health/checks"
	"github.com/wilologistics/keeper/internal/stats"
	"github.com/wilologistics/keeper/internal/store"
	"github.com/wilologistics/keeper/internal/tagcache"
)

// Version is recorded in backup metadata.
const Version = "1.0.0"

// TablesNamespace is the cache namespace holding memoized table reads.
const TablesNamespace = "tables"

// Sentinel errors for well-defined error conditions.
var (
	// ErrClosed indicates the keeper has been closed.
	ErrClosed = errors.New("keeper: closed")
)

// Keeper ties the cache, the datastore and the backup archiver together.
// A Keeper is safe for concurrent use by multiple goroutines.
type Keeper struct {
	config    *config.Config
	cache     *tagcache.Manager
	sweeper   *tagcache.Sweeper
	datastore datastore.Store
	offsite   store.Store
	archiver  *backup.Archiver
	scheduler *backup.Scheduler
	health    *health.Monitor
	monitor   *health.Runner
	stats     stats.Collector
	logger    *zap.Logger

	ownsDatastore bool
	ownsOffsite   bool

	rows   func(context.Context, string) ([]datastore.Row, error)
	closed atomic.Bool
}

// New creates a Keeper. Components not supplied through options are built
// from the configuration.
func New(ctx context.Context, opts ...Option) (*Keeper, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.config == nil {
		cfg.config = config.New(nil)
	}
	c := cfg.config

	k := &Keeper{
		config: c,
		stats:  cfg.stats,
		logger: cfg.logger,
	}

	manager, err := tagcache.NewManager(
		tagcache.WithDefaultSize(c.Int("cache.default_size", tagcache.DefaultMaxSize)),
		tagcache.WithNamespaceSize(c.Int("cache.namespace_size", tagcache.DefaultNamespaceSize)),
		tagcache.WithManagerTTL(c.Duration("cache.default_ttl", tagcache.DefaultTTL)),
		tagcache.WithManagerCollector(cfg.stats),
		tagcache.WithManagerLogger(cfg.logger),
		tagcache.WithManagerClock(cfg.now),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	k.cache = manager
	k.sweeper = tagcache.NewSweeper(manager, c.Duration("cache.sweep_interval", tagcache.DefaultSweepInterval), cfg.logger)

	k.datastore = cfg.datastore
	if k.datastore == nil {
		ds, err := OpenDatastore(ctx, c, cfg.rootDir, cfg.logger)
		if err != nil {
			return nil, err
		}
		k.datastore = ds
		k.ownsDatastore = true
	}

	k.offsite = cfg.offsite
	if k.offsite == nil {
		off, err := OpenOffsite(ctx, c, cfg.rootDir)
		if err != nil {
			k.closeOwned()
			return nil, err
		}
		k.offsite = off
		k.ownsOffsite = off != nil
	}

	archiver, err := backup.New(resolvePath(cfg.rootDir, c.String("paths.backup_dir", "backups")), k.archiverOptions(cfg)...)
	if err != nil {
		k.closeOwned()
		return nil, fmt.Errorf("creating archiver: %w", err)
	}
	k.archiver = archiver

	if c.Bool("features.auto_backup", true) {
		typ, err := backup.ParseType(c.String("backup.schedule_type", string(backup.TypeFull)))
		if err != nil {
			k.closeOwned()
			return nil, fmt.Errorf("backup.schedule_type: %w", err)
		}
		k.scheduler = backup.NewScheduler(archiver, c.Int("backup.schedule_hour", 2), typ,
			backup.WithSchedulerClock(cfg.now),
			backup.WithSchedulerLogger(cfg.logger),
		)
	}

	k.health = k.newHealthMonitor(cfg)
	if c.Bool("health.enabled", true) {
		k.monitor = health.NewRunner(k.health, c.Duration("health.interval", health.DefaultInterval), cfg.logger.Named("health"))
	}

	k.rows = tagcache.Memoize(manager, "rows", k.fetchRows,
		tagcache.WithNamespace(TablesNamespace),
	)

	k.logger.Debug("keeper initialized",
		zap.String("backup_dir", archiver.Dir()),
		zap.Bool("auto_backup", k.scheduler != nil),
		zap.Bool("offsite", k.offsite != nil),
	)
	return k, nil
}

// newHealthMonitor registers the stock checks. Only the datastore check is
// critical.
func (k *Keeper) newHealthMonitor(cfg options) *health.Monitor {
	c := k.config
	m := health.NewMonitor(
		health.WithHistorySize(c.Int("health.history_size", health.DefaultHistorySize)),
		health.WithCollector(cfg.stats),
		health.WithLogger(cfg.logger.Named("health")),
		health.WithClock(cfg.now),
	)

	m.Register(checks.NewDatastore(k.datastore, c.String("health.table", "daily_kpis")), true)

	var dirs []string
	for _, key := range []string{"paths.data_dir", "paths.images_dir", "paths.logs_dir"} {
		if p := c.String(key, ""); p != "" {
			dirs = append(dirs, resolvePath(cfg.rootDir, p))
		}
	}
	dirs = append(dirs, k.archiver.Dir())
	m.Register(checks.NewStorage(dirs...), false)

	m.Register(checks.NewMemory(
		c.Float("health.memory_warn_percent", 80),
		c.Float("health.memory_fail_percent", 90),
	), false)
	m.Register(checks.NewDisk(k.archiver.Dir(),
		c.Float("health.disk_warn_percent", 85),
		c.Float("health.disk_fail_percent", 95),
	), false)
	return m
}

func (k *Keeper) archiverOptions(cfg options) []backup.Option {
	c := k.config
	opts := []backup.Option{
		backup.WithRootDir(cfg.rootDir),
		backup.WithDatastore(k.datastore),
		backup.WithTables(c.Strings("backup.tables", nil)...),
		backup.WithRowLimit(c.Int("backup.table_row_limit", backup.DefaultRowLimit)),
		backup.WithConfigFiles(c.Strings("backup.config_files", nil)...),
		backup.WithDataDir(c.String("paths.data_dir", "")),
		backup.WithLogsDir(c.String("paths.logs_dir", "")),
		backup.WithImagesDir(c.String("paths.images_dir", "")),
		backup.WithLogWindow(c.Duration("backup.log_window", backup.DefaultLogWindow)),
		backup.WithIncludeImages(c.Bool("backup.include_images", false)),
		backup.WithMaxBackups(c.Int("backup.max_backups", backup.DefaultMaxBackups)),
		backup.WithRetentionDays(c.Int("backup.retention_days", backup.DefaultRetentionDays), c.Bool("backup.enforce_retention_days", false)),
		backup.WithCompressionLevel(c.Int("backup.compression_level", backup.DefaultCompressionLevel)),
		backup.WithMaxSizeBytes(int64(c.Int("backup.max_backup_size_mb", 500)) << 20),
		backup.WithRestoreBatchSize(c.Int("backup.restore_batch_size", datastore.DefaultBatchSize)),
		backup.WithRestoreRoot(resolvePath(cfg.rootDir, c.String("backup.restore_root", "."))),
		backup.WithStats(cfg.stats),
		backup.WithLogger(cfg.logger),
		backup.WithClock(cfg.now),
		backup.WithSystemInfo(Version, configSource(c), enabledFeatures(c)...),
	}
	if k.offsite != nil {
		opts = append(opts, backup.WithOffsite(k.offsite))
	}
	if cfg.progress != nil {
		opts = append(opts, backup.WithProgress(cfg.progress))
	}
	return opts
}

// configSource describes where the active configuration came from.
func configSource(c *config.Config) string {
	src := c.Source()
	switch {
	case src.File && src.Env:
		return "file+env"
	case src.File:
		return "file"
	case src.Env:
		return "env"
	}
	return "defaults"
}

func enabledFeatures(c *config.Config) []string {
	var out []string
	for _, key := range c.Keys() {
		name, ok := strings.CutPrefix(key, "features.")
		if ok && c.Bool(key, false) {
			out = append(out, name)
		}
	}
	return out
}

// Config returns the active configuration.
func (k *Keeper) Config() *config.Config { return k.config }

// Cache returns the cache manager.
func (k *Keeper) Cache() *tagcache.Manager { return k.cache }

// Backups returns the backup archiver.
func (k *Keeper) Backups() *backup.Archiver { return k.archiver }

// Scheduler returns the daily backup scheduler, or nil when auto backup is off.
func (k *Keeper) Scheduler() *backup.Scheduler { return k.scheduler }

// Health returns the health monitor.
func (k *Keeper) Health() *health.Monitor { return k.health }

// Datastore returns the table datastore.
func (k *Keeper) Datastore() datastore.Store { return k.datastore }

// Rows returns every row of table, served from the tables cache namespace
// when a fresh copy is present. The rows are shared with the cache and must
// not be modified.
func (k *Keeper) Rows(ctx context.Context, table string) ([]datastore.Row, error) {
	if k.closed.Load() {
		return nil, ErrClosed
	}
	if !datastore.ValidTable(table) {
		return nil, fmt.Errorf("%q: %w", table, datastore.ErrInvalidTable)
	}
	return k.rows(ctx, table)
}

func (k *Keeper) fetchRows(ctx context.Context, table string) ([]datastore.Row, error) {
	return k.datastore.FetchRows(ctx, table, 0)
}

// Restore restores an archive and drops cached table reads when tables were
// written back.
func (k *Keeper) Restore(ctx context.Context, archive string, rt backup.RestoreType) (*backup.RestoreResult, error) {
	if k.closed.Load() {
		return nil, ErrClosed
	}
	res, err := k.archiver.Restore(ctx, archive, rt)
	if err != nil {
		return nil, err
	}
	if res.TablesRestored > 0 {
		n := k.cache.InvalidateFunction("rows", TablesNamespace)
		k.logger.Debug("cached table reads dropped", zap.Int("entries", n))
	}
	return res, nil
}

// Start launches the cache sweeper and, when enabled, the backup scheduler
// and health monitoring. They stop when ctx is done or Close is called.
func (k *Keeper) Start(ctx context.Context) {
	k.sweeper.Start(ctx)
	if k.scheduler != nil {
		k.scheduler.Start(ctx)
	}
	if k.monitor != nil {
		k.monitor.Start(ctx)
	}
	k.logger.Info("keeper started")
}

// Close stops background work and releases owned resources.
// After Close, the keeper should not be used.
func (k *Keeper) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if k.monitor != nil {
		k.monitor.Stop()
	}
	if k.scheduler != nil {
		k.scheduler.Stop()
	}
	k.sweeper.Stop()
	return k.closeOwned()
}

func (k *Keeper) closeOwned() error {
	var errs []error
	if k.ownsDatastore && k.datastore != nil {
		if err := k.datastore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing datastore: %w", err))
		}
	}
	if k.ownsOffsite && k.offsite != nil {
		if err := k.offsite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing offsite store: %w", err))
		}
	}
	return errors.Join(errs...)
}
