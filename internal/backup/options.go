package backup

import (
	"time"

	"go.uber.org/zap"

	"github.com/wilologistics/keeper/internal/datastore"
	"github.com/wilologistics/keeper/internal/stats"
	"github.com/wilologistics/keeper/internal/store"
)

// Defaults used when an option is not given.
const (
	DefaultMaxBackups       = 10
	DefaultRetentionDays    = 7
	DefaultCompressionLevel = 9
	DefaultRowLimit         = 10000
	DefaultLogWindow        = 7 * 24 * time.Hour
	DefaultMaxSizeBytes     = 500 << 20
)

// Option configures an Archiver.
type Option interface {
	apply(*options)
}

type options struct {
	rootDir       string
	db            datastore.Store
	tables        []string
	rowLimit      int
	configFiles   []string
	dataDir       string
	logsDir       string
	imagesDir     string
	logWindow     time.Duration
	includeImages bool

	maxBackups    int
	retentionDays int
	enforceDays   bool
	level         int
	maxSizeBytes  int64
	restoreBatch  int
	restoreRoot   string

	offsite      store.Store
	collector    stats.Collector
	logger       *zap.Logger
	now          func() time.Time
	progress     ProgressFunc
	version      string
	configSource string
	features     []string
}

func defaultOptions() options {
	return options{
		rootDir:       ".",
		rowLimit:      DefaultRowLimit,
		logWindow:     DefaultLogWindow,
		maxBackups:    DefaultMaxBackups,
		retentionDays: DefaultRetentionDays,
		level:         DefaultCompressionLevel,
		maxSizeBytes:  DefaultMaxSizeBytes,
		restoreBatch:  datastore.DefaultBatchSize,
		restoreRoot:   ".",
		collector:     stats.NewNoop(),
		logger:        zap.NewNop(),
		now:           time.Now,
		version:       "dev",
		configSource:  "defaults",
	}
}

type optionFunc func(*options)

var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithRootDir sets the directory relative config, data, log and image paths
// are resolved against. Default is the working directory.
func WithRootDir(dir string) Option {
	return optionFunc(func(o *options) { o.rootDir = dir })
}

// WithDatastore sets the table source for captures and the target for restores.
func WithDatastore(s datastore.Store) Option {
	return optionFunc(func(o *options) { o.db = s })
}

// WithTables sets which tables are captured.
func WithTables(tables ...string) Option {
	return optionFunc(func(o *options) { o.tables = tables })
}

// WithRowLimit caps the rows captured per table. Zero means no limit.
func WithRowLimit(n int) Option {
	return optionFunc(func(o *options) { o.rowLimit = n })
}

// WithConfigFiles sets the config files captured by full backups.
func WithConfigFiles(files ...string) Option {
	return optionFunc(func(o *options) { o.configFiles = files })
}

// WithDataDir sets the data folder copied by full backups.
func WithDataDir(dir string) Option {
	return optionFunc(func(o *options) { o.dataDir = dir })
}

// WithLogsDir sets the folder recent *.log files are taken from.
func WithLogsDir(dir string) Option {
	return optionFunc(func(o *options) { o.logsDir = dir })
}

// WithImagesDir sets the folder brand images are taken from.
func WithImagesDir(dir string) Option {
	return optionFunc(func(o *options) { o.imagesDir = dir })
}

// WithLogWindow sets how far back log files are captured.
func WithLogWindow(d time.Duration) Option {
	return optionFunc(func(o *options) { o.logWindow = d })
}

// WithIncludeImages enables capturing brand images.
func WithIncludeImages(include bool) Option {
	return optionFunc(func(o *options) { o.includeImages = include })
}

// WithMaxBackups sets how many archives are kept.
func WithMaxBackups(n int) Option {
	return optionFunc(func(o *options) { o.maxBackups = n })
}

// WithRetentionDays sets the age limit applied when enforce is true.
func WithRetentionDays(days int, enforce bool) Option {
	return optionFunc(func(o *options) {
		o.retentionDays = days
		o.enforceDays = enforce
	})
}

// WithCompressionLevel sets the deflate level, 0-9.
func WithCompressionLevel(level int) Option {
	return optionFunc(func(o *options) { o.level = level })
}

// WithMaxSizeBytes sets the size above which a backup carries a warning.
func WithMaxSizeBytes(n int64) Option {
	return optionFunc(func(o *options) { o.maxSizeBytes = n })
}

// WithRestoreBatchSize sets how many rows are upserted per batch on restore.
func WithRestoreBatchSize(n int) Option {
	return optionFunc(func(o *options) { o.restoreBatch = n })
}

// WithRestoreRoot sets where restored config files are written.
func WithRestoreRoot(dir string) Option {
	return optionFunc(func(o *options) { o.restoreRoot = dir })
}

// WithOffsite replicates every new archive to s and prunes it alongside local copies.
func WithOffsite(s store.Store) Option {
	return optionFunc(func(o *options) { o.offsite = s })
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) { o.collector = c })
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) { o.logger = l })
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) { o.now = now })
}

// WithProgress sets a callback for progress updates.
func WithProgress(fn ProgressFunc) Option {
	return optionFunc(func(o *options) { o.progress = fn })
}

// WithSystemInfo sets the version, config source and enabled features
// recorded in metadata.
func WithSystemInfo(version, configSource string, features ...string) Option {
	return optionFunc(func(o *options) {
		o.version = version
		o.configSource = configSource
		o.features = features
	})
}
