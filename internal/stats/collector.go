// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the module.
const (
	// Cache metrics.
	MetricCacheHits        = "keeper_cache_hits_total"
	MetricCacheMisses      = "keeper_cache_misses_total"
	MetricCacheEvictions   = "keeper_cache_evictions_total"
	MetricCacheExpirations = "keeper_cache_expirations_total"
	MetricCacheSize        = "keeper_cache_size"
	MetricCacheMemoCalls   = "keeper_cache_memoized_calls_total"

	// Backup metrics.
	MetricBackupsCreated   = "keeper_backups_created_total"
	MetricBackupFailures   = "keeper_backup_failures_total"
	MetricBackupDuration   = "keeper_backup_duration_seconds"
	MetricBackupSize       = "keeper_backup_last_size_bytes"
	MetricBackupsPruned    = "keeper_backups_pruned_total"
	MetricRestores         = "keeper_restores_total"
	MetricRestoreFailures  = "keeper_restore_failures_total"
	MetricOffsiteUploads   = "keeper_offsite_uploads_total"
	MetricOffsiteFailures  = "keeper_offsite_failures_total"
	MetricTableCaptureFail = "keeper_backup_table_failures_total"

	// Health metrics.
	MetricHealthPercent       = "keeper_health_percent"
	MetricHealthCheckFailures = "keeper_health_check_failures_total"
	MetricHealthCheckDuration = "keeper_health_check_duration_seconds"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
