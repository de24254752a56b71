package config

// Defaults returns the built-in configuration tree. Every leaf listed here
// can be overridden by a KEEPER_<PATH> environment variable, where PATH is
// the upper-cased key path with dots replaced by underscores.
func Defaults() map[string]any {
	return map[string]any{
		"database": map[string]any{
			"url":     "",
			"timeout": "30s",
		},
		"datastore": map[string]any{
			"kind":       "file",
			"dir":        "data_wilo/tables",
			"codec":      "zstd",
			"key_column": "id",
		},
		"paths": map[string]any{
			"data_dir":   "data_wilo",
			"images_dir": "images",
			"backup_dir": "backups",
			"logs_dir":   "logs",
		},
		"features": map[string]any{
			"auto_backup": true,
		},
		"backup": map[string]any{
			"max_backups":            10,
			"retention_days":         7,
			"enforce_retention_days": false,
			"compression_level":      9,
			"max_backup_size_mb":     500,
			"table_row_limit":        10000,
			"restore_batch_size":     100,
			"include_images":         false,
			"schedule_hour":          2,
			"schedule_type":          "full",
			"log_window":             "7d",
			"restore_root":           ".",
			"tables": []any{
				"daily_kpis",
				"trabajadores",
				"guide_stores",
				"guide_senders",
				"guide_logs",
				"distribuciones_semanales",
			},
			"config_files": []any{
				"config.json",
				".env",
				"data_wilo/email_config.json",
				"data_wilo/gemini_config.json",
				"data_wilo/novedades_database.json",
			},
			"offsite": map[string]any{
				"kind":     "",
				"target":   "",
				"prefix":   "",
				"region":   "",
				"endpoint": "",
			},
		},
		"cache": map[string]any{
			"default_size":   1000,
			"namespace_size": 500,
			"default_ttl":    "5m",
			"sweep_interval": "1m",
		},
		"health": map[string]any{
			"enabled":             true,
			"interval":            "1m",
			"table":               "daily_kpis",
			"history_size":        1000,
			"memory_warn_percent": 80,
			"memory_fail_percent": 90,
			"disk_warn_percent":   85,
			"disk_fail_percent":   95,
		},
		"metrics": map[string]any{
			"addr": ":9090",
		},
	}
}
