package backup

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownType is returned for an unrecognized backup or restore type.
	ErrUnknownType = errors.New("backup: unknown type")

	// ErrNoMetadata is returned when an archive lacks a readable metadata.json.
	ErrNoMetadata = errors.New("backup: archive has no metadata")

	// ErrNotFound is returned when an archive does not exist.
	ErrNotFound = errors.New("backup: archive not found")

	// ErrBusy is returned when another create or restore holds the backup directory.
	ErrBusy = errors.New("backup: another backup operation is in progress")

	// ErrPanic wraps a panic recovered during create or restore.
	ErrPanic = errors.New("backup: operation panicked")
)

// Type selects what a backup captures.
type Type string

const (
	TypeFull         Type = "full"
	TypeIncremental  Type = "incremental"
	TypeDatabaseOnly Type = "database_only"

	// TypeUnknown labels archives listed without readable metadata.
	TypeUnknown Type = "unknown"
)

// ParseType returns the Type named by s.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeFull, TypeIncremental, TypeDatabaseOnly:
		return t, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownType)
}

// RestoreType selects which categories a restore writes back.
type RestoreType string

const (
	RestoreFull         RestoreType = "full"
	RestoreDatabaseOnly RestoreType = "database_only"
	RestoreConfigsOnly  RestoreType = "configs_only"
)

// ParseRestoreType returns the RestoreType named by s.
func ParseRestoreType(s string) (RestoreType, error) {
	switch t := RestoreType(s); t {
	case RestoreFull, RestoreDatabaseOnly, RestoreConfigsOnly:
		return t, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownType)
}

func (t RestoreType) database() bool { return t == RestoreFull || t == RestoreDatabaseOnly }
func (t RestoreType) configs() bool  { return t == RestoreFull || t == RestoreConfigsOnly }

// Archive member layout.
const (
	MetadataFile   = "metadata.json"
	SchemaInfoFile = "schema_info.json"

	DirDatabase = "database"
	DirConfig   = "config"
	DirData     = "wilo_data"
	DirLogs     = "logs"
	DirImages   = "images"
)

// Content categories recorded in Metadata.Contents.
const (
	ContentDatabase = "database"
	ContentConfig   = "config"
	ContentData     = "wilo_data"
	ContentLogs     = "logs"
	ContentImages   = "images"
)

// Metadata is stored as metadata.json inside every archive.
type Metadata struct {
	BackupID    string         `json:"backup_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        Type           `json:"type"`
	Description string         `json:"description"`
	SystemInfo  SystemInfo     `json:"system_info"`
	Contents    []ContentEntry `json:"contents"`
	// SizeBytes is the compressed size of every member written before metadata.json.
	SizeBytes  int64    `json:"size_bytes"`
	Compressed bool     `json:"compressed"`
	Warnings   []string `json:"warnings,omitempty"`
}

// SystemInfo describes the installation that produced an archive.
type SystemInfo struct {
	Version         string   `json:"version"`
	ConfigSource    string   `json:"config_source"`
	FeaturesEnabled []string `json:"features_enabled"`
	Hostname        string   `json:"hostname,omitempty"`
}

// ContentEntry records one captured item. Which fields are set depends on Type.
type ContentEntry struct {
	Type        string `json:"type"`
	Table       string `json:"table,omitempty"`
	Rows        int    `json:"rows,omitempty"`
	File        string `json:"file,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Directory   string `json:"directory,omitempty"`
	FileCount   int    `json:"file_count,omitempty"`
	FilesCopied int    `json:"files_copied,omitempty"`
	Days        int    `json:"days,omitempty"`
}

// Info describes an archive found in the backup directory.
type Info struct {
	Filename    string         `json:"filename"`
	Path        string         `json:"path"`
	SizeBytes   int64          `json:"size_bytes"`
	Created     time.Time      `json:"created"`
	BackupID    string         `json:"backup_id,omitempty"`
	Type        Type           `json:"type"`
	Description string         `json:"description"`
	Contents    []ContentEntry `json:"contents,omitempty"`
	HasMetadata bool           `json:"has_metadata"`
}

// TypeStats aggregates archives of one type.
type TypeStats struct {
	Count          int   `json:"count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// Stats summarizes the backup directory.
type Stats struct {
	TotalBackups   int                `json:"total_backups"`
	TotalSizeBytes int64              `json:"total_size_bytes"`
	Oldest         time.Time          `json:"oldest,omitempty"`
	Newest         time.Time          `json:"newest,omitempty"`
	ByType         map[Type]TypeStats `json:"by_type"`
	RetentionDays  int                `json:"retention_days"`
	MaxBackups     int                `json:"max_backups"`
	BackupDir      string             `json:"backup_dir"`
	DiskFreeBytes  uint64             `json:"disk_free_bytes"`
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	BackupID       string   `json:"backup_id"`
	TablesRestored int      `json:"tables_restored"`
	RowsRestored   int      `json:"rows_restored"`
	FilesRestored  int      `json:"files_restored"`
	Failures       []string `json:"failures,omitempty"`
}
