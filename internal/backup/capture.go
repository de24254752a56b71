package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wilologistics/keeper/internal/stats"
)

// imagePatterns select brand assets from the images directory.
var imagePatterns = []string{"*logo*", "*brand*"}

// schemaInfo is written to database/schema_info.json.
type schemaInfo struct {
	Tables       []string       `json:"tables"`
	BackupDate   time.Time      `json:"backup_date"`
	RecordCounts map[string]int `json:"record_counts"`
}

func (a *Archiver) warn(meta *Metadata, msg string, fields ...zap.Field) {
	meta.Warnings = append(meta.Warnings, msg)
	a.logger.Warn(msg, append(fields, zap.String("backup_id", meta.BackupID))...)
}

// captureDatabase dumps each configured table to database/<table>.json.
// Per-table failures are recorded as warnings; only cancellation aborts.
func (a *Archiver) captureDatabase(ctx context.Context, work string, meta *Metadata) error {
	a.report(Progress{Phase: PhaseDatabase, BackupID: meta.BackupID})
	if a.db == nil {
		a.warn(meta, "no datastore configured, database not captured")
		return nil
	}

	dir := filepath.Join(work, DirDatabase)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating database dir: %w", err)
	}

	counts := make(map[string]int, len(a.tables))
	for i, table := range a.tables {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := a.db.FetchRows(ctx, table, a.rowLimit)
		if err != nil {
			a.collector.IncCounter(stats.MetricTableCaptureFail, 1)
			a.warn(meta, fmt.Sprintf("table %s not captured: %v", table, err), zap.String("table", table))
			continue
		}
		counts[table] = len(rows)
		if len(rows) == 0 {
			continue
		}

		file := DirDatabase + "/" + table + ".json"
		if err := writeJSON(filepath.Join(dir, table+".json"), rows); err != nil {
			a.collector.IncCounter(stats.MetricTableCaptureFail, 1)
			a.warn(meta, fmt.Sprintf("table %s not written: %v", table, err), zap.String("table", table))
			continue
		}
		meta.Contents = append(meta.Contents, ContentEntry{
			Type:  ContentDatabase,
			Table: table,
			Rows:  len(rows),
			File:  file,
		})
		a.report(Progress{Phase: PhaseDatabase, BackupID: meta.BackupID, Item: table, ItemsDone: i + 1})
		a.logger.Debug("table captured", zap.String("table", table), zap.Int("rows", len(rows)))
	}

	info := schemaInfo{Tables: a.tables, BackupDate: meta.Timestamp, RecordCounts: counts}
	if err := writeJSON(filepath.Join(dir, SchemaInfoFile), info); err != nil {
		a.warn(meta, fmt.Sprintf("schema info not written: %v", err))
	}
	return nil
}

// captureConfigs copies each existing config file into config/, keeping its
// path relative to the root directory.
func (a *Archiver) captureConfigs(work string, meta *Metadata) {
	a.report(Progress{Phase: PhaseConfig, BackupID: meta.BackupID})

	for i, file := range a.configFiles {
		src, rel := a.resolve(file)
		info, err := os.Stat(src)
		if err != nil || !info.Mode().IsRegular() {
			a.logger.Debug("config file skipped", zap.String("file", file))
			continue
		}
		dst := filepath.Join(work, DirConfig, rel)
		if err := copyFile(src, dst); err != nil {
			a.warn(meta, fmt.Sprintf("config %s not copied: %v", file, err), zap.String("file", file))
			continue
		}
		meta.Contents = append(meta.Contents, ContentEntry{
			Type: ContentConfig,
			File: filepath.ToSlash(rel),
			Size: info.Size(),
		})
		a.report(Progress{Phase: PhaseConfig, BackupID: meta.BackupID, Item: file, ItemsDone: i + 1})
	}
}

// captureDataDir copies the data folder tree into wilo_data/.
func (a *Archiver) captureDataDir(work string, meta *Metadata) {
	a.report(Progress{Phase: PhaseData, BackupID: meta.BackupID})
	if a.dataDir == "" {
		return
	}
	src, _ := a.resolve(a.dataDir)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		a.logger.Debug("data dir missing", zap.String("dir", src))
		return
	}

	n, err := copyTree(src, filepath.Join(work, DirData), a.skipDir)
	if err != nil {
		a.warn(meta, fmt.Sprintf("data dir partially copied: %v", err), zap.String("dir", src))
	}
	meta.Contents = append(meta.Contents, ContentEntry{
		Type:      ContentData,
		Directory: filepath.ToSlash(a.dataDir),
		FileCount: n,
	})
	a.report(Progress{Phase: PhaseData, BackupID: meta.BackupID, Item: a.dataDir, ItemsDone: n})
}

// captureLogs copies *.log files modified within the log window into logs/.
func (a *Archiver) captureLogs(work string, meta *Metadata) {
	a.report(Progress{Phase: PhaseLogs, BackupID: meta.BackupID})
	if a.logsDir == "" {
		return
	}
	src, _ := a.resolve(a.logsDir)
	matches, err := filepath.Glob(filepath.Join(src, "*.log"))
	if err != nil || len(matches) == 0 {
		return
	}

	cutoff := meta.Timestamp.Add(-a.logWindow)
	var copied int
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || info.ModTime().Before(cutoff) {
			continue
		}
		if err := copyFile(path, filepath.Join(work, DirLogs, filepath.Base(path))); err != nil {
			a.warn(meta, fmt.Sprintf("log %s not copied: %v", filepath.Base(path), err))
			continue
		}
		copied++
	}
	if copied == 0 {
		return
	}
	meta.Contents = append(meta.Contents, ContentEntry{
		Type:        ContentLogs,
		Directory:   filepath.ToSlash(a.logsDir),
		FilesCopied: copied,
		Days:        int(a.logWindow / (24 * time.Hour)),
	})
	a.report(Progress{Phase: PhaseLogs, BackupID: meta.BackupID, Item: a.logsDir, ItemsDone: copied})
}

// captureImages copies brand assets into images/.
func (a *Archiver) captureImages(work string, meta *Metadata) {
	a.report(Progress{Phase: PhaseImages, BackupID: meta.BackupID})
	if a.imagesDir == "" {
		return
	}
	src, _ := a.resolve(a.imagesDir)

	seen := make(map[string]bool)
	var copied int
	for _, pattern := range imagePatterns {
		matches, _ := filepath.Glob(filepath.Join(src, pattern))
		for _, path := range matches {
			if seen[path] {
				continue
			}
			seen[path] = true
			if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
				continue
			}
			if err := copyFile(path, filepath.Join(work, DirImages, filepath.Base(path))); err != nil {
				a.warn(meta, fmt.Sprintf("image %s not copied: %v", filepath.Base(path), err))
				continue
			}
			copied++
		}
	}
	if copied == 0 {
		return
	}
	meta.Contents = append(meta.Contents, ContentEntry{
		Type:        ContentImages,
		Directory:   filepath.ToSlash(a.imagesDir),
		FilesCopied: copied,
	})
}

// resolve returns the absolute source path for a configured path and the
// relative path it is stored under inside the archive.
func (a *Archiver) resolve(p string) (src, rel string) {
	if filepath.IsAbs(p) {
		return p, filepath.Base(p)
	}
	clean := filepath.Clean(p)
	if strings.HasPrefix(clean, "..") {
		return filepath.Join(a.rootDir, clean), filepath.Base(clean)
	}
	return filepath.Join(a.rootDir, clean), clean
}

// skipDir keeps the backup directory out of data captures when it is nested
// inside the data folder.
func (a *Archiver) skipDir(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	backupAbs, err := filepath.Abs(a.backupDir)
	if err != nil {
		return false
	}
	return abs == backupAbs
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// copyFile copies src to dst, creating parent directories and keeping the
// modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm()|0200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// copyTree copies every regular file under src into dst and returns how many
// were copied. Directories for which skip returns true are not descended.
func copyTree(src, dst string, skip func(string) bool) (int, error) {
	var n int
	var errs []string
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err.Error())
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != src && skip != nil && skip(path) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if err := copyFile(path, filepath.Join(dst, rel)); err != nil {
			errs = append(errs, err.Error())
			return nil
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return n, fmt.Errorf("%d files failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return n, nil
}
