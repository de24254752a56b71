// Package backup creates, lists, restores and prunes zip snapshots of the
// KPI tables, config files and data folder.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"

	"github.com/wilologistics/keeper/internal/datastore"
	"github.com/wilologistics/keeper/internal/stats"
	"github.com/wilologistics/keeper/internal/store"
)

const (
	tempDirName       = "temp"
	archiveExt        = ".zip"
	archivePrefix     = "backup_"
	maxDescriptionLen = 50
)

// Archiver manages the archives in one backup directory.
type Archiver struct {
	options
	backupDir string
	lock      *dirLock
}

// New creates an Archiver for backupDir, creating the directory if needed.
func New(backupDir string, opts ...Option) (*Archiver, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.maxBackups < 1 {
		return nil, fmt.Errorf("backup: max backups must be at least 1, got %d", o.maxBackups)
	}
	if o.level < 0 || o.level > 9 {
		return nil, fmt.Errorf("backup: compression level must be 0-9, got %d", o.level)
	}
	if o.restoreBatch <= 0 {
		o.restoreBatch = datastore.DefaultBatchSize
	}
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}
	return &Archiver{
		options:   o,
		backupDir: backupDir,
		lock:      newDirLock(backupDir),
	}, nil
}

// Dir returns the backup directory.
func (a *Archiver) Dir() string { return a.backupDir }

func (a *Archiver) report(p Progress) {
	if a.progress != nil {
		a.progress(p)
	}
}

// newBackupID returns YYYYMMDD_HHMMSS_<8 hex chars>.
func newBackupID(t time.Time) string {
	return t.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

// archiveName returns backup_<type>_<id>[_<description>].zip.
func archiveName(typ Type, id, description string) string {
	name := archivePrefix + string(typ) + "_" + id
	if d := sanitizeDescription(description); d != "" {
		name += "_" + d
	}
	return name + archiveExt
}

func sanitizeDescription(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxDescriptionLen {
		s = string(r[:maxDescriptionLen])
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':':
			return '_'
		}
		return r
	}, s)
}

// Create captures a new archive and returns its path. Only one create or
// restore runs per backup directory at a time; others get ErrBusy.
func (a *Archiver) Create(ctx context.Context, typ Type, description string) (path string, err error) {
	if _, err := ParseType(string(typ)); err != nil {
		return "", err
	}
	release, err := a.lock.acquire()
	if err != nil {
		return "", err
	}
	defer release()

	start := a.now()
	id := newBackupID(start)
	name := archiveName(typ, id, description)
	path = filepath.Join(a.backupDir, name)
	work := filepath.Join(a.backupDir, tempDirName, strings.TrimSuffix(name, archiveExt))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		if rerr := os.RemoveAll(work); rerr != nil {
			a.logger.Warn("removing working dir", zap.String("dir", work), zap.Error(rerr))
		}
		if err != nil {
			os.Remove(path)
			a.collector.IncCounter(stats.MetricBackupFailures, 1)
			a.report(Progress{Phase: PhaseError, BackupID: id, StartTime: start, Error: err})
			a.logger.Error("backup failed", zap.String("backup_id", id), zap.Error(err))
			path = ""
		}
	}()

	a.logger.Info("backup started",
		zap.String("backup_id", id),
		zap.String("type", string(typ)),
	)

	meta, err := a.build(ctx, typ, id, description, start, work, path)
	if err != nil {
		return "", err
	}

	elapsed := a.now().Sub(start)
	a.collector.IncCounter(stats.MetricBackupsCreated, 1)
	a.collector.ObserveHistogram(stats.MetricBackupDuration, elapsed.Seconds())
	a.collector.SetGauge(stats.MetricBackupSize, meta.SizeBytes)
	a.logger.Info("backup created",
		zap.String("backup_id", id),
		zap.String("file", name),
		zap.String("size", FormatBytes(meta.SizeBytes)),
		zap.Int("warnings", len(meta.Warnings)),
		zap.Duration("elapsed", elapsed),
	)

	if _, perr := a.prune(ctx); perr != nil {
		a.logger.Warn("pruning after backup", zap.Error(perr))
	}
	a.replicate(ctx, path, name)

	a.report(Progress{Phase: PhaseDone, BackupID: id, StartTime: start, BytesWritten: meta.SizeBytes})
	return path, nil
}

func (a *Archiver) build(ctx context.Context, typ Type, id, description string, start time.Time, work, path string) (*Metadata, error) {
	if err := os.MkdirAll(work, 0755); err != nil {
		return nil, fmt.Errorf("creating working dir: %w", err)
	}

	hostname, _ := os.Hostname()
	meta := &Metadata{
		BackupID:    id,
		Timestamp:   start,
		Type:        typ,
		Description: description,
		SystemInfo: SystemInfo{
			Version:         a.version,
			ConfigSource:    a.configSource,
			FeaturesEnabled: a.features,
			Hostname:        hostname,
		},
		Contents:   []ContentEntry{},
		Compressed: a.level > 0,
	}
	if meta.SystemInfo.FeaturesEnabled == nil {
		meta.SystemInfo.FeaturesEnabled = []string{}
	}
	if typ == TypeIncremental {
		a.warn(meta, "incremental backups capture the full set")
	}
	if free := a.diskFree(ctx); free > 0 && a.maxSizeBytes > 0 && free < uint64(a.maxSizeBytes) {
		a.warn(meta, fmt.Sprintf("low disk space in backup dir: %s free", FormatBytes(int64(free))))
	}

	if err := a.captureDatabase(ctx, work, meta); err != nil {
		return nil, err
	}
	if typ != TypeDatabaseOnly {
		a.captureConfigs(work, meta)
		a.captureDataDir(work, meta)
		a.captureLogs(work, meta)
		if a.includeImages {
			a.captureImages(work, meta)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.report(Progress{Phase: PhaseCompress, BackupID: id, StartTime: start})
	aw, err := createArchive(path, a.level)
	if err != nil {
		return nil, err
	}
	if _, err := aw.addTree(work); err != nil {
		aw.abort()
		return nil, fmt.Errorf("writing archive: %w", err)
	}
	size, err := aw.payloadSize()
	if err != nil {
		aw.abort()
		return nil, err
	}
	meta.SizeBytes = size
	if a.maxSizeBytes > 0 && size > a.maxSizeBytes {
		a.warn(meta, fmt.Sprintf("backup size %s exceeds limit %s", FormatBytes(size), FormatBytes(a.maxSizeBytes)))
	}
	if err := aw.writeMetadata(meta); err != nil {
		aw.abort()
		return nil, err
	}
	if err := aw.Close(); err != nil {
		return nil, err
	}
	a.report(Progress{Phase: PhaseCompress, BackupID: id, StartTime: start, BytesWritten: size})
	return meta, nil
}

// replicate copies a finished archive to the offsite store. Failures are
// logged and counted but never fail the backup.
func (a *Archiver) replicate(ctx context.Context, path, name string) {
	if a.offsite == nil {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		a.collector.IncCounter(stats.MetricOffsiteFailures, 1)
		a.logger.Warn("offsite copy failed", zap.String("file", name), zap.Error(err))
		return
	}
	defer f.Close()

	if err := a.offsite.Put(ctx, name, f); err != nil {
		a.collector.IncCounter(stats.MetricOffsiteFailures, 1)
		a.logger.Warn("offsite copy failed", zap.String("file", name), zap.Error(err))
		return
	}
	a.collector.IncCounter(stats.MetricOffsiteUploads, 1)
	a.logger.Info("offsite copy stored", zap.String("file", name))
}

func (a *Archiver) diskFree(ctx context.Context) uint64 {
	u, err := disk.UsageWithContext(ctx, a.backupDir)
	if err != nil {
		a.logger.Debug("disk usage unavailable", zap.Error(err))
		return 0
	}
	return u.Free
}

// List returns every archive in the backup directory, newest first.
// Archives without readable metadata are listed with type unknown.
func (a *Archiver) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(a.backupDir)
	if err != nil {
		return nil, fmt.Errorf("reading backup dir: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !isArchive(e) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(a.backupDir, e.Name())
		info := Info{
			Filename:    e.Name(),
			Path:        path,
			SizeBytes:   fi.Size(),
			Created:     fi.ModTime(),
			Type:        TypeUnknown,
			Description: "no metadata",
		}
		if meta, err := readMetadata(path); err == nil {
			info.BackupID = meta.BackupID
			info.Created = meta.Timestamp
			info.Type = meta.Type
			info.Description = meta.Description
			info.Contents = meta.Contents
			info.HasMetadata = true
		} else {
			a.logger.Debug("archive without metadata", zap.String("file", e.Name()), zap.Error(err))
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].Created.Equal(infos[j].Created) {
			return infos[i].Created.After(infos[j].Created)
		}
		return infos[i].Filename > infos[j].Filename
	})
	return infos, nil
}

func isArchive(e fs.DirEntry) bool {
	name := e.Name()
	return e.Type().IsRegular() && strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveExt)
}

// Stats summarizes the archives in the backup directory.
func (a *Archiver) Stats(ctx context.Context) (*Stats, error) {
	infos, err := a.List(ctx)
	if err != nil {
		return nil, err
	}

	s := &Stats{
		TotalBackups:  len(infos),
		ByType:        make(map[Type]TypeStats),
		RetentionDays: a.retentionDays,
		MaxBackups:    a.maxBackups,
		BackupDir:     a.backupDir,
		DiskFreeBytes: a.diskFree(ctx),
	}
	for _, info := range infos {
		s.TotalSizeBytes += info.SizeBytes
		ts := s.ByType[info.Type]
		ts.Count++
		ts.TotalSizeBytes += info.SizeBytes
		s.ByType[info.Type] = ts
	}
	if len(infos) > 0 {
		s.Newest = infos[0].Created
		s.Oldest = infos[len(infos)-1].Created
	}
	return s, nil
}

// Prune deletes archives beyond the retention policy and returns their names.
func (a *Archiver) Prune(ctx context.Context) ([]string, error) {
	release, err := a.lock.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return a.prune(ctx)
}

type archiveFile struct {
	name    string
	modTime time.Time
}

// prune keeps the newest maxBackups archives by modification time. When day
// based retention is enforced, older archives go too, but the newest archive
// always survives.
func (a *Archiver) prune(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(a.backupDir)
	if err != nil {
		return nil, fmt.Errorf("reading backup dir: %w", err)
	}
	var files []archiveFile
	for _, e := range entries {
		if !isArchive(e) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, archiveFile{name: e.Name(), modTime: fi.ModTime()})
	}
	// Newest first.
	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.After(files[j].modTime)
		}
		return files[i].name > files[j].name
	})

	cutoff := a.now().AddDate(0, 0, -a.retentionDays)
	var removed []string
	var errs []error
	for i, f := range files {
		expired := a.enforceDays && i > 0 && f.modTime.Before(cutoff)
		if i < a.maxBackups && !expired {
			continue
		}
		if err := os.Remove(filepath.Join(a.backupDir, f.name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, f.name)
		a.collector.IncCounter(stats.MetricBackupsPruned, 1)
		a.logger.Info("backup pruned", zap.String("file", f.name))

		if a.offsite != nil {
			if err := a.offsite.Delete(ctx, f.name); err != nil && !errors.Is(err, store.ErrNotFound) {
				a.logger.Warn("offsite prune failed", zap.String("file", f.name), zap.Error(err))
			}
		}
	}
	return removed, errors.Join(errs...)
}

// Restore extracts the named archive and writes back the categories selected
// by rt. archive may be a file name inside the backup directory or a path.
// Per-table and per-file failures are collected in the result; only a
// missing archive, missing metadata or an unsafe member fails the restore.
func (a *Archiver) Restore(ctx context.Context, archive string, rt RestoreType) (res *RestoreResult, err error) {
	if _, err := ParseRestoreType(string(rt)); err != nil {
		return nil, err
	}
	path, err := a.locate(archive)
	if err != nil {
		return nil, err
	}

	release, err := a.lock.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	start := a.now()
	tmpRoot := filepath.Join(a.backupDir, tempDirName)
	if err := os.MkdirAll(tmpRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	tmp, err := os.MkdirTemp(tmpRoot, "restore_")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		os.RemoveAll(tmp)
		if err != nil {
			res = nil
			a.collector.IncCounter(stats.MetricRestoreFailures, 1)
			a.report(Progress{Phase: PhaseError, StartTime: start, Error: err})
			a.logger.Error("restore failed", zap.String("archive", archive), zap.Error(err))
		}
	}()

	a.report(Progress{Phase: PhaseRestore, StartTime: start, Item: filepath.Base(path)})
	if _, err := extract(path, tmp); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(tmp, MetadataFile))
	if err != nil {
		return nil, ErrNoMetadata
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMetadata, err)
	}

	res = &RestoreResult{BackupID: meta.BackupID}
	if rt.database() {
		if err := a.restoreDatabase(ctx, tmp, res, start); err != nil {
			return nil, err
		}
	}
	if rt.configs() {
		a.restoreConfigs(tmp, res, start)
	}

	a.collector.IncCounter(stats.MetricRestores, 1)
	a.report(Progress{Phase: PhaseDone, BackupID: meta.BackupID, StartTime: start})
	a.logger.Info("restore completed",
		zap.String("backup_id", meta.BackupID),
		zap.String("type", string(rt)),
		zap.Int("tables", res.TablesRestored),
		zap.Int("rows", res.RowsRestored),
		zap.Int("files", res.FilesRestored),
		zap.Int("failures", len(res.Failures)),
	)
	return res, nil
}

func (a *Archiver) locate(archive string) (string, error) {
	candidates := []string{archive}
	if !filepath.IsAbs(archive) {
		candidates = []string{filepath.Join(a.backupDir, filepath.Base(archive)), archive}
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", archive, ErrNotFound)
}

func (a *Archiver) restoreDatabase(ctx context.Context, dir string, res *RestoreResult, start time.Time) error {
	files, _ := filepath.Glob(filepath.Join(dir, DirDatabase, "*.json"))
	sort.Strings(files)
	if len(files) > 0 && a.db == nil {
		res.Failures = append(res.Failures, "no datastore configured, database not restored")
		return nil
	}

	for _, file := range files {
		if filepath.Base(file) == SchemaInfoFile {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		table := strings.TrimSuffix(filepath.Base(file), ".json")
		rows, err := readRows(file)
		if err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("table %s: %v", table, err))
			continue
		}
		if len(rows) == 0 {
			continue
		}
		a.report(Progress{Phase: PhaseRestore, StartTime: start, Item: table})
		if err := a.db.UpsertRows(ctx, table, rows, a.restoreBatch); err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("table %s: %v", table, err))
			a.logger.Warn("table restore failed", zap.String("table", table), zap.Error(err))
			continue
		}
		res.TablesRestored++
		res.RowsRestored += len(rows)
	}
	return nil
}

func readRows(path string) ([]datastore.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var rows []datastore.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding rows: %w", err)
	}
	return rows, nil
}

func (a *Archiver) restoreConfigs(dir string, res *RestoreResult, start time.Time) {
	src := filepath.Join(dir, DirConfig)
	if _, err := os.Stat(src); err != nil {
		return
	}
	root, err := filepath.Abs(a.restoreRoot)
	if err != nil {
		res.Failures = append(res.Failures, fmt.Sprintf("restore root: %v", err))
		return
	}
	filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return nil
		}
		dst, err := memberPath(root, filepath.ToSlash(rel))
		if err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("config %s: %v", rel, err))
			return nil
		}
		a.report(Progress{Phase: PhaseRestore, StartTime: start, Item: rel})
		if err := copyFile(path, dst); err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("config %s: %v", rel, err))
			return nil
		}
		res.FilesRestored++
		return nil
	})
}
