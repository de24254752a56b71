package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/wilologistics/keeper/internal/datastore"
	dsmem "github.com/wilologistics/keeper/internal/datastore/memstore"
	"github.com/wilologistics/keeper/internal/stats"
	"github.com/wilologistics/keeper/internal/store/memstore"
)

// tickingClock returns a clock that moves one second forward per call.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type fixture struct {
	root      string
	backupDir string
	db        *dsmem.Store
	collector *stats.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:      root,
		backupDir: filepath.Join(root, "backups"),
		db:        dsmem.New(),
		collector: stats.NewMemory(),
	}
	f.db.SetTable("daily_kpis", []datastore.Row{
		{"id": 1, "fecha": "2025-01-01", "guias": 120},
		{"id": 2, "fecha": "2025-01-02", "guias": 98},
	})
	f.db.SetTable("trabajadores", []datastore.Row{{"id": 7, "nombre": "Ana"}})
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (f *fixture) archiver(t *testing.T, opts ...Option) *Archiver {
	t.Helper()
	base := []Option{
		WithRootDir(f.root),
		WithDatastore(f.db),
		WithTables("daily_kpis", "trabajadores", "guide_logs"),
		WithConfigFiles("config.json", ".env", "data_wilo/email_config.json"),
		WithDataDir("data_wilo"),
		WithLogsDir("logs"),
		WithImagesDir("images"),
		WithMaxSizeBytes(0),
		WithRestoreRoot(f.root),
		WithStats(f.collector),
		WithClock(tickingClock(time.Now())),
	}
	a, err := New(f.backupDir, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func members(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader(%s) error = %v", path, err)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestCreate_DatabaseOnly(t *testing.T) {
	f := newFixture(t)
	f.db.FailFetch("guide_logs", errors.New("relation does not exist"))
	f.write(t, "config.json", `{"a": 1}`)
	a := f.archiver(t)

	path, err := a.Create(context.Background(), TypeDatabaseOnly, "before migration")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "backup_database_only_") || !strings.HasSuffix(name, "_before_migration.zip") {
		t.Errorf("archive name = %q", name)
	}

	got := members(t, path)
	if got[len(got)-1] != MetadataFile {
		t.Errorf("last member = %q, want %s", got[len(got)-1], MetadataFile)
	}
	for _, want := range []string{"database/daily_kpis.json", "database/trabajadores.json", "database/schema_info.json"} {
		if !contains(got, want) {
			t.Errorf("members = %v, missing %s", got, want)
		}
	}
	if contains(got, "config/config.json") {
		t.Error("database_only backup captured config files")
	}

	meta, err := readMetadata(path)
	if err != nil {
		t.Fatalf("readMetadata() error = %v", err)
	}
	if meta.Type != TypeDatabaseOnly {
		t.Errorf("Type = %q, want %q", meta.Type, TypeDatabaseOnly)
	}
	if meta.SizeBytes <= 0 {
		t.Errorf("SizeBytes = %d, want > 0", meta.SizeBytes)
	}
	if !meta.Compressed {
		t.Error("Compressed = false, want true")
	}
	if len(meta.Contents) != 2 || meta.Contents[0].Table != "daily_kpis" || meta.Contents[0].Rows != 2 {
		t.Errorf("Contents = %+v, want daily_kpis with 2 rows then trabajadores", meta.Contents)
	}
	if len(meta.Warnings) != 1 || !strings.Contains(meta.Warnings[0], "guide_logs") {
		t.Errorf("Warnings = %v, want one guide_logs warning", meta.Warnings)
	}

	if got := f.collector.Counter(stats.MetricBackupsCreated); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricBackupsCreated, got)
	}
	if got := f.collector.Counter(stats.MetricTableCaptureFail); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricTableCaptureFail, got)
	}
	if entries, _ := os.ReadDir(filepath.Join(f.backupDir, tempDirName)); len(entries) != 0 {
		t.Errorf("temp dir not cleaned: %d entries", len(entries))
	}
}

func TestCreate_Full(t *testing.T) {
	f := newFixture(t)
	f.write(t, "config.json", `{"backup": {}}`)
	f.write(t, "data_wilo/email_config.json", `{"smtp": "x"}`)
	f.write(t, "data_wilo/tables/daily_kpis.json", `[]`)
	f.write(t, "logs/app.log", "recent")
	old := f.write(t, "logs/old.log", "stale")
	f.write(t, "images/logo.png", "png")
	f.write(t, "images/photo.png", "png")
	past := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	a := f.archiver(t, WithIncludeImages(true))
	path, err := a.Create(context.Background(), TypeFull, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got := members(t, path)
	for _, want := range []string{
		"database/daily_kpis.json",
		"config/config.json",
		"config/data_wilo/email_config.json",
		"wilo_data/email_config.json",
		"wilo_data/tables/daily_kpis.json",
		"logs/app.log",
		"images/logo.png",
	} {
		if !contains(got, want) {
			t.Errorf("members = %v, missing %s", got, want)
		}
	}
	for _, unwanted := range []string{"logs/old.log", "images/photo.png", "config/.env"} {
		if contains(got, unwanted) {
			t.Errorf("members = %v, should not contain %s", got, unwanted)
		}
	}

	meta, err := readMetadata(path)
	if err != nil {
		t.Fatalf("readMetadata() error = %v", err)
	}
	kinds := make(map[string]bool)
	for _, c := range meta.Contents {
		kinds[c.Type] = true
		if c.Type == ContentLogs && (c.FilesCopied != 1 || c.Days != 7) {
			t.Errorf("logs entry = %+v, want 1 file over 7 days", c)
		}
	}
	for _, k := range []string{ContentDatabase, ContentConfig, ContentData, ContentLogs, ContentImages} {
		if !kinds[k] {
			t.Errorf("Contents has no %s entry: %+v", k, meta.Contents)
		}
	}
}

func TestCreate_IncrementalWarns(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t, WithTables("daily_kpis"))

	path, err := a.Create(context.Background(), TypeIncremental, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	meta, err := readMetadata(path)
	if err != nil {
		t.Fatalf("readMetadata() error = %v", err)
	}
	if len(meta.Warnings) != 1 || !strings.Contains(meta.Warnings[0], "incremental") {
		t.Errorf("Warnings = %v, want incremental warning", meta.Warnings)
	}
}

func TestCreate_UnknownType(t *testing.T) {
	a := newFixture(t).archiver(t)
	if _, err := a.Create(context.Background(), Type("weekly"), ""); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Create(weekly) error = %v, want ErrUnknownType", err)
	}
}

func TestCreate_OversizeWarning(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t, WithTables("daily_kpis"), WithMaxSizeBytes(1))

	path, err := a.Create(context.Background(), TypeDatabaseOnly, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	meta, _ := readMetadata(path)
	if meta == nil || len(meta.Warnings) == 0 || !strings.Contains(meta.Warnings[len(meta.Warnings)-1], "exceeds") {
		t.Errorf("metadata = %+v, want size warning", meta)
	}
}

type panicStore struct{}

func (panicStore) FetchRows(context.Context, string, int) ([]datastore.Row, error) {
	panic("driver exploded")
}

func (panicStore) UpsertRows(context.Context, string, []datastore.Row, int) error { return nil }
func (panicStore) Close() error                                                 { return nil }

func TestCreate_PanicRecovered(t *testing.T) {
	f := newFixture(t)
	var phases []string
	a := f.archiver(t, WithDatastore(panicStore{}), WithProgress(func(p Progress) {
		phases = append(phases, p.Phase)
	}))

	path, err := a.Create(context.Background(), TypeFull, "")
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("Create() error = %v, want ErrPanic", err)
	}
	if path != "" {
		t.Errorf("Create() path = %q, want empty", path)
	}
	infos, _ := a.List(context.Background())
	if len(infos) != 0 {
		t.Errorf("List() = %d archives after failure, want 0", len(infos))
	}
	if got := f.collector.Counter(stats.MetricBackupFailures); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricBackupFailures, got)
	}
	if len(phases) == 0 || phases[len(phases)-1] != PhaseError {
		t.Errorf("phases = %v, want last %s", phases, PhaseError)
	}

	// The lock is released after a panic.
	if _, err := a.Create(context.Background(), TypeDatabaseOnly, ""); !errors.Is(err, ErrPanic) {
		t.Errorf("second Create() error = %v, want ErrPanic not ErrBusy", err)
	}
}

func TestCreate_Progress(t *testing.T) {
	f := newFixture(t)
	var phases []string
	a := f.archiver(t, WithProgress(func(p Progress) { phases = append(phases, p.Phase) }))

	if _, err := a.Create(context.Background(), TypeFull, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if phases[0] != PhaseDatabase {
		t.Errorf("first phase = %s, want %s", phases[0], PhaseDatabase)
	}
	if last := phases[len(phases)-1]; last != PhaseDone {
		t.Errorf("last phase = %s, want %s", last, PhaseDone)
	}
	if !contains(phases, PhaseCompress) {
		t.Errorf("phases = %v, missing %s", phases, PhaseCompress)
	}
}

func TestCreate_Busy(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t)

	release, err := a.lock.acquire()
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}
	if _, err := a.Create(context.Background(), TypeFull, ""); !errors.Is(err, ErrBusy) {
		t.Errorf("Create() while locked error = %v, want ErrBusy", err)
	}

	// A second archiver on the same directory is blocked by the file lock.
	other := f.archiver(t)
	if _, err := other.Restore(context.Background(), "missing.zip", RestoreFull); !errors.Is(err, ErrNotFound) {
		t.Errorf("Restore(missing) error = %v, want ErrNotFound before locking", err)
	}
	if _, err := other.Prune(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Prune() from second archiver error = %v, want ErrBusy", err)
	}

	release()
	if _, err := a.Create(context.Background(), TypeDatabaseOnly, ""); err != nil {
		t.Errorf("Create() after release error = %v", err)
	}
}

func TestCreate_Offsite(t *testing.T) {
	f := newFixture(t)
	offsite := memstore.New()
	a := f.archiver(t, WithOffsite(offsite), WithTables("daily_kpis"))

	path, err := a.Create(context.Background(), TypeDatabaseOnly, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	local, _ := os.ReadFile(path)
	remote, ok := offsite.Bytes(filepath.Base(path))
	if !ok {
		t.Fatal("offsite copy missing")
	}
	if string(local) != string(remote) {
		t.Error("offsite copy differs from local archive")
	}
	if got := f.collector.Counter(stats.MetricOffsiteUploads); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricOffsiteUploads, got)
	}

	offsite.FailPuts(errors.New("bucket unreachable"))
	if _, err := a.Create(context.Background(), TypeDatabaseOnly, ""); err != nil {
		t.Errorf("Create() with failing offsite error = %v, want nil", err)
	}
	if got := f.collector.Counter(stats.MetricOffsiteFailures); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricOffsiteFailures, got)
	}
}

func TestPrune_MaxBackups(t *testing.T) {
	f := newFixture(t)
	offsite := memstore.New()
	a := f.archiver(t, WithMaxBackups(3), WithOffsite(offsite), WithTables("daily_kpis"))

	var paths []string
	for i := 0; i < 4; i++ {
		p, err := a.Create(context.Background(), TypeDatabaseOnly, "")
		if err != nil {
			t.Fatalf("Create() #%d error = %v", i, err)
		}
		paths = append(paths, p)
	}

	infos, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("List() = %d archives, want 3", len(infos))
	}
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Errorf("oldest archive %s still present", filepath.Base(paths[0]))
	}
	if infos[0].Path != paths[3] {
		t.Errorf("List()[0] = %s, want newest %s", infos[0].Filename, filepath.Base(paths[3]))
	}
	if objs, _ := offsite.List(context.Background()); len(objs) != 3 {
		t.Errorf("offsite has %d objects, want 3", len(objs))
	}
	if got := f.collector.Counter(stats.MetricBackupsPruned); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricBackupsPruned, got)
	}
}

func TestPrune_RetentionDays(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t, WithRetentionDays(7, true), WithTables("daily_kpis"))

	var paths []string
	for i := 0; i < 3; i++ {
		p, err := a.Create(context.Background(), TypeDatabaseOnly, "")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		paths = append(paths, p)
	}

	old := time.Now().Add(-10 * 24 * time.Hour)
	for _, p := range paths[:2] {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := a.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	sort.Strings(removed)
	want := []string{filepath.Base(paths[0]), filepath.Base(paths[1])}
	if len(removed) != 2 || removed[0] != want[0] || removed[1] != want[1] {
		t.Errorf("Prune() removed %v, want %v", removed, want)
	}

	// The newest archive survives even when it is past retention.
	if err := os.Chtimes(paths[2], old, old); err != nil {
		t.Fatal(err)
	}
	if removed, _ := a.Prune(context.Background()); len(removed) != 0 {
		t.Errorf("Prune() removed %v, want newest kept", removed)
	}
}

func TestPrune_CountOnlyByDefault(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t, WithTables("daily_kpis"))

	p, err := a.Create(context.Background(), TypeDatabaseOnly, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	q, err := a.Create(context.Background(), TypeDatabaseOnly, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	old := time.Now().Add(-30 * 24 * time.Hour)
	os.Chtimes(p, old, old)
	os.Chtimes(q, old.Add(time.Hour), old.Add(time.Hour))

	if removed, _ := a.Prune(context.Background()); len(removed) != 0 {
		t.Errorf("Prune() removed %v, want nothing without enforced retention", removed)
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(out)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	out.Close()
}

func TestList_WithoutMetadata(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t, WithTables("daily_kpis"))

	path, err := a.Create(context.Background(), TypeDatabaseOnly, "nightly")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	writeZip(t, filepath.Join(f.backupDir, "backup_manual.zip"), map[string]string{"notes.txt": "hi"})
	os.WriteFile(filepath.Join(f.backupDir, "readme.txt"), []byte("x"), 0644)

	infos, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("List() = %d entries, want 2", len(infos))
	}
	byName := make(map[string]Info)
	for _, info := range infos {
		byName[info.Filename] = info
	}

	manual := byName["backup_manual.zip"]
	if manual.HasMetadata || manual.Type != TypeUnknown || manual.Description != "no metadata" {
		t.Errorf("manual archive = %+v, want unknown without metadata", manual)
	}
	made := byName[filepath.Base(path)]
	if !made.HasMetadata || made.Type != TypeDatabaseOnly || made.Description != "nightly" || made.BackupID == "" {
		t.Errorf("created archive = %+v", made)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t, WithTables("daily_kpis"))

	ctx := context.Background()
	if _, err := a.Create(ctx, TypeDatabaseOnly, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Create(ctx, TypeFull, ""); err != nil {
		t.Fatal(err)
	}

	s, err := a.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if s.TotalBackups != 2 {
		t.Errorf("TotalBackups = %d, want 2", s.TotalBackups)
	}
	if s.ByType[TypeFull].Count != 1 || s.ByType[TypeDatabaseOnly].Count != 1 {
		t.Errorf("ByType = %+v", s.ByType)
	}
	if s.TotalSizeBytes <= 0 {
		t.Errorf("TotalSizeBytes = %d, want > 0", s.TotalSizeBytes)
	}
	if !s.Newest.After(s.Oldest) {
		t.Errorf("Newest %v not after Oldest %v", s.Newest, s.Oldest)
	}
	if s.MaxBackups != DefaultMaxBackups || s.BackupDir != f.backupDir {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestRestore_DatabaseOnly(t *testing.T) {
	f := newFixture(t)
	f.write(t, "config.json", "original")
	a := f.archiver(t)

	path, err := a.Create(context.Background(), TypeFull, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.write(t, "config.json", "changed")

	target := dsmem.New()
	b := f.archiver(t, WithDatastore(target), WithRestoreBatchSize(1))
	res, err := b.Restore(context.Background(), filepath.Base(path), RestoreDatabaseOnly)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.TablesRestored != 2 || res.RowsRestored != 3 {
		t.Errorf("Restore() = %+v, want 2 tables and 3 rows", res)
	}
	if got := len(target.Table("daily_kpis")); got != 2 {
		t.Errorf("daily_kpis rows = %d, want 2", got)
	}
	if got := len(target.Upserts()); got != 3 {
		t.Errorf("upsert batches = %d, want 3 with batch size 1", got)
	}
	if data, _ := os.ReadFile(filepath.Join(f.root, "config.json")); string(data) != "changed" {
		t.Errorf("config.json = %q, database_only restore must not touch configs", data)
	}
}

func TestRestore_ConfigsOnly(t *testing.T) {
	f := newFixture(t)
	f.write(t, "config.json", "original")
	f.write(t, "data_wilo/email_config.json", "smtp")
	a := f.archiver(t)

	path, err := a.Create(context.Background(), TypeFull, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	restoreRoot := t.TempDir()
	target := dsmem.New()
	b := f.archiver(t, WithDatastore(target), WithRestoreRoot(restoreRoot))
	res, err := b.Restore(context.Background(), path, RestoreConfigsOnly)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.FilesRestored != 2 {
		t.Errorf("FilesRestored = %d, want 2", res.FilesRestored)
	}
	if data, _ := os.ReadFile(filepath.Join(restoreRoot, "data_wilo", "email_config.json")); string(data) != "smtp" {
		t.Errorf("restored email_config.json = %q, want smtp", data)
	}
	if n := len(target.Upserts()); n != 0 {
		t.Errorf("upserts = %d, want none for configs_only", n)
	}
}

func TestRestore_Full(t *testing.T) {
	f := newFixture(t)
	f.write(t, "config.json", "original")
	f.write(t, "data_wilo/notes.json", "data")
	a := f.archiver(t)

	path, err := a.Create(context.Background(), TypeFull, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	restoreRoot := t.TempDir()
	target := dsmem.New()
	target.FailUpsert("trabajadores", errors.New("constraint violation"))
	b := f.archiver(t, WithDatastore(target), WithRestoreRoot(restoreRoot))
	res, err := b.Restore(context.Background(), path, RestoreFull)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.TablesRestored != 1 || len(res.Failures) != 1 {
		t.Errorf("Restore() = %+v, want 1 table and 1 failure", res)
	}
	if _, err := os.Stat(filepath.Join(restoreRoot, "config.json")); err != nil {
		t.Errorf("config.json not restored: %v", err)
	}
	// The data folder is captured but not written back.
	if _, err := os.Stat(filepath.Join(restoreRoot, "data_wilo", "notes.json")); !os.IsNotExist(err) {
		t.Errorf("data folder restored, want skipped")
	}
	if got := f.collector.Counter(stats.MetricRestores); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricRestores, got)
	}
}

func TestRestore_Errors(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t)
	ctx := context.Background()

	if _, err := a.Restore(ctx, "nope.zip", RestoreFull); !errors.Is(err, ErrNotFound) {
		t.Errorf("Restore(nope) error = %v, want ErrNotFound", err)
	}
	if _, err := a.Restore(ctx, "nope.zip", RestoreType("partial")); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Restore(partial) error = %v, want ErrUnknownType", err)
	}

	writeZip(t, filepath.Join(f.backupDir, "backup_bare.zip"), map[string]string{"database/daily_kpis.json": "[]"})
	if _, err := a.Restore(ctx, "backup_bare.zip", RestoreFull); !errors.Is(err, ErrNoMetadata) {
		t.Errorf("Restore(bare) error = %v, want ErrNoMetadata", err)
	}
	if entries, _ := os.ReadDir(filepath.Join(f.backupDir, tempDirName)); len(entries) != 0 {
		t.Errorf("temp dir holds %d entries after failed restore, want 0", len(entries))
	}
	if got := f.collector.Counter(stats.MetricRestoreFailures); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricRestoreFailures, got)
	}
}

func TestRestore_RejectsEscapingMembers(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t)

	for _, member := range []string{"../evil.txt", "/tmp/evil.txt", `..\evil.txt`} {
		writeZip(t, filepath.Join(f.backupDir, "backup_evil.zip"), map[string]string{
			member:       "pwned",
			MetadataFile: `{"backup_id": "x"}`,
		})
		if _, err := a.Restore(context.Background(), "backup_evil.zip", RestoreFull); err == nil {
			t.Errorf("Restore() with member %q succeeded, want error", member)
		}
	}
	if _, err := os.Stat(filepath.Join(f.backupDir, tempDirName, "evil.txt")); !os.IsNotExist(err) {
		t.Error("evil.txt written outside the extraction dir")
	}
	if _, err := os.Stat(filepath.Join(f.backupDir, "evil.txt")); !os.IsNotExist(err) {
		t.Error("evil.txt written into the backup dir")
	}
}

func TestMemberPath(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name string
		ok   bool
	}{
		{"database/daily_kpis.json", true},
		{"./config/config.json", true},
		{"test..backup.json", true},
		{"dir/", true},
		{"", false},
		{"../x", false},
		{"a/../../x", false},
		{"/etc/passwd", false},
		{`a\b`, false},
		{"C:/x", false},
		{"...", false},
		{"a/.../b", false},
	}
	for _, tt := range tests {
		got, err := memberPath(root, tt.name)
		if (err == nil) != tt.ok {
			t.Errorf("memberPath(%q) error = %v, want ok=%v", tt.name, err, tt.ok)
			continue
		}
		if err != nil && !errors.Is(err, errInvalidPath) {
			t.Errorf("memberPath(%q) error = %v, want errInvalidPath", tt.name, err)
		}
		if tt.ok && !strings.HasPrefix(got, root) {
			t.Errorf("memberPath(%q) = %q, outside %q", tt.name, got, root)
		}
	}
}

func TestArchiveName(t *testing.T) {
	id := "20250102_030405_abcdef12"
	tests := []struct {
		desc string
		want string
	}{
		{"", "backup_full_20250102_030405_abcdef12.zip"},
		{"pre deploy", "backup_full_20250102_030405_abcdef12_pre_deploy.zip"},
		{"a/b", "backup_full_20250102_030405_abcdef12_a_b.zip"},
		{strings.Repeat("x", 80), "backup_full_20250102_030405_abcdef12_" + strings.Repeat("x", 50) + ".zip"},
	}
	for _, tt := range tests {
		if got := archiveName(TypeFull, id, tt.desc); got != tt.want {
			t.Errorf("archiveName(%q) = %q, want %q", tt.desc, got, tt.want)
		}
	}

	got := newBackupID(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	if !strings.HasPrefix(got, "20250102_030405_") || len(got) != len("20250102_030405_")+8 {
		t.Errorf("newBackupID() = %q", got)
	}
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"full", "incremental", "database_only"} {
		if got, err := ParseType(s); err != nil || string(got) != s {
			t.Errorf("ParseType(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseType("configs_only"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("ParseType(configs_only) error = %v, want ErrUnknownType", err)
	}
	for _, s := range []string{"full", "database_only", "configs_only"} {
		if _, err := ParseRestoreType(s); err != nil {
			t.Errorf("ParseRestoreType(%q) error = %v", s, err)
		}
	}
	if !RestoreFull.database() || !RestoreFull.configs() || RestoreConfigsOnly.database() || RestoreDatabaseOnly.configs() {
		t.Error("restore type category mapping is wrong")
	}
}

func TestNew_Invalid(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir, WithMaxBackups(0)); err == nil {
		t.Error("New(WithMaxBackups(0)) error = nil")
	}
	if _, err := New(dir, WithCompressionLevel(10)); err == nil {
		t.Error("New(WithCompressionLevel(10)) error = nil")
	}
}
