// Package checks provides the stock health checks: datastore reachability,
// writable storage directories, memory pressure and disk usage.
package checks

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/wilologistics/keeper/internal/datastore"
	"github.com/wilologistics/keeper/internal/health"
)

var (
	_ health.Check = (*Datastore)(nil)
	_ health.Check = (*Storage)(nil)
	_ health.Check = (*Usage)(nil)
)

// Datastore fetches a single row from a table.
type Datastore struct {
	store datastore.Store
	table string
}

// NewDatastore returns a check that reads one row of table from s.
func NewDatastore(s datastore.Store, table string) *Datastore {
	return &Datastore{store: s, table: table}
}

func (c *Datastore) Name() string { return "database" }

func (c *Datastore) Run(ctx context.Context) error {
	if c.store == nil {
		return errors.New("no datastore configured")
	}
	if _, err := c.store.FetchRows(ctx, c.table, 1); err != nil {
		return fmt.Errorf("fetching from %s: %w", c.table, err)
	}
	return nil
}

// Storage verifies that each directory exists, creating it if needed, and
// accepts writes.
type Storage struct {
	dirs []string
}

// NewStorage returns a check over dirs. Empty entries are skipped.
func NewStorage(dirs ...string) *Storage {
	return &Storage{dirs: dirs}
}

func (c *Storage) Name() string { return "storage" }

func (c *Storage) Run(ctx context.Context) error {
	for _, dir := range c.dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		f, err := os.CreateTemp(dir, "health_check_*.tmp")
		if err != nil {
			return fmt.Errorf("%s is not writable: %w", dir, err)
		}
		name := f.Name()
		f.Close()
		if err := os.Remove(name); err != nil {
			return fmt.Errorf("cleaning up in %s: %w", dir, err)
		}
	}
	return nil
}

// UsageFunc reports a usage percentage between 0 and 100.
type UsageFunc func(ctx context.Context) (float64, error)

// Usage fails when a percentage exceeds its limit and is degraded above its
// warning level.
type Usage struct {
	name  string
	usage UsageFunc
	warn  float64
	fail  float64
}

// NewUsage returns a usage check named name.
func NewUsage(name string, usage UsageFunc, warnPercent, failPercent float64) *Usage {
	return &Usage{name: name, usage: usage, warn: warnPercent, fail: failPercent}
}

// NewMemory checks system memory use.
func NewMemory(warnPercent, failPercent float64) *Usage {
	return NewUsage("memory", MemoryPercent, warnPercent, failPercent)
}

// NewDisk checks use of the filesystem holding path.
func NewDisk(path string, warnPercent, failPercent float64) *Usage {
	return NewUsage("disk", DiskPercent(path), warnPercent, failPercent)
}

func (c *Usage) Name() string { return c.name }

func (c *Usage) Run(ctx context.Context) error {
	pct, err := c.usage(ctx)
	if err != nil {
		return fmt.Errorf("reading %s usage: %w", c.name, err)
	}
	switch {
	case c.fail > 0 && pct > c.fail:
		return fmt.Errorf("%s usage %.1f%% is above %.0f%%", c.name, pct, c.fail)
	case c.warn > 0 && pct > c.warn:
		return fmt.Errorf("%s usage %.1f%% is above %.0f%%: %w", c.name, pct, c.warn, health.ErrDegraded)
	}
	return nil
}

// MemoryPercent reads the share of system memory in use.
func MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// DiskPercent reads the share of the filesystem holding path that is in use.
func DiskPercent(path string) UsageFunc {
	return func(ctx context.Context) (float64, error) {
		u, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, err
		}
		return u.UsedPercent, nil
	}
}
