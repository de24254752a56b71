package tagcache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wilologistics/keeper/internal/stats"
)

const (
	// DefaultNamespace names the cache returned by Manager.Default.
	DefaultNamespace = "default"

	// DefaultNamespaceSize is the capacity of lazily created namespaces.
	DefaultNamespaceSize = 500
)

// Manager owns the default cache and a set of lazily created namespaces.
type Manager struct {
	defaultSize   int
	namespaceSize int
	defaultTTL    time.Duration
	collector     stats.Collector
	logger        *zap.Logger
	now           func() time.Time

	mu         sync.Mutex
	namespaces map[string]*Cache
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultSize sets the capacity of the default namespace.
func WithDefaultSize(n int) ManagerOption {
	return func(m *Manager) { m.defaultSize = n }
}

// WithNamespaceSize sets the capacity of every other namespace.
func WithNamespaceSize(n int) ManagerOption {
	return func(m *Manager) { m.namespaceSize = n }
}

// WithManagerTTL sets the default TTL of every namespace.
func WithManagerTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.defaultTTL = d }
}

// WithManagerCollector sets the stats collector shared by all namespaces.
func WithManagerCollector(c stats.Collector) ManagerOption {
	return func(m *Manager) { m.collector = c }
}

// WithManagerLogger sets the logger shared by all namespaces.
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithManagerClock overrides the time source of every namespace.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager and its default namespace.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		defaultSize:   DefaultMaxSize,
		namespaceSize: DefaultNamespaceSize,
		defaultTTL:    DefaultTTL,
		collector:     stats.NewNoop(),
		logger:        zap.NewNop(),
		now:           time.Now,
		namespaces:    make(map[string]*Cache),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.namespaceSize <= 0 {
		return nil, fmt.Errorf("namespace size %d: %w", m.namespaceSize, ErrInvalidSize)
	}

	def, err := m.newCache(DefaultNamespace, m.defaultSize)
	if err != nil {
		return nil, fmt.Errorf("creating default namespace: %w", err)
	}
	m.namespaces[DefaultNamespace] = def
	return m, nil
}

func (m *Manager) newCache(name string, size int) (*Cache, error) {
	return New(
		WithName(name),
		WithMaxSize(size),
		WithDefaultTTL(m.defaultTTL),
		WithCollector(m.collector),
		WithLogger(m.logger.Named(name)),
		WithClock(m.now),
	)
}

// Default returns the default namespace.
func (m *Manager) Default() *Cache {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.namespaces[DefaultNamespace]
}

// Namespace returns the cache for name, creating it on first use.
// An empty name or DefaultNamespace returns the default cache.
func (m *Manager) Namespace(name string) *Cache {
	if name == "" {
		name = DefaultNamespace
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.namespaces[name]; ok {
		return c
	}
	// namespaceSize was validated in NewManager, so New cannot fail here.
	c, err := m.newCache(name, m.namespaceSize)
	if err != nil {
		panic(fmt.Sprintf("tagcache: creating namespace %q: %v", name, err))
	}
	m.namespaces[name] = c
	m.logger.Debug("created namespace", zap.String("namespace", name))
	return c
}

// Caches returns every namespace sorted by name.
func (m *Manager) Caches() []*Cache {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Cache, 0, len(m.namespaces))
	for _, c := range m.namespaces {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// GlobalStats aggregates statistics across all namespaces.
type GlobalStats struct {
	Namespaces    int              `json:"namespaces"`
	TotalEntries  int              `json:"total_entries"`
	TotalHits     int64            `json:"total_hits"`
	TotalMisses   int64            `json:"total_misses"`
	GlobalHitRate float64          `json:"global_hit_rate"`
	PerNamespace  map[string]Stats `json:"per_namespace"`
}

// GlobalStats returns statistics for every namespace, default included.
func (m *Manager) GlobalStats() GlobalStats {
	caches := m.Caches()
	gs := GlobalStats{
		Namespaces:   len(caches),
		PerNamespace: make(map[string]Stats, len(caches)),
	}
	for _, c := range caches {
		s := c.Stats()
		gs.PerNamespace[c.Name()] = s
		gs.TotalEntries += s.Size
		gs.TotalHits += s.Hits
		gs.TotalMisses += s.Misses
	}
	gs.GlobalHitRate = hitRate(gs.TotalHits, gs.TotalMisses)
	return gs
}

// ClearAll clears every namespace.
func (m *Manager) ClearAll() {
	for _, c := range m.Caches() {
		c.Clear()
	}
	m.logger.Info("all caches cleared")
}

// SweepAll removes expired entries from every namespace and returns the total removed.
func (m *Manager) SweepAll() int {
	var n int
	for _, c := range m.Caches() {
		n += c.Sweep()
	}
	return n
}

// InvalidateFunction removes every memoized result of the named function
// from namespace and returns how many were removed.
func (m *Manager) InvalidateFunction(name, namespace string) int {
	n := m.Namespace(namespace).InvalidateByPattern(name + ":*")
	m.logger.Debug("invalidated memoized function",
		zap.String("function", name),
		zap.String("namespace", namespace),
		zap.Int("count", n),
	)
	return n
}
