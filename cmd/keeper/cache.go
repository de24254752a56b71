package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilologistics/keeper/internal/stats"
	"github.com/wilologistics/keeper/internal/tagcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and exercise the result cache",
}

var (
	benchOps      int
	benchKeys     int
	benchSkew     float64
	benchNamespcs int
)

var cacheBenchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a synthetic workload against the cache settings",
	Long: `Run a synthetic read-through workload against a cache built from the
cache.* settings and report hit rate, evictions and per-namespace stats.

Keys are drawn from a Zipf distribution so a few keys are hot, like the
dashboard's KPI and worker lookups.`,
	Args: cobra.NoArgs,
	RunE: runCacheBench,
}

func init() {
	cacheBenchCmd.Flags().IntVarP(&benchOps, "ops", "n", 100000, "number of lookups")
	cacheBenchCmd.Flags().IntVarP(&benchKeys, "keys", "k", 5000, "number of distinct keys")
	cacheBenchCmd.Flags().Float64Var(&benchSkew, "skew", 1.1, "zipf skew (> 1)")
	cacheBenchCmd.Flags().IntVar(&benchNamespcs, "namespaces", 3, "number of namespaces")
	cacheCmd.AddCommand(cacheBenchCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheBench(cmd *cobra.Command, args []string) error {
	if benchSkew <= 1 {
		return fmt.Errorf("--skew must be greater than 1, got %v", benchSkew)
	}
	if benchKeys < 1 || benchNamespcs < 1 {
		return fmt.Errorf("--keys and --namespaces must be positive")
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	c, err := loadConfig(logger)
	if err != nil {
		return err
	}

	collector := stats.NewMemory()
	m, err := tagcache.NewManager(
		tagcache.WithDefaultSize(c.Int("cache.default_size", tagcache.DefaultMaxSize)),
		tagcache.WithNamespaceSize(c.Int("cache.namespace_size", tagcache.DefaultNamespaceSize)),
		tagcache.WithManagerTTL(c.Duration("cache.default_ttl", tagcache.DefaultTTL)),
		tagcache.WithManagerCollector(collector),
		tagcache.WithManagerLogger(logger),
	)
	if err != nil {
		return err
	}

	load := tagcache.Memoize(m, "load", func(_ context.Context, key uint64) (string, error) {
		return fmt.Sprintf("value-%d", key), nil
	})

	rng := rand.New(rand.NewPCG(1, 2))
	zipf := rand.NewZipf(rng, benchSkew, 1, uint64(benchKeys-1))
	namespaces := make([]*tagcache.Cache, benchNamespcs)
	for i := range namespaces {
		namespaces[i] = m.Namespace(fmt.Sprintf("ns%d", i))
	}

	ctx := cmd.Context()
	start := time.Now()
	for i := 0; i < benchOps; i++ {
		key := zipf.Uint64()
		ns := namespaces[key%uint64(len(namespaces))]
		k := fmt.Sprintf("k%d", key)
		if _, ok := ns.Get(k); !ok {
			ns.Set(k, key, 0, fmt.Sprintf("bucket:%d", key%10))
		}
		if i%10 == 0 {
			if _, err := load(ctx, key); err != nil {
				return err
			}
		}
	}
	elapsed := time.Since(start)

	gs := m.GlobalStats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Operations:   %d in %v (%.0f ops/s)\n", benchOps, elapsed.Round(time.Millisecond), float64(benchOps)/elapsed.Seconds())
	fmt.Fprintf(out, "Entries:      %d across %d namespaces\n", gs.TotalEntries, gs.Namespaces)
	fmt.Fprintf(out, "Hit rate:     %.1f%% (%d hits, %d misses)\n", gs.GlobalHitRate, gs.TotalHits, gs.TotalMisses)
	fmt.Fprintf(out, "Evictions:    %d\n", collector.Counter(stats.MetricCacheEvictions))
	fmt.Fprintf(out, "Memo calls:   %d\n", collector.Counter(stats.MetricCacheMemoCalls))
	for _, cache := range m.Caches() {
		s := cache.Stats()
		fmt.Fprintf(out, "  %-8s size %d/%d  hit rate %.1f%%  memory %s\n", cache.Name(), s.Size, cache.MaxSize(), s.HitRate, s.MemoryUsage)
	}
	return nil
}
