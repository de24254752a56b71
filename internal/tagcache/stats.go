package tagcache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Efficiency labels a cache by its hit rate.
type Efficiency string

const (
	EfficiencyHigh   Efficiency = "high"
	EfficiencyMedium Efficiency = "medium"
	EfficiencyLow    Efficiency = "low"
)

// Stats contains cache statistics.
type Stats struct {
	Name        string     `json:"name"`
	Hits        int64      `json:"hits"`
	Misses      int64      `json:"misses"`
	Evictions   int64      `json:"evictions"`
	Expirations int64      `json:"expirations"`
	Size        int        `json:"size"`
	HitRate     float64    `json:"hit_rate"`
	Efficiency  Efficiency `json:"efficiency"`
	MemoryBytes int64      `json:"memory_bytes"`
	MemoryUsage string     `json:"memory_usage"`
}

// hitRate returns the hit rate as a percentage, 0 when nothing was accessed.
func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

func efficiencyFor(rate float64) Efficiency {
	switch {
	case rate > 80:
		return EfficiencyHigh
	case rate > 50:
		return EfficiencyMedium
	default:
		return EfficiencyLow
	}
}

// estimateSize approximates the in-memory footprint of a key and its value.
// Values are measured by their msgpack encoding; values msgpack cannot encode
// fall back to the length of their printed form.
func estimateSize(key string, value any) int64 {
	n := int64(len(key))
	if b, err := msgpack.Marshal(value); err == nil {
		return n + int64(len(b))
	}
	return n + int64(len(fmt.Sprint(value)))
}

// formatMemory renders bytes in the largest unit that keeps the value >= 1.
func formatMemory(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	}
}
