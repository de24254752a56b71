// Package cachestrategy defines cache eviction strategy interfaces.
package cachestrategy

// Strategy tracks entries in recency order and decides which one to give up
// when the cache is full.
type Strategy[V any] interface {
	// Get returns the value for key and marks it as most recently used.
	Get(key string) (V, bool)
	// Peek returns the value for key without touching its recency.
	Peek(key string) (V, bool)
	// Add inserts or replaces key as the most recently used entry.
	// It reports whether an entry had to be evicted to make room.
	Add(key string, value V) bool
	// Remove deletes key and reports whether it was present.
	Remove(key string) bool
	// RemoveOldest deletes and returns the least recently used entry.
	RemoveOldest() (string, V, bool)
	// Keys returns all keys from least to most recently used.
	Keys() []string
	// Len returns the number of entries.
	Len() int
	// Purge removes every entry.
	Purge()
}
