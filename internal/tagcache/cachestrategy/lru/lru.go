// Package lru implements an LRU cache eviction strategy.
package lru

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wilologistics/keeper/internal/tagcache/cachestrategy"
)

// Strategy implements LRU eviction on string keys.
type Strategy[V any] struct {
	cache *lru.Cache[string, V]
}

// Compile-time check that Strategy implements cachestrategy.Strategy.
var _ cachestrategy.Strategy[[]byte] = (*Strategy[[]byte])(nil)

// New creates a new LRU strategy with the given capacity.
func New[V any](capacity int) (*Strategy[V], error) {
	c, err := lru.New[string, V](capacity)
	if err != nil {
		return nil, err
	}
	return &Strategy[V]{cache: c}, nil
}

// Get retrieves a value by key and marks it as recently used.
func (s *Strategy[V]) Get(key string) (V, bool) {
	return s.cache.Get(key)
}

// Peek retrieves a value by key without updating recency.
func (s *Strategy[V]) Peek(key string) (V, bool) {
	return s.cache.Peek(key)
}

// Add adds a value to the cache.
func (s *Strategy[V]) Add(key string, value V) bool {
	return s.cache.Add(key, value)
}

// Remove removes a key from the cache.
func (s *Strategy[V]) Remove(key string) bool {
	return s.cache.Remove(key)
}

// RemoveOldest removes the least recently used entry.
func (s *Strategy[V]) RemoveOldest() (string, V, bool) {
	return s.cache.RemoveOldest()
}

// Keys returns the keys from oldest to newest.
func (s *Strategy[V]) Keys() []string {
	return s.cache.Keys()
}

// Len returns the number of items in the cache.
func (s *Strategy[V]) Len() int {
	return s.cache.Len()
}

// Purge clears the cache.
func (s *Strategy[V]) Purge() {
	s.cache.Purge()
}
