package tagcache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/wilologistics/keeper/internal/stats"
)

// FunctionKey builds the cache key for one call of the named function.
// The key is "<name>:<hex xxhash64>" over the name, the positional args and
// the keyword args in sorted order. Args are rendered with %#v, so only
// values with a stable printed form (scalars, strings, structs and slices of
// those) yield stable keys; pointers, funcs and channels print addresses.
func FunctionKey(name string, args []any, kwargs map[string]any) string {
	var b strings.Builder
	b.WriteString(name)
	for _, a := range args {
		b.WriteByte(0)
		fmt.Fprintf(&b, "%#v", a)
	}

	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprintf(&b, "%#v", kwargs[k])
	}

	return name + ":" + strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

type memoConfig struct {
	ttl       time.Duration
	tags      []string
	namespace string
}

// MemoOption configures Memoize.
type MemoOption func(*memoConfig)

// WithTTL sets how long memoized results live.
func WithTTL(d time.Duration) MemoOption {
	return func(c *memoConfig) { c.ttl = d }
}

// WithTags attaches tags to every memoized result.
func WithTags(tags ...string) MemoOption {
	return func(c *memoConfig) { c.tags = tags }
}

// WithNamespace stores memoized results in the named namespace instead of the default.
func WithNamespace(ns string) MemoOption {
	return func(c *memoConfig) { c.namespace = ns }
}

// memoized holds a result in the cache so that a zero or nil T still
// registers as a hit.
type memoized[T any] struct {
	Value T
}

// Memoize wraps fn so that successful results are cached per argument.
// Concurrent misses for the same argument share a single call to fn. That
// call runs with a context detached from cancellation, so one caller giving
// up does not fail the others; each caller still returns as soon as its own
// ctx is done. Errors are returned to every waiter and never cached.
func Memoize[A, T any](m *Manager, name string, fn func(context.Context, A) (T, error), opts ...MemoOption) func(context.Context, A) (T, error) {
	cfg := memoConfig{namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(&cfg)
	}

	var group singleflight.Group
	return func(ctx context.Context, arg A) (T, error) {
		var zero T
		cache := m.Namespace(cfg.namespace)
		key := FunctionKey(name, []any{arg}, nil)

		if v, ok := cache.Get(key); ok {
			if hit, ok := v.(memoized[T]); ok {
				return hit.Value, nil
			}
		}

		ch := group.DoChan(key, func() (any, error) {
			m.collector.IncCounter(stats.MetricCacheMemoCalls, 1)
			res, err := fn(context.WithoutCancel(ctx), arg)
			if err != nil {
				return nil, err
			}
			cache.Set(key, memoized[T]{Value: res}, cfg.ttl, cfg.tags...)
			return res, nil
		})

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case r := <-ch:
			if r.Err != nil {
				return zero, r.Err
			}
			t, _ := r.Val.(T)
			return t, nil
		}
	}
}
