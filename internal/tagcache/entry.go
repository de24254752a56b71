package tagcache

import (
	"sort"
	"time"
)

// Entry is a single cached value with its bookkeeping.
type Entry struct {
	Key          string
	Value        any
	CreatedAt    time.Time
	TTL          time.Duration
	AccessCount  int64
	LastAccessed time.Time
	Tags         map[string]struct{}
}

func newEntry(key string, value any, ttl time.Duration, tags []string, now time.Time) *Entry {
	e := &Entry{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		TTL:          ttl,
		LastAccessed: now,
		Tags:         make(map[string]struct{}, len(tags)),
	}
	for _, tag := range tags {
		e.Tags[tag] = struct{}{}
	}
	return e
}

// Expired reports whether the entry has outlived its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// HasTag reports whether the entry carries tag.
func (e *Entry) HasTag(tag string) bool {
	_, ok := e.Tags[tag]
	return ok
}

// TagList returns the entry's tags in sorted order.
func (e *Entry) TagList() []string {
	tags := make([]string, 0, len(e.Tags))
	for tag := range e.Tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (e *Entry) access(now time.Time) any {
	e.AccessCount++
	e.LastAccessed = now
	return e.Value
}

// snapshot returns a copy that is safe to hand out after the lock is released.
func (e *Entry) snapshot() Entry {
	c := *e
	c.Tags = make(map[string]struct{}, len(e.Tags))
	for tag := range e.Tags {
		c.Tags[tag] = struct{}{}
	}
	return c
}
