// Package store defines the offsite backends archives are replicated to.
package store

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when an object does not exist in the store.
var ErrNotFound = errors.New("store: object not found")

// Object describes one stored archive.
type Object struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Store defines the interface for offsite backends.
// Names are flat archive file names; implementations map them to their own
// key layout.
type Store interface {
	// Put uploads r under name, replacing any existing object.
	Put(ctx context.Context, name string, r io.Reader) error

	// Open returns a reader for the named object.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns every object, sorted by name.
	List(ctx context.Context) ([]Object, error)

	// Delete removes the named object. Deleting a missing object returns ErrNotFound.
	Delete(ctx context.Context, name string) error

	// Close releases any resources held by the store.
	Close() error
}

// NormalizePrefix turns prefix into "" or a string ending in exactly one "/".
func NormalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// SortObjects orders objects by name.
func SortObjects(objs []Object) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Name < objs[j].Name })
}
