// Package memstore provides an in-memory store implementation for testing.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/wilologistics/keeper/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

type object struct {
	data     []byte
	modified time.Time
}

// Store is an in-memory store for testing.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	putErr  error
	now     func() time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		objects: make(map[string]object),
		now:     time.Now,
	}
}

// FailPuts makes every Put return err. A nil err clears it.
func (s *Store) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// Bytes returns a copy of the named object's content.
func (s *Store) Bytes(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[name]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}

// Put stores the content of r under name.
func (s *Store) Put(ctx context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[name] = object{data: data, modified: s.now()}
	return nil
}

// Open returns a reader over a copy of the named object.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	data, ok := s.Bytes(name)
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// List returns every object sorted by name.
func (s *Store) List(ctx context.Context) ([]store.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objs := make([]store.Object, 0, len(s.objects))
	for name, obj := range s.objects {
		objs = append(objs, store.Object{Name: name, Size: int64(len(obj.data)), Modified: obj.modified})
	}
	store.SortObjects(objs)
	return objs, nil
}

// Delete removes the named object.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[name]; !ok {
		return store.ErrNotFound
	}
	delete(s.objects, name)
	return nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}
