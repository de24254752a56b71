// Package memstore provides an in-memory datastore for tests and demos.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/wilologistics/keeper/internal/datastore"
)

// Compile-time check that Store implements datastore.Store.
var _ datastore.Store = (*Store)(nil)

// Upsert records one UpsertRows batch.
type Upsert struct {
	Table string
	Rows  int
}

// Store is an in-memory datastore. Rows are merged on the "id" column.
type Store struct {
	mu         sync.RWMutex
	tables     map[string][]datastore.Row
	fetchErrs  map[string]error
	upsertErrs map[string]error
	upserts    []Upsert
	closed     bool
}

// New creates an empty in-memory datastore.
func New() *Store {
	return &Store{
		tables:     make(map[string][]datastore.Row),
		fetchErrs:  make(map[string]error),
		upsertErrs: make(map[string]error),
	}
}

// SetTable replaces the contents of table (for test setup).
// Rows are copied to prevent caller mutations from affecting the store.
func (s *Store) SetTable(table string, rows []datastore.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = copyRows(rows)
}

// FailFetch makes every FetchRows on table return err. A nil err clears it.
func (s *Store) FailFetch(table string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fetchErrs, table)
		return
	}
	s.fetchErrs[table] = err
}

// FailUpsert makes every UpsertRows on table return err. A nil err clears it.
func (s *Store) FailUpsert(table string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.upsertErrs, table)
		return
	}
	s.upsertErrs[table] = err
}

// Table returns a copy of the rows in table.
func (s *Store) Table(table string) []datastore.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRows(s.tables[table])
}

// Upserts returns every recorded upsert batch in call order.
func (s *Store) Upserts() []Upsert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Upsert(nil), s.upserts...)
}

// FetchRows returns up to limit rows of table. An unknown table has no rows.
func (s *Store) FetchRows(ctx context.Context, table string, limit int) ([]datastore.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, datastore.ErrClosed
	}
	if err := s.fetchErrs[table]; err != nil {
		return nil, fmt.Errorf("fetching %s: %w", table, err)
	}

	rows := s.tables[table]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return copyRows(rows), nil
}

// UpsertRows merges rows into table by their "id" value.
// Rows without an id are appended.
func (s *Store) UpsertRows(ctx context.Context, table string, rows []datastore.Row, batchSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return datastore.ErrClosed
	}
	if err := s.upsertErrs[table]; err != nil {
		return fmt.Errorf("upserting %s: %w", table, err)
	}

	for _, batch := range datastore.Batches(rows, batchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.tables[table] = merge(s.tables[table], batch)
		s.upserts = append(s.upserts, Upsert{Table: table, Rows: len(batch)})
	}
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func merge(existing, rows []datastore.Row) []datastore.Row {
	index := make(map[string]int, len(existing))
	for i, r := range existing {
		if id, ok := r["id"]; ok {
			index[fmt.Sprint(id)] = i
		}
	}
	for _, r := range rows {
		r = maps.Clone(r)
		id, ok := r["id"]
		if !ok {
			existing = append(existing, r)
			continue
		}
		key := fmt.Sprint(id)
		if i, found := index[key]; found {
			existing[i] = r
			continue
		}
		index[key] = len(existing)
		existing = append(existing, r)
	}
	return existing
}

func copyRows(rows []datastore.Row) []datastore.Row {
	if rows == nil {
		return nil
	}
	out := make([]datastore.Row, len(rows))
	for i, r := range rows {
		out[i] = maps.Clone(r)
	}
	return out
}
