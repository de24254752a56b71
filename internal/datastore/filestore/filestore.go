// Package filestore implements a datastore backed by one compressed JSON
// document per table.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/wilologistics/keeper/internal/codec"
	"github.com/wilologistics/keeper/internal/datastore"
)

// Compile-time check that Store implements datastore.Store.
var _ datastore.Store = (*Store)(nil)

// Store keeps each table as <root>/<table>.json, compressed by its codec.
type Store struct {
	root      string
	codec     codec.Codec
	keyColumn string
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithKeyColumn sets the column rows are merged on. Defaults to "id".
func WithKeyColumn(col string) Option {
	return func(s *Store) { s.keyColumn = col }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a file store rooted at root, creating the directory if needed.
// The codec handles compression/decompression.
func New(root string, c codec.Codec, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	s := &Store{
		root:      root,
		codec:     c,
		keyColumn: "id",
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchRows reads up to limit rows of table. A table without a file has no rows.
func (s *Store) FetchRows(ctx context.Context, table string, limit int) ([]datastore.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !datastore.ValidTable(table) {
		return nil, fmt.Errorf("%q: %w", table, datastore.ErrInvalidTable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, datastore.ErrClosed
	}

	rows, err := s.readTable(table)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// UpsertRows merges rows into table on the key column and rewrites the file
// once per batch.
func (s *Store) UpsertRows(ctx context.Context, table string, rows []datastore.Row, batchSize int) error {
	if !datastore.ValidTable(table) {
		return fmt.Errorf("%q: %w", table, datastore.ErrInvalidTable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return datastore.ErrClosed
	}

	existing, err := s.readTable(table)
	if err != nil {
		return err
	}
	index := make(map[string]int, len(existing))
	for i, r := range existing {
		if id, ok := r[s.keyColumn]; ok {
			index[fmt.Sprint(id)] = i
		}
	}

	for _, batch := range datastore.Batches(rows, batchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, r := range batch {
			id, ok := r[s.keyColumn]
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
		if err := s.writeTable(table, existing); err != nil {
			return err
		}
	}

	s.logger.Debug("upserted rows",
		zap.String("table", table),
		zap.Int("rows", len(rows)),
	)
	return nil
}

// Close releases any resources held by the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) tablePath(table string) string {
	return filepath.Join(s.root, codec.FileName(table+".json", s.codec))
}

func (s *Store) readTable(table string) ([]datastore.Row, error) {
	compressed, err := os.ReadFile(s.tablePath(table))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading table %s: %w", table, err)
	}

	reader, err := s.codec.Reader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer reader.Close()

	dec := json.NewDecoder(reader)
	dec.UseNumber()
	var rows []datastore.Row
	if err := dec.Decode(&rows); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding table %s: %w", table, err)
	}
	return rows, nil
}

func (s *Store) writeTable(table string, rows []datastore.Row) error {
	var buf bytes.Buffer
	w, err := s.codec.Writer(&buf)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		w.Close()
		return fmt.Errorf("encoding table %s: %w", table, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flushing table %s: %w", table, err)
	}

	tmp := filepath.Join(s.root, "."+table+".tmp")
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing table %s: %w", table, err)
	}
	if err := os.Rename(tmp, s.tablePath(table)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing table %s: %w", table, err)
	}
	return nil
}
