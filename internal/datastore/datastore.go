// Package datastore defines the table access used to capture and restore
// database snapshots.
package datastore

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("datastore: store is closed")

	// ErrInvalidTable is returned for an empty or unsafe table name.
	ErrInvalidTable = errors.New("datastore: invalid table name")
)

// DefaultBatchSize is the upsert batch size used when callers pass zero.
const DefaultBatchSize = 100

// Row is one table record keyed by column name.
type Row = map[string]any

// Store reads and writes whole table rows.
type Store interface {
	// FetchRows returns up to limit rows of table. A limit <= 0 means no limit.
	FetchRows(ctx context.Context, table string, limit int) ([]Row, error)

	// UpsertRows inserts or replaces rows in table, batchSize rows at a time.
	UpsertRows(ctx context.Context, table string, rows []Row, batchSize int) error

	// Close releases any resources held by the store.
	Close() error
}

// Batches splits rows into consecutive slices of at most size rows.
// A size <= 0 uses DefaultBatchSize.
func Batches(rows []Row, size int) [][]Row {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]Row
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// ValidTable reports whether name is usable as a table or file name:
// non-empty ASCII letters, digits and underscores.
func ValidTable(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
