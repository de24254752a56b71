// Package pgstore implements a PostgreSQL datastore using pgx.
package pgstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wilologistics/keeper/internal/datastore"
)

// Compile-time check that Store implements datastore.Store.
var _ datastore.Store = (*Store)(nil)

// Store reads and upserts rows through a pgx connection pool.
type Store struct {
	pool      *pgxpool.Pool
	schema    string
	keyColumn string
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSchema qualifies every table with schema.
func WithSchema(schema string) Option {
	return func(s *Store) { s.schema = schema }
}

// WithKeyColumn sets the conflict column used by upserts. Defaults to "id".
func WithKeyColumn(col string) Option {
	return func(s *Store) { s.keyColumn = col }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New connects to the database at connString and verifies the connection.
func New(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return NewWithPool(pool, opts...), nil
}

// NewWithPool wraps an existing pool. The store takes ownership of it.
func NewWithPool(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:      pool,
		keyColumn: "id",
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchRows returns up to limit rows of table, each decoded from row_to_json.
func (s *Store) FetchRows(ctx context.Context, table string, limit int) ([]datastore.Row, error) {
	query, args := s.selectSQL(table, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[map[string]any])
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}
	return out, nil
}

// UpsertRows writes rows in batches, each in its own transaction.
func (s *Store) UpsertRows(ctx context.Context, table string, rows []datastore.Row, batchSize int) error {
	for i, batch := range datastore.Batches(rows, batchSize) {
		query, args := s.upsertSQL(table, batch)
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, query, args...)
			return err
		})
		if err != nil {
			return fmt.Errorf("upserting %s batch %d: %w", table, i, err)
		}
		s.logger.Debug("upserted batch",
			zap.String("table", table),
			zap.Int("batch", i),
			zap.Int("rows", len(batch)),
		)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) ident(table string) string {
	if s.schema != "" {
		return pgx.Identifier{s.schema, table}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func (s *Store) selectSQL(table string, limit int) (string, []any) {
	query := "SELECT row_to_json(t) FROM " + s.ident(table) + " t"
	if limit > 0 {
		return query + " LIMIT $1", []any{limit}
	}
	return query, nil
}

// upsertSQL builds a multi-row INSERT over the union of the batch's columns.
// Columns missing from a row are inserted as NULL.
func (s *Store) upsertSQL(table string, batch []datastore.Row) (string, []any) {
	colSet := make(map[string]struct{})
	for _, r := range batch {
		for col := range r {
			colSet[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(colSet))
	for col := range colSet {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = pgx.Identifier{col}.Sanitize()
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.ident(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(batch)*len(cols))
	for i, r := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, col := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			args = append(args, r[col])
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteByte(')')
	}

	key := pgx.Identifier{s.keyColumn}.Sanitize()
	b.WriteString(" ON CONFLICT (")
	b.WriteString(key)
	b.WriteByte(')')

	var updates []string
	for i, col := range cols {
		if col == s.keyColumn {
			continue
		}
		updates = append(updates, quoted[i]+" = EXCLUDED."+quoted[i])
	}
	if len(updates) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(updates, ", "))
	}
	return b.String(), args
}
