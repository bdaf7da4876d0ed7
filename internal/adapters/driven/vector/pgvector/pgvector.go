// Package pgvector provides a VectorStore backed by Postgres with the
// pgvector extension. Each collection is one table.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.VectorStore = (*Store)(nil)

// undefinedTable is the Postgres error code for a missing relation.
const undefinedTable = "42P01"

// Store keeps points in a table with a vector(D) column.
type Store struct {
	db    *sql.DB
	table string

	mu  sync.RWMutex
	dim int
}

// New connects to Postgres. The connection is opened lazily.
func New(dsn, collection string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", domain.ErrVectorStore, err)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewFromDB(db, collection)
}

// NewFromDB reuses an existing *sql.DB.
func NewFromDB(db *sql.DB, collection string) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: collection is required", domain.ErrInvalidInput)
	}
	return &Store{db: db, table: collection}, nil
}

func (s *Store) ident() string {
	return pq.QuoteIdentifier(s.table)
}

// EnsureCollection creates the table and its cosine index when absent.
func (s *Store) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", domain.ErrInvalidInput, dim)
	}

	existing, err := s.columnDimension(ctx)
	if err != nil {
		return err
	}
	if existing > 0 {
		if existing != dim {
			return fmt.Errorf("%w: collection %s has dimension %d, vectors have %d",
				domain.ErrDimensionMismatch, s.table, existing, dim)
		}
		s.setDim(dim)
		return nil
	}

	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %[1]s (
  id         text PRIMARY KEY,
  source     text,
  payload    jsonb NOT NULL DEFAULT '{}'::jsonb,
  embedding  vector(%[2]d) NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (source);
CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`, s.ident(), dim, pq.QuoteIdentifier(s.table+"_source_idx"), pq.QuoteIdentifier(s.table+"_embedding_idx"))

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create collection: %w", domain.ErrVectorStore, err)
	}
	s.setDim(dim)
	return nil
}

// columnDimension returns the declared dimension of the embedding column,
// or 0 when the table does not exist.
func (s *Store) columnDimension(ctx context.Context) (int, error) {
	var typmod sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT atttypmod FROM pg_attribute
WHERE attrelid = to_regclass($1) AND attname = 'embedding' AND NOT attisdropped`,
		s.ident()).Scan(&typmod)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: inspect collection: %w", domain.ErrVectorStore, err)
	}
	return int(typmod.Int64), nil
}

func (s *Store) setDim(dim int) {
	s.mu.Lock()
	s.dim = dim
	s.mu.Unlock()
}

func (s *Store) dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Upsert writes all entries in one transaction.
func (s *Store) Upsert(ctx context.Context, entries []domain.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrVectorStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := fmt.Sprintf(`
INSERT INTO %s (id, source, payload, embedding, updated_at)
VALUES ($1, $2, $3, $4::vector, now())
ON CONFLICT (id) DO UPDATE SET
  source = EXCLUDED.source,
  payload = EXCLUDED.payload,
  embedding = EXCLUDED.embedding,
  updated_at = now()`, s.ident())

	dim := s.dimension()
	for _, e := range entries {
		lit, err := toVectorLiteral(e.Vector, dim)
		if err != nil {
			return fmt.Errorf("%w: point %s: %w", domain.ErrDimensionMismatch, e.ID, err)
		}
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("%w: encode payload: %w", domain.ErrVectorStore, err)
		}
		source, _ := e.Payload[domain.PayloadSource].(string)
		if _, err := tx.ExecContext(ctx, stmt, e.ID, source, payload, lit); err != nil {
			return fmt.Errorf("%w: upsert %s: %w", domain.ErrVectorStore, e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrVectorStore, err)
	}
	return nil
}

// Search ranks points by cosine similarity, 1 - cosine distance.
func (s *Store) Search(ctx context.Context, q domain.VectorQuery) ([]domain.VectorHit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	lit, err := toVectorLiteral(q.Vector, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	where := ""
	args := []any{lit, limit}
	if q.Source != "" {
		where = "WHERE source = $3"
		args = append(args, q.Source)
	}
	query := fmt.Sprintf(`
SELECT id, 1 - (embedding <=> $1::vector) AS score, payload
FROM %s
%s
ORDER BY embedding <=> $1::vector
LIMIT $2`, s.ident(), where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if isUndefinedTable(err) {
		return []domain.VectorHit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", domain.ErrVectorStore, err)
	}
	defer rows.Close()

	hits := []domain.VectorHit{}
	for rows.Next() {
		var (
			h   domain.VectorHit
			raw []byte
		)
		if err := rows.Scan(&h.ID, &h.Score, &raw); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", domain.ErrVectorStore, err)
		}
		h.Payload = decodePayload(raw)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search: %w", domain.ErrVectorStore, err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return domain.CompareIDs(hits[i].ID, hits[j].ID) < 0
	})
	return hits, nil
}

// Retrieve returns the payload of one point, or nil when absent.
func (s *Store) Retrieve(ctx context.Context, id string) (map[string]any, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, s.ident()), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || isUndefinedTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve %s: %w", domain.ErrVectorStore, id, err)
	}
	return decodePayload(raw), nil
}

// Scroll pages through points ordered by id. Ordering by length first
// keeps numeric ids in numeric order.
func (s *Store) Scroll(ctx context.Context, limit, offset int) ([]domain.VectorPoint, error) {
	if limit <= 0 {
		return []domain.VectorPoint{}, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, payload FROM %s
ORDER BY length(id), id
LIMIT $1 OFFSET $2`, s.ident()), limit, max(offset, 0))
	if isUndefinedTable(err) {
		return []domain.VectorPoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scroll: %w", domain.ErrVectorStore, err)
	}
	defer rows.Close()

	points := []domain.VectorPoint{}
	for rows.Next() {
		var (
			p   domain.VectorPoint
			raw []byte
		)
		if err := rows.Scan(&p.ID, &raw); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", domain.ErrVectorStore, err)
		}
		p.Payload = decodePayload(raw)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scroll: %w", domain.ErrVectorStore, err)
	}
	return points, nil
}

// Count returns the number of points.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.ident())).Scan(&n)
	if isUndefinedTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", domain.ErrVectorStore, err)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", domain.ErrVectorStore, err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == undefinedTable
}

func decodePayload(raw []byte) map[string]any {
	payload := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	return payload
}

func toVectorLiteral(embedding []float32, dim int) (string, error) {
	if len(embedding) == 0 {
		return "", errors.New("embedding is required")
	}
	if dim > 0 && len(embedding) != dim {
		return "", fmt.Errorf("embedding length %d does not match dimension %d", len(embedding), dim)
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}
