package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// Config locates the database.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// MaxConns bounds the pool, 0 = pgxpool default.
	MaxConns int32
}

// DSN renders the connection URL.
func (c Config) DSN() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	return u.String()
}

// Store is the PostgreSQL relational store.
type Store struct {
	pool *pgxpool.Pool
}

var _ driven.RelationalStore = (*Store)(nil)

// New opens a pool, checks the connection and creates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: parsing dsn: %w", domain.ErrRelational, err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: opening pool: %w", domain.ErrRelational, err)
	}

	s, err := NewFromPool(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewFromPool reuses an existing pool. The store takes ownership of it.
func NewFromPool(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pool is required", domain.ErrInvalidInput)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: ping: %w", domain.ErrRelational, err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("%w: creating schema: %w", domain.ErrRelational, err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", domain.ErrRelational, err)
	}
	return nil
}

// WithTx runs fn in one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx driven.RelationalTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrRelational, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ingestTx{tx: tx}); err != nil {
		if errors.Is(err, domain.ErrRelational) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrRelational, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrRelational, err)
	}
	return nil
}

type ingestTx struct {
	tx pgx.Tx
}

func (t *ingestTx) InsertDocument(ctx context.Context, doc *domain.Document) (int64, error) {
	if doc == nil {
		return 0, domain.ErrInvalidInput
	}
	metadata, err := json.Marshal(nonNil(doc.Metadata))
	if err != nil {
		return 0, fmt.Errorf("%w: encoding metadata: %w", domain.ErrRelational, err)
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id int64
	err = t.tx.QueryRow(ctx, `
		INSERT INTO documents (title, source, raw_text, metadata, visibility, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		nullable(doc.Title), doc.Source, doc.RawText, string(metadata), string(doc.Visibility), createdAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: inserting document: %w", domain.ErrRelational, err)
	}
	return id, nil
}

// InsertChunks queues one insert per row and reads the ids back in order.
func (t *ingestTx) InsertChunks(ctx context.Context, documentID int64, rows []domain.ChunkRow) ([]int64, error) {
	if len(rows) == 0 {
		return []int64{}, nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		state := row.EmbeddingState
		if state == "" {
			state = domain.EmbeddingPending
		}
		batch.Queue(`
			INSERT INTO chunks (document_id, chunk_index, text, source, visibility, embedding_state, last_embedded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			documentID, row.ChunkIndex, row.Text, row.Source, string(row.Visibility), string(state), row.LastEmbeddedAt)
	}

	results := t.tx.SendBatch(ctx, batch)
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		var id int64
		if err := results.QueryRow().Scan(&id); err != nil {
			_ = results.Close()
			return nil, fmt.Errorf("%w: inserting chunk %d: %w", domain.ErrRelational, row.ChunkIndex, err)
		}
		ids = append(ids, id)
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("%w: inserting chunks: %w", domain.ErrRelational, err)
	}
	return ids, nil
}

const chunkColumns = `c.id, c.document_id, c.chunk_index, c.text, c.source, c.visibility,
	c.embedding_state, c.last_embedded_at, d.created_at`

// CountChunks counts chunks matching filter.
func (s *Store) CountChunks(ctx context.Context, filter domain.ChunkFilter) (int, error) {
	where, args := filterClause(filter, 1)

	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM chunks c"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting chunks: %w", domain.ErrRelational, err)
	}
	return n, nil
}

// ListChunks returns matching chunks newest first by id.
func (s *Store) ListChunks(ctx context.Context, limit, offset int, filter domain.ChunkFilter) ([]domain.ChunkRow, error) {
	where, args := filterClause(filter, 1)
	n := len(args)
	args = append(args, limit, max(offset, 0))

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM chunks c JOIN documents d ON d.id = c.document_id%s
		ORDER BY c.id DESC
		LIMIT $%d OFFSET $%d`, chunkColumns, where, n+1, n+2), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing chunks: %w", domain.ErrRelational, err)
	}
	defer rows.Close()

	out := []domain.ChunkRow{}
	for rows.Next() {
		row, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating chunks: %w", domain.ErrRelational, err)
	}
	return out, nil
}

// GetChunk returns one chunk or domain.ErrNotFound.
func (s *Store) GetChunk(ctx context.Context, id int64) (*domain.ChunkRow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.id = $1`, id)

	chunk, err := scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: chunk %d", domain.ErrNotFound, id)
	}
	return chunk, err
}

// GetDocument returns one document or domain.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id int64) (*domain.Document, error) {
	var (
		doc        domain.Document
		title      *string
		metadata   []byte
		visibility string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, source, raw_text, metadata, visibility, created_at
		FROM documents WHERE id = $1`, id).
		Scan(&doc.ID, &title, &doc.Source, &doc.RawText, &metadata, &visibility, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading document: %w", domain.ErrRelational, err)
	}

	if title != nil {
		doc.Title = *title
	}
	doc.Visibility = domain.Visibility(visibility)
	doc.Metadata = decodeMetadata(metadata)
	doc.CreatedAt = doc.CreatedAt.UTC()
	return &doc, nil
}

// ListPendingChunks returns up to limit pending chunks after afterID, oldest first.
func (s *Store) ListPendingChunks(ctx context.Context, afterID int64, limit int) ([]domain.PendingChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chunkColumns+`, d.metadata, d.title
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.embedding_state = 'pending' AND c.id > $1
		ORDER BY c.id ASC
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing pending chunks: %w", domain.ErrRelational, err)
	}
	defer rows.Close()

	out := []domain.PendingChunk{}
	for rows.Next() {
		var (
			metadata []byte
			title    *string
		)
		row, err := scanChunk(rows, &metadata, &title)
		if err != nil {
			return nil, err
		}
		pending := domain.PendingChunk{
			Row:               *row,
			DocumentMetadata:  decodeMetadata(metadata),
			DocumentCreatedAt: row.DocumentCreatedAt,
		}
		if title != nil {
			pending.DocumentTitle = *title
		}
		out = append(out, pending)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating pending chunks: %w", domain.ErrRelational, err)
	}
	return out, nil
}

// MarkIndexed moves pending chunks to indexed.
func (s *Store) MarkIndexed(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE chunks SET embedding_state = 'indexed', last_embedded_at = $1
		WHERE embedding_state = 'pending' AND id = ANY($2)`, at.UTC(), ids)
	if err != nil {
		return fmt.Errorf("%w: marking chunks indexed: %w", domain.ErrRelational, err)
	}
	return nil
}

// scanChunk reads chunkColumns followed by any extra destinations.
func scanChunk(row pgx.Row, extra ...any) (*domain.ChunkRow, error) {
	var (
		chunk             domain.ChunkRow
		visibility, state string
		embeddedAt        *time.Time
	)
	dest := append([]any{&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Text, &chunk.Source,
		&visibility, &state, &embeddedAt, &chunk.DocumentCreatedAt}, extra...)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scanning chunk: %w", domain.ErrRelational, err)
	}

	chunk.Visibility = domain.Visibility(visibility)
	chunk.EmbeddingState = domain.EmbeddingState(state)
	chunk.DocumentCreatedAt = chunk.DocumentCreatedAt.UTC()
	if embeddedAt != nil {
		t := embeddedAt.UTC()
		chunk.LastEmbeddedAt = &t
	}
	return &chunk, nil
}

// filterClause renders a WHERE clause whose placeholders start at $first.
func filterClause(filter domain.ChunkFilter, first int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Source != "" {
		args = append(args, filter.Source)
		conds = append(conds, fmt.Sprintf("c.source = $%d", first+len(args)-1))
	}
	if len(filter.Visibilities) > 0 {
		labels := make([]string, len(filter.Visibilities))
		for i, v := range filter.Visibilities {
			labels[i] = string(v)
		}
		args = append(args, labels)
		conds = append(conds, fmt.Sprintf("c.visibility = ANY($%d)", first+len(args)-1))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func decodeMetadata(raw []byte) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
