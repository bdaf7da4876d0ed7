package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// DatabaseFile is the file name inside the data directory.
const DatabaseFile = "knowledge.db"

// markBatch bounds the number of ids bound in one UPDATE.
const markBatch = 500

// Store is the SQLite relational store.
type Store struct {
	db   *sql.DB
	path string
}

var _ driven.RelationalStore = (*Store)(nil)

// NewStore creates a store in dataDir, running pending migrations.
// If dataDir is empty, defaults to ~/.sercha-kb/data.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".sercha-kb", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", domain.ErrRelational, err)
	}
	return nil
}

// SchedulerStore returns a SchedulerStore backed by this database.
func (s *Store) SchedulerStore() driven.SchedulerStore {
	return &schedulerStore{db: s.db}
}

// migrate applies every NNN_name.up.sql newer than the recorded version.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("starting migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Transactions ====================

// WithTx runs fn in one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx driven.RelationalTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrRelational, err)
	}

	if err := fn(&ingestTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, domain.ErrRelational) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrRelational, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrRelational, err)
	}
	return nil
}

// ingestTx implements driven.RelationalTx.
type ingestTx struct {
	tx *sql.Tx
}

// InsertDocument stores doc and returns its id.
func (t *ingestTx) InsertDocument(ctx context.Context, doc *domain.Document) (int64, error) {
	if doc == nil {
		return 0, domain.ErrInvalidInput
	}
	metadata, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return 0, err
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO documents (title, source, raw_text, metadata, visibility, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, nullString(doc.Title), doc.Source, doc.RawText, metadata, string(doc.Visibility), formatTime(doc.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("%w: inserting document: %w", domain.ErrRelational, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: reading document id: %w", domain.ErrRelational, err)
	}
	return id, nil
}

// InsertChunks stores rows in order and returns their ids.
func (t *ingestTx) InsertChunks(ctx context.Context, documentID int64, rows []domain.ChunkRow) ([]int64, error) {
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO chunks (document_id, chunk_index, text, source, visibility, embedding_state, last_embedded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: preparing chunk insert: %w", domain.ErrRelational, err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		state := row.EmbeddingState
		if state == "" {
			state = domain.EmbeddingPending
		}
		var embeddedAt any
		if row.LastEmbeddedAt != nil {
			embeddedAt = formatTime(*row.LastEmbeddedAt)
		}

		res, err := stmt.ExecContext(ctx, documentID, row.ChunkIndex, row.Text, row.Source,
			string(row.Visibility), string(state), embeddedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: inserting chunk %d: %w", domain.ErrRelational, row.ChunkIndex, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("%w: reading chunk id: %w", domain.ErrRelational, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ==================== Reads ====================

const chunkColumns = `c.id, c.document_id, c.chunk_index, c.text, c.source, c.visibility,
	c.embedding_state, c.last_embedded_at, d.created_at`

// CountChunks counts chunks matching filter.
func (s *Store) CountChunks(ctx context.Context, filter domain.ChunkFilter) (int, error) {
	where, args := filterClause(filter)

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks c"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting chunks: %w", domain.ErrRelational, err)
	}
	return n, nil
}

// ListChunks returns matching chunks newest first by id.
func (s *Store) ListChunks(ctx context.Context, limit, offset int, filter domain.ChunkFilter) ([]domain.ChunkRow, error) {
	where, args := filterClause(filter)
	args = append(args, limit, max(offset, 0))

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks c JOIN documents d ON d.id = c.document_id`+where+`
		ORDER BY c.id DESC
		LIMIT ? OFFSET ?`, args...)
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
	row := s.db.QueryRowContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.id = ?`, id)

	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chunk %d", domain.ErrNotFound, id)
	}
	return chunk, err
}

// GetDocument returns one document or domain.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id int64) (*domain.Document, error) {
	var (
		doc                  domain.Document
		title                sql.NullString
		metadata, visibility string
		createdAt            string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, source, raw_text, metadata, visibility, created_at
		FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &title, &doc.Source, &doc.RawText, &metadata, &visibility, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading document: %w", domain.ErrRelational, err)
	}

	doc.Title = title.String
	doc.Visibility = domain.Visibility(visibility)
	doc.Metadata = unmarshalMetadata(metadata)
	doc.CreatedAt = parseTime(createdAt)
	return &doc, nil
}

// ListPendingChunks returns up to limit pending chunks after afterID, oldest first.
func (s *Store) ListPendingChunks(ctx context.Context, afterID int64, limit int) ([]domain.PendingChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`, d.metadata, d.title
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.embedding_state = 'pending' AND c.id > ?
		ORDER BY c.id ASC
		LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing pending chunks: %w", domain.ErrRelational, err)
	}
	defer rows.Close()

	out := []domain.PendingChunk{}
	for rows.Next() {
		var (
			metadata string
			title    sql.NullString
		)
		row, err := scanChunk(rows, &metadata, &title)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PendingChunk{
			Row:               *row,
			DocumentMetadata:  unmarshalMetadata(metadata),
			DocumentTitle:     title.String,
			DocumentCreatedAt: row.DocumentCreatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating pending chunks: %w", domain.ErrRelational, err)
	}
	return out, nil
}

// MarkIndexed moves pending chunks to indexed.
func (s *Store) MarkIndexed(ctx context.Context, ids []int64, at time.Time) error {
	for start := 0; start < len(ids); start += markBatch {
		batch := ids[start:min(start+markBatch, len(ids))]

		args := make([]any, 0, len(batch)+1)
		args = append(args, formatTime(at))
		for _, id := range batch {
			args = append(args, id)
		}

		_, err := s.db.ExecContext(ctx, `
			UPDATE chunks SET embedding_state = 'indexed', last_embedded_at = ?
			WHERE embedding_state = 'pending' AND id IN (`+placeholders(len(batch))+`)`, args...)
		if err != nil {
			return fmt.Errorf("%w: marking chunks indexed: %w", domain.ErrRelational, err)
		}
	}
	return nil
}

// ==================== Helper Functions ====================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanChunk reads chunkColumns followed by any extra destinations.
func scanChunk(sc scanner, extra ...any) (*domain.ChunkRow, error) {
	var (
		row               domain.ChunkRow
		visibility, state string
		embeddedAt        sql.NullString
		createdAt         string
	)
	dest := append([]any{&row.ID, &row.DocumentID, &row.ChunkIndex, &row.Text, &row.Source,
		&visibility, &state, &embeddedAt, &createdAt}, extra...)

	if err := sc.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scanning chunk: %w", domain.ErrRelational, err)
	}

	row.Visibility = domain.Visibility(visibility)
	row.EmbeddingState = domain.EmbeddingState(state)
	if embeddedAt.Valid {
		t := parseTime(embeddedAt.String)
		row.LastEmbeddedAt = &t
	}
	row.DocumentCreatedAt = parseTime(createdAt)
	return &row, nil
}

// filterClause renders a WHERE clause over the chunks alias c.
func filterClause(filter domain.ChunkFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Source != "" {
		conds = append(conds, "c.source = ?")
		args = append(args, filter.Source)
	}
	if len(filter.Visibilities) > 0 {
		conds = append(conds, "c.visibility IN ("+placeholders(len(filter.Visibilities))+")")
		for _, v := range filter.Visibilities {
			args = append(args, string(v))
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: marshalling metadata: %w", domain.ErrInvalidInput, err)
	}
	return string(data), nil
}

func unmarshalMetadata(s string) map[string]any {
	m := map[string]any{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &m)
	}
	return m
}

// nullString stores the empty string as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
