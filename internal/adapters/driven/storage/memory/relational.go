package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// Ensure RelationalStore implements the interface.
var _ driven.RelationalStore = (*RelationalStore)(nil)

// RelationalStore is an in-memory implementation of driven.RelationalStore.
// A transaction works on staged copies and publishes them on commit, so
// readers never observe a partial ingest.
type RelationalStore struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	documents map[int64]domain.Document
	chunks    map[int64]domain.ChunkRow
	nextDoc   int64
	nextChunk int64

	// FailCommit makes the next WithTx roll back with this error. Tests use it.
	FailCommit error
}

// NewRelationalStore creates an empty store.
func NewRelationalStore() *RelationalStore {
	return &RelationalStore{
		documents: make(map[int64]domain.Document),
		chunks:    make(map[int64]domain.ChunkRow),
	}
}

// WithTx runs fn against a staging area and publishes it if fn succeeds.
// Write transactions are serialized.
func (s *RelationalStore) WithTx(ctx context.Context, fn func(tx driven.RelationalTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	tx := &memTx{
		store:     s,
		nextDoc:   s.nextDoc,
		nextChunk: s.nextChunk,
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRelational, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRelational, err)
	}
	if s.FailCommit != nil {
		err := s.FailCommit
		s.FailCommit = nil
		return fmt.Errorf("%w: commit: %w", domain.ErrRelational, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range tx.documents {
		s.documents[doc.ID] = doc
	}
	for _, row := range tx.chunks {
		s.chunks[row.ID] = row
	}
	s.nextDoc = tx.nextDoc
	s.nextChunk = tx.nextChunk
	return nil
}

type memTx struct {
	store     *RelationalStore
	documents []domain.Document
	chunks    []domain.ChunkRow
	nextDoc   int64
	nextChunk int64
}

func (t *memTx) InsertDocument(_ context.Context, doc *domain.Document) (int64, error) {
	if doc == nil {
		return 0, domain.ErrInvalidInput
	}
	t.nextDoc++
	stored := *doc
	stored.ID = t.nextDoc
	stored.Metadata = maps.Clone(doc.Metadata)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	t.documents = append(t.documents, stored)
	return stored.ID, nil
}

func (t *memTx) InsertChunks(_ context.Context, documentID int64, rows []domain.ChunkRow) ([]int64, error) {
	var doc *domain.Document
	for i := range t.documents {
		if t.documents[i].ID == documentID {
			doc = &t.documents[i]
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("document %d not in transaction", documentID)
	}

	seen := make(map[int]bool, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if seen[row.ChunkIndex] {
			return nil, fmt.Errorf("duplicate chunk index %d", row.ChunkIndex)
		}
		seen[row.ChunkIndex] = true

		t.nextChunk++
		row.ID = t.nextChunk
		row.DocumentID = documentID
		row.DocumentCreatedAt = doc.CreatedAt
		if row.EmbeddingState == "" {
			row.EmbeddingState = domain.EmbeddingPending
		}
		t.chunks = append(t.chunks, row)
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// matching returns the rows passing filter, newest first.
func (s *RelationalStore) matching(filter domain.ChunkFilter) []domain.ChunkRow {
	out := make([]domain.ChunkRow, 0, len(s.chunks))
	for _, row := range s.chunks {
		if filter.Matches(row) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// CountChunks counts chunks matching filter.
func (s *RelationalStore) CountChunks(_ context.Context, filter domain.ChunkFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matching(filter)), nil
}

// ListChunks returns matching chunks newest first by id.
func (s *RelationalStore) ListChunks(_ context.Context, limit, offset int, filter domain.ChunkFilter) ([]domain.ChunkRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.matching(filter)
	offset = max(offset, 0)
	if offset >= len(rows) {
		return []domain.ChunkRow{}, nil
	}
	end := len(rows)
	if limit >= 0 {
		end = min(offset+limit, len(rows))
	}
	return rows[offset:end], nil
}

// GetChunk returns one chunk or domain.ErrNotFound.
func (s *RelationalStore) GetChunk(_ context.Context, id int64) (*domain.ChunkRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.chunks[id]
	if !ok {
		return nil, fmt.Errorf("%w: chunk %d", domain.ErrNotFound, id)
	}
	return &row, nil
}

// GetDocument returns one document or domain.ErrNotFound.
func (s *RelationalStore) GetDocument(_ context.Context, id int64) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %d", domain.ErrNotFound, id)
	}
	doc.Metadata = maps.Clone(doc.Metadata)
	return &doc, nil
}

// ListPendingChunks returns up to limit pending chunks after afterID, oldest first.
func (s *RelationalStore) ListPendingChunks(_ context.Context, afterID int64, limit int) ([]domain.PendingChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.matching(domain.ChunkFilter{})
	out := []domain.PendingChunk{}
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		row := rows[i]
		if row.EmbeddingState != domain.EmbeddingPending || row.ID <= afterID {
			continue
		}
		doc := s.documents[row.DocumentID]
		out = append(out, domain.PendingChunk{
			Row:               row,
			DocumentMetadata:  maps.Clone(doc.Metadata),
			DocumentTitle:     doc.Title,
			DocumentCreatedAt: doc.CreatedAt,
		})
	}
	return out, nil
}

// MarkIndexed moves pending chunks to indexed.
func (s *RelationalStore) MarkIndexed(_ context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		row, ok := s.chunks[id]
		if !ok || row.EmbeddingState != domain.EmbeddingPending {
			continue
		}
		ts := at
		row.EmbeddingState = domain.EmbeddingIndexed
		row.LastEmbeddedAt = &ts
		s.chunks[id] = row
	}
	return nil
}

// Ping always succeeds.
func (s *RelationalStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *RelationalStore) Close() error {
	return nil
}
