package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure ReindexService implements the interface.
var _ driving.ReindexService = (*ReindexService)(nil)

// DefaultReindexBatch is the number of pending chunks handled per sweep.
const DefaultReindexBatch = 256

// ReindexService embeds pending chunks and upserts their vectors.
type ReindexService struct {
	relational driven.RelationalStore
	vectors    driven.VectorStore
	embedder   *EmbeddingService
	now        func() time.Time
}

// NewReindexService creates a re-index service.
func NewReindexService(relational driven.RelationalStore, vectors driven.VectorStore, embedder *EmbeddingService) *ReindexService {
	return &ReindexService{
		relational: relational,
		vectors:    vectors,
		embedder:   embedder,
		now:        time.Now,
	}
}

// ReindexPending moves up to batchSize pending chunks to indexed. Chunks
// whose vector comes back empty stay pending; when a whole batch does, the
// sweep moves on to the pending chunks after it.
func (s *ReindexService) ReindexPending(ctx context.Context, batchSize int) (int, error) {
	if s.vectors == nil {
		return 0, fmt.Errorf("%w: no vector store configured", domain.ErrVectorStore)
	}
	if batchSize <= 0 {
		batchSize = DefaultReindexBatch
	}

	var after int64
	for {
		pending, err := s.relational.ListPendingChunks(ctx, after, batchSize)
		if err != nil {
			return 0, err
		}
		if len(pending) == 0 {
			return 0, nil
		}
		if after == 0 {
			logger.Section("Reindex")
		}
		logger.Debug("found %d pending chunks after id %d", len(pending), after)

		n, err := s.indexBatch(ctx, pending)
		if err != nil || n > 0 {
			return n, err
		}
		if len(pending) < batchSize {
			return 0, nil
		}
		after = pending[len(pending)-1].Row.ID
	}
}

// indexBatch embeds and upserts one batch and reports how many chunks
// were marked indexed.
func (s *ReindexService) indexBatch(ctx context.Context, pending []domain.PendingChunk) (int, error) {
	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = p.Row.Text
	}
	vectors, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return 0, err
	}

	dim := VectorDimension(vectors)
	if dim == 0 {
		return 0, nil
	}
	if err := s.vectors.EnsureCollection(ctx, dim); err != nil {
		return 0, err
	}

	entries := make([]domain.VectorEntry, 0, len(pending))
	ids := make([]int64, 0, len(pending))
	for i, p := range pending {
		if len(vectors[i]) == 0 {
			continue
		}
		entries = append(entries, domain.VectorEntry{
			ID:      strconv.FormatInt(p.Row.ID, 10),
			Vector:  vectors[i],
			Payload: chunkPayload(p.DocumentMetadata, p.DocumentTitle, p.Row.Text, p.Row, p.DocumentCreatedAt),
		})
		ids = append(ids, p.Row.ID)
	}

	if err := s.vectors.Upsert(ctx, entries); err != nil {
		return 0, err
	}
	if err := s.relational.MarkIndexed(ctx, ids, s.now().UTC()); err != nil {
		return 0, err
	}
	logger.Info("re-indexed %d chunks", len(ids))
	return len(ids), nil
}
