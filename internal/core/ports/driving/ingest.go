package driving

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// IngestService turns raw text into stored, indexed chunks.
type IngestService interface {
	// Ingest preprocesses, chunks, embeds and persists one text.
	// A result with VectorState partial is still a success.
	Ingest(ctx context.Context, req domain.IngestRequest) (*domain.IngestResult, error)
}

// ReindexService repairs chunks left pending by a failed vector upsert.
type ReindexService interface {
	// ReindexPending embeds and upserts up to batchSize pending chunks and
	// returns how many became indexed.
	ReindexPending(ctx context.Context, batchSize int) (int, error)
}
