package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// RelationalTx is the write side of one ingest transaction.
type RelationalTx interface {
	// InsertDocument stores the document and returns its id.
	InsertDocument(ctx context.Context, doc *domain.Document) (int64, error)

	// InsertChunks stores rows in the given order and returns their ids
	// in the same order.
	InsertChunks(ctx context.Context, documentID int64, rows []domain.ChunkRow) ([]int64, error)
}

// RelationalStore is the canonical store of documents and chunks.
// All failures are wrapped with domain.ErrRelational.
type RelationalStore interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx RelationalTx) error) error

	// CountChunks counts chunks matching the filter.
	CountChunks(ctx context.Context, filter domain.ChunkFilter) (int, error)

	// ListChunks returns matching chunks newest first by id, joined with
	// their document's created_at.
	ListChunks(ctx context.Context, limit, offset int, filter domain.ChunkFilter) ([]domain.ChunkRow, error)

	// GetChunk returns one chunk, or domain.ErrNotFound.
	GetChunk(ctx context.Context, id int64) (*domain.ChunkRow, error)

	// GetDocument returns one document, or domain.ErrNotFound.
	GetDocument(ctx context.Context, id int64) (*domain.Document, error)

	// ListPendingChunks returns up to limit pending chunks with an id
	// above afterID, oldest first.
	ListPendingChunks(ctx context.Context, afterID int64, limit int) ([]domain.PendingChunk, error)

	// MarkIndexed moves the given chunks from pending to indexed.
	// Chunks already indexed are left untouched.
	MarkIndexed(ctx context.Context, ids []int64, at time.Time) error

	// Ping checks the connection is alive.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
