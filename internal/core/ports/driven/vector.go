package driven

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// VectorStore stores chunk vectors and answers similarity queries.
// All transport and server failures are wrapped with domain.ErrVectorStore.
type VectorStore interface {
	// EnsureCollection creates the collection with cosine distance when it
	// does not exist. An existing collection with another dimension fails
	// with domain.ErrDimensionMismatch. Safe to call repeatedly.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert writes entries and returns once they are durable.
	Upsert(ctx context.Context, entries []domain.VectorEntry) error

	// Search returns hits ordered by descending cosine similarity, ties by id.
	Search(ctx context.Context, query domain.VectorQuery) ([]domain.VectorHit, error)

	// Retrieve returns the payload of one point, or nil when it does not exist.
	Retrieve(ctx context.Context, id string) (map[string]any, error)

	// Scroll pages through stored points in id order.
	Scroll(ctx context.Context, limit, offset int) ([]domain.VectorPoint, error)

	// Count returns the number of stored points.
	Count(ctx context.Context) (int, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
