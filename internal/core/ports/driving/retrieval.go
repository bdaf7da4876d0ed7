package driving

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// RetrievalService lists and searches stored knowledge under a caller scope.
type RetrievalService interface {
	// List pages through stored chunks.
	List(ctx context.Context, req domain.ListRequest) (*domain.Page, error)

	// Search runs a similarity query. A blank query returns an empty page.
	Search(ctx context.Context, req domain.SearchRequest) (*domain.Page, error)

	// Get returns one chunk by id, or domain.ErrNotFound when it does not
	// exist or is outside the scope.
	Get(ctx context.Context, id string, scope domain.Scope) (*domain.Item, error)
}
