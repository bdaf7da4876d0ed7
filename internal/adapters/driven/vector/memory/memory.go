// Package memory provides an in-process VectorStore using brute-force
// cosine similarity. It backs tests and vector.provider = "memory".
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.VectorStore = (*Store)(nil)

type point struct {
	vector  []float32
	payload map[string]any
}

// Store is a thread-safe in-memory collection.
type Store struct {
	mu     sync.RWMutex
	dim    int
	points map[string]point
}

// New creates an empty store with no collection.
func New() *Store {
	return &Store{points: make(map[string]point)}
}

// EnsureCollection fixes the dimension on first use.
func (s *Store) EnsureCollection(_ context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", domain.ErrInvalidInput, dim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		s.dim = dim
		return nil
	}
	if s.dim != dim {
		return fmt.Errorf("%w: collection has dimension %d, vectors have %d",
			domain.ErrDimensionMismatch, s.dim, dim)
	}
	return nil
}

// Upsert stores copies of the entries.
func (s *Store) Upsert(_ context.Context, entries []domain.VectorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if s.dim != 0 && len(e.Vector) != s.dim {
			return fmt.Errorf("%w: point %s has %d dimensions, collection has %d",
				domain.ErrDimensionMismatch, e.ID, len(e.Vector), s.dim)
		}
	}
	for _, e := range entries {
		s.points[e.ID] = point{
			vector:  append([]float32(nil), e.Vector...),
			payload: copyPayload(e.Payload),
		}
	}
	return nil
}

// Search ranks points by cosine similarity, ties by id.
func (s *Store) Search(_ context.Context, q domain.VectorQuery) ([]domain.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]domain.VectorHit, 0, len(s.points))
	for id, p := range s.points {
		if q.Source != "" {
			if src, _ := p.payload[domain.PayloadSource].(string); src != q.Source {
				continue
			}
		}
		hits = append(hits, domain.VectorHit{
			ID:      id,
			Score:   cosine(q.Vector, p.vector),
			Payload: copyPayload(p.payload),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return domain.CompareIDs(hits[i].ID, hits[j].ID) < 0
	})

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Retrieve returns a copy of the payload, or nil when absent.
func (s *Store) Retrieve(_ context.Context, id string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.points[id]
	if !ok {
		return nil, nil
	}
	return copyPayload(p.payload), nil
}

// Scroll returns points ordered by id.
func (s *Store) Scroll(_ context.Context, limit, offset int) ([]domain.VectorPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.points))
	for id := range s.points {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return domain.CompareIDs(ids[i], ids[j]) < 0 })

	offset = max(offset, 0)
	if limit <= 0 || offset >= len(ids) {
		return []domain.VectorPoint{}, nil
	}
	ids = ids[offset:min(offset+limit, len(ids))]

	out := make([]domain.VectorPoint, len(ids))
	for i, id := range ids {
		out[i] = domain.VectorPoint{ID: id, Payload: copyPayload(s.points[id].payload)}
	}
	return out, nil
}

// Count returns the number of points.
func (s *Store) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points), nil
}

// Dimension returns the collection dimension, 0 before EnsureCollection.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close releases nothing.
func (s *Store) Close() error {
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func copyPayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
