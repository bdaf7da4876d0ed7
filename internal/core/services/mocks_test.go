package services

import (
	"context"
	"errors"
	"sync"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

var errBoom = errors.New("boom")

// fakeModel implements driven.EmbeddingModel. Each text maps to a vector
// of length dims derived from its bytes.
type fakeModel struct {
	mu       sync.Mutex
	dims     int
	reported int
	calls    [][]string
	failures int
	err      error
	embedFn  func(texts []string) ([][]float32, error)
}

var _ driven.EmbeddingModel = (*fakeModel)(nil)

func newFakeModel(dims int) *fakeModel {
	return &fakeModel{dims: dims, reported: dims}
}

func (m *fakeModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]string(nil), texts...))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.failures > 0 {
		m.failures--
		return nil, errBoom
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.embedFn != nil {
		return m.embedFn(texts)
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = textVector(text, m.dims)
	}
	return out, nil
}

func (m *fakeModel) Dimensions() int            { return m.reported }
func (m *fakeModel) ModelName() string          { return "fake" }
func (m *fakeModel) Ping(context.Context) error { return nil }
func (m *fakeModel) Close() error               { return nil }

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// textVector spreads the text's bytes over dims buckets.
func textVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	for i := 0; i < len(text); i++ {
		v[int(text[i])%dims] += 1
	}
	if len(text) == 0 {
		v[0] = 1
	}
	return v
}

// failingVectorStore wraps a store and injects errors per operation.
type failingVectorStore struct {
	driven.VectorStore
	ensureErr error
	upsertErr error
	searchErr error
	scrollErr error
	getErr    error
}

func (s *failingVectorStore) EnsureCollection(ctx context.Context, dim int) error {
	if s.ensureErr != nil {
		return s.ensureErr
	}
	return s.VectorStore.EnsureCollection(ctx, dim)
}

func (s *failingVectorStore) Upsert(ctx context.Context, entries []domain.VectorEntry) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.VectorStore.Upsert(ctx, entries)
}

func (s *failingVectorStore) Search(ctx context.Context, q domain.VectorQuery) ([]domain.VectorHit, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.VectorStore.Search(ctx, q)
}

func (s *failingVectorStore) Scroll(ctx context.Context, limit, offset int) ([]domain.VectorPoint, error) {
	if s.scrollErr != nil {
		return nil, s.scrollErr
	}
	return s.VectorStore.Scroll(ctx, limit, offset)
}

func (s *failingVectorStore) Retrieve(ctx context.Context, id string) (map[string]any, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.VectorStore.Retrieve(ctx, id)
}
