package services

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/storage/memory"
	vectormem "github.com/custodia-labs/sercha-kb/internal/adapters/driven/vector/memory"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/normalisers"
	"github.com/custodia-labs/sercha-kb/internal/postprocessors/chunker"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// testEnv wires the real preprocessor and chunker to in-memory stores.
type testEnv struct {
	relational driven.RelationalStore
	vectors    *vectormem.Store
	model      *fakeModel
	embedder   *EmbeddingService
	ingest     *IngestService
	retrieval  *RetrievalService
	reindex    *ReindexService
}

type envConfig struct {
	relational driven.RelationalStore
	vectors    driven.VectorStore
	dims       int
	ingestOpts []IngestOption
}

func newTestEnv(t *testing.T, configure ...func(*envConfig)) *testEnv {
	t.Helper()

	store := vectormem.New()
	cfg := envConfig{
		relational: memory.NewRelationalStore(),
		vectors:    store,
		dims:       8,
	}
	for _, fn := range configure {
		fn(&cfg)
	}

	model := newFakeModel(cfg.dims)
	embedder := NewEmbeddingService(model)
	pre := normalisers.NewPreprocessor()
	chunks := chunker.New(chunker.WithMaxTokens(16), chunker.WithOverlapTokens(0))

	clock := func() time.Time { return fixedNow }
	opts := append([]IngestOption{WithClock(clock)}, cfg.ingestOpts...)

	return &testEnv{
		relational: cfg.relational,
		vectors:    store,
		model:      model,
		embedder:   embedder,
		ingest:     NewIngestService(pre, chunks, embedder, cfg.relational, cfg.vectors, opts...),
		retrieval:  NewRetrievalService(embedder, cfg.vectors, cfg.relational, WithRetrievalClock(clock)),
		reindex:    NewReindexService(cfg.relational, store, embedder),
	}
}

func (e *testEnv) mustIngest(t *testing.T, req domain.IngestRequest) *domain.IngestResult {
	t.Helper()
	res, err := e.ingest.Ingest(context.Background(), req)
	require.NoError(t, err)
	return res
}

func itemIDs(items []domain.Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

func mustParseID(t *testing.T, id string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(id, 10, 64)
	require.NoError(t, err)
	return n
}
