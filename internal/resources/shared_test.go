package resources

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/embedding/hash"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/storage/memory"
	vectormemory "github.com/custodia-labs/sercha-kb/internal/adapters/driven/vector/memory"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// flakyRelational fails Ping while down is set.
type flakyRelational struct {
	*memory.RelationalStore
	down   atomic.Bool
	closed atomic.Bool
}

func (f *flakyRelational) Ping(context.Context) error {
	if f.down.Load() {
		return errors.New("connection reset")
	}
	return nil
}

func (f *flakyRelational) Close() error {
	f.closed.Store(true)
	return nil
}

func TestShared_VectorStoreIsSharedAcrossGoroutines(t *testing.T) {
	var opened atomic.Int32
	shared := New(Openers{
		Vector: func(context.Context, VectorKey) (driven.VectorStore, error) {
			opened.Add(1)
			return vectormemory.New(), nil
		},
	})

	const workers = 32
	stores := make([]driven.VectorStore, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store, err := shared.VectorStore(context.Background(), "localhost", 6333)
			assert.NoError(t, err)
			stores[i] = store
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
	for _, s := range stores {
		assert.Same(t, stores[0], s)
	}

	other, err := shared.VectorStore(context.Background(), "localhost", 6334)
	require.NoError(t, err)
	assert.NotSame(t, stores[0], other)
	assert.Equal(t, int32(2), opened.Load())
}

func TestShared_EmbeddingModelOncePerName(t *testing.T) {
	var opened atomic.Int32
	shared := New(Openers{
		Embedding: func(_ context.Context, name string) (driven.EmbeddingModel, error) {
			opened.Add(1)
			return hash.New(name, 0), nil
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := shared.EmbeddingModel(context.Background(), "all-MiniLM-L6-v2")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
}

func TestShared_OpenerFailureIsNotCached(t *testing.T) {
	var calls atomic.Int32
	shared := New(Openers{
		Embedding: func(_ context.Context, name string) (driven.EmbeddingModel, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("download failed")
			}
			return hash.New(name, 0), nil
		},
	})

	_, err := shared.EmbeddingModel(context.Background(), "m")
	require.ErrorIs(t, err, domain.ErrResourceUnavailable)
	assert.Contains(t, err.Error(), "download failed")

	model, err := shared.EmbeddingModel(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, "m", model.ModelName())
}

func TestShared_MissingOpener(t *testing.T) {
	shared := New(Openers{})
	ctx := context.Background()

	_, err := shared.VectorStore(ctx, "h", 1)
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
	_, err = shared.EmbeddingModel(ctx, "m")
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
	_, err = shared.RelationalStore(ctx, RelationalKey{})
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
}

func TestShared_RelationalStoreReopensAfterFailedPing(t *testing.T) {
	var opened []*flakyRelational
	shared := New(Openers{
		Relational: func(context.Context, RelationalKey) (driven.RelationalStore, error) {
			store := &flakyRelational{RelationalStore: memory.NewRelationalStore()}
			opened = append(opened, store)
			return store, nil
		},
	})
	key := RelationalKey{Driver: domain.RelationalPostgres, Host: "db", Port: 5432, Database: "kb"}
	ctx := context.Background()

	first, err := shared.RelationalStore(ctx, key)
	require.NoError(t, err)
	again, err := shared.RelationalStore(ctx, key)
	require.NoError(t, err)
	assert.Same(t, first, again)
	require.Len(t, opened, 1)

	opened[0].down.Store(true)

	refreshed, err := shared.RelationalStore(ctx, key)
	require.NoError(t, err)
	require.Len(t, opened, 2)
	assert.Same(t, opened[1], refreshed)
	assert.True(t, opened[0].closed.Load())
}

func TestShared_Close(t *testing.T) {
	rel := &flakyRelational{RelationalStore: memory.NewRelationalStore()}
	shared := New(Openers{
		Relational: func(context.Context, RelationalKey) (driven.RelationalStore, error) { return rel, nil },
		Vector: func(context.Context, VectorKey) (driven.VectorStore, error) {
			return vectormemory.New(), nil
		},
	})
	ctx := context.Background()
	_, err := shared.RelationalStore(ctx, RelationalKey{})
	require.NoError(t, err)
	_, err = shared.VectorStore(ctx, "h", 1)
	require.NoError(t, err)

	require.NoError(t, shared.Close())
	assert.True(t, rel.closed.Load())
}

func TestRelational_FollowsReopenedStore(t *testing.T) {
	var opened []*flakyRelational
	shared := New(Openers{
		Relational: func(context.Context, RelationalKey) (driven.RelationalStore, error) {
			store := &flakyRelational{RelationalStore: memory.NewRelationalStore()}
			opened = append(opened, store)
			return store, nil
		},
	})
	ctx := context.Background()
	handle := shared.Relational(RelationalKey{Driver: domain.RelationalPostgres, Database: "kb"})

	require.NoError(t, handle.Ping(ctx))
	n, err := handle.CountChunks(ctx, domain.ChunkFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	require.Len(t, opened, 1)

	opened[0].down.Store(true)

	_, err = handle.ListPendingChunks(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, opened, 2)
	assert.True(t, opened[0].closed.Load())

	require.NoError(t, handle.Close())
	assert.False(t, opened[1].closed.Load())
}

func TestRelational_OpenFailureIsRelationalError(t *testing.T) {
	shared := New(Openers{
		Relational: func(context.Context, RelationalKey) (driven.RelationalStore, error) {
			return nil, errors.New("connection refused")
		},
	})

	_, err := shared.Relational(RelationalKey{}).CountChunks(context.Background(), domain.ChunkFilter{})

	assert.ErrorIs(t, err, domain.ErrRelational)
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
}
