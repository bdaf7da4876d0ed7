package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

func TestEmbeddingService_EmptyInput(t *testing.T) {
	model := newFakeModel(4)
	svc := NewEmbeddingService(model)

	vecs, err := svc.EmbedMany(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, model.callCount())
}

func TestEmbeddingService_NilModel(t *testing.T) {
	svc := NewEmbeddingService(nil)

	_, err := svc.EmbedMany(context.Background(), []string{"x"})

	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	assert.Empty(t, svc.ModelName())
	assert.Zero(t, svc.Dimensions())
}

func TestEmbeddingService_BatchesPreserveOrder(t *testing.T) {
	model := newFakeModel(8)
	svc := NewEmbeddingService(model, WithBatchSize(2))
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}

	vecs, err := svc.EmbedMany(context.Background(), texts)

	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, 3, model.callCount())
	for i, text := range texts {
		assert.Equal(t, textVector(text, 8), vecs[i])
	}
}

func TestEmbeddingService_CountMismatch(t *testing.T) {
	model := newFakeModel(4)
	model.embedFn = func(texts []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0, 0}}, nil
	}
	svc := NewEmbeddingService(model)

	_, err := svc.EmbedMany(context.Background(), []string{"a", "b"})

	assert.ErrorIs(t, err, domain.ErrEmbeddingCountMismatch)
}

func TestEmbeddingService_DimensionChecks(t *testing.T) {
	t.Run("inconsistent lengths", func(t *testing.T) {
		model := newFakeModel(4)
		model.reported = 0
		model.embedFn = func(texts []string) ([][]float32, error) {
			return [][]float32{{1, 0}, {1, 0, 0}}, nil
		}

		_, err := NewEmbeddingService(model).EmbedMany(context.Background(), []string{"a", "b"})

		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})

	t.Run("differs from reported", func(t *testing.T) {
		model := newFakeModel(4)
		model.reported = 8

		_, err := NewEmbeddingService(model).EmbedMany(context.Background(), []string{"a"})

		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})
}

func TestEmbeddingService_RetriesTransientErrors(t *testing.T) {
	model := newFakeModel(4)
	model.failures = 2
	svc := NewEmbeddingService(model, WithMaxRetries(2), WithRetryDelay(time.Millisecond))

	vecs, err := svc.EmbedMany(context.Background(), []string{"a"})

	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, 3, model.callCount())
}

func TestEmbeddingService_GivesUpAfterRetries(t *testing.T) {
	model := newFakeModel(4)
	model.err = errBoom
	svc := NewEmbeddingService(model, WithMaxRetries(1), WithRetryDelay(time.Millisecond))

	_, err := svc.EmbedMany(context.Background(), []string{"a"})

	require.ErrorIs(t, err, domain.ErrModelUnavailable)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, model.callCount())
}

func TestEmbeddingService_CancelledContext(t *testing.T) {
	model := newFakeModel(4)
	svc := NewEmbeddingService(model, WithRetryDelay(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.EmbedMany(ctx, []string{"a"})

	require.ErrorIs(t, err, domain.ErrModelUnavailable)
	assert.Equal(t, 1, model.callCount())
}

func TestEmbeddingService_RateLimited(t *testing.T) {
	model := newFakeModel(4)
	svc := NewEmbeddingService(model, WithBatchSize(1), WithRequestsPerSecond(20))

	start := time.Now()
	_, err := svc.EmbedMany(context.Background(), []string{"a", "b", "c", "d"})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestEmbeddingService_ConcurrentCallers(t *testing.T) {
	model := newFakeModel(4)
	svc := NewEmbeddingService(model)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.EmbedMany(context.Background(), []string{"x", "y"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, model.callCount())
}

func TestEmbeddingService_EmbedOne(t *testing.T) {
	svc := NewEmbeddingService(newFakeModel(4))

	vec, err := svc.EmbedOne(context.Background(), "query")

	require.NoError(t, err)
	assert.Equal(t, textVector("query", 4), vec)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Zero(t, calculateBackoff(time.Second, 0))

	for attempt := 1; attempt <= 3; attempt++ {
		want := 100 * time.Millisecond * time.Duration(1<<attempt)
		got := calculateBackoff(100*time.Millisecond, attempt)
		assert.GreaterOrEqual(t, got, want*3/4)
		assert.LessOrEqual(t, got, want*5/4)
	}

	assert.LessOrEqual(t, calculateBackoff(time.Second, 40), maxBackoff*5/4)
}

func TestVectorDimension(t *testing.T) {
	assert.Zero(t, VectorDimension(nil))
	assert.Equal(t, 3, VectorDimension([][]float32{{}, {1, 2, 3}}))
}
