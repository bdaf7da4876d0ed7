package pgvector

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

func TestToVectorLiteral(t *testing.T) {
	lit, err := toVectorLiteral([]float32{1, 0.5, -0.25}, 3)
	require.NoError(t, err)
	assert.Equal(t, "[1,0.5,-0.25]", lit)

	_, err = toVectorLiteral(nil, 0)
	assert.Error(t, err)

	_, err = toVectorLiteral([]float32{1, 2}, 3)
	assert.Error(t, err)
}

func TestIsUndefinedTable(t *testing.T) {
	assert.True(t, isUndefinedTable(fmt.Errorf("wrapped: %w", &pq.Error{Code: "42P01"})))
	assert.False(t, isUndefinedTable(&pq.Error{Code: "23505"}))
	assert.False(t, isUndefinedTable(nil))
}

func TestNewFromDB_Validation(t *testing.T) {
	_, err := NewFromDB(nil, "kb")
	assert.Error(t, err)
}

func TestDecodePayload(t *testing.T) {
	assert.Equal(t, map[string]any{}, decodePayload(nil))
	assert.Equal(t, "x", decodePayload([]byte(`{"text":"x"}`))["text"])
}

// newIntegrationStore connects to the database named by
// SERCHA_KB_TEST_POSTGRES_DSN, which must have the vector extension.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SERCHA_KB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SERCHA_KB_TEST_POSTGRES_DSN not set")
	}

	table := fmt.Sprintf("kb_test_%d", time.Now().UnixNano())
	s, err := New(dsn, table)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.Exec(`DROP TABLE IF EXISTS ` + s.ident())
		_ = s.Close()
	})
	return s
}

func TestIntegration_RoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, 3))
	require.NoError(t, s.EnsureCollection(ctx, 3))
	assert.ErrorIs(t, s.EnsureCollection(ctx, 4), domain.ErrDimensionMismatch)

	require.NoError(t, s.Upsert(ctx, []domain.VectorEntry{
		{ID: "2", Vector: []float32{1, 0, 0}, Payload: map[string]any{"text": "two", "source": "a"}},
		{ID: "10", Vector: []float32{1, 0, 0}, Payload: map[string]any{"text": "ten", "source": "a"}},
		{ID: "3", Vector: []float32{0, 1, 0}, Payload: map[string]any{"text": "three", "source": "b"}},
	}))

	hits, err := s.Search(ctx, domain.VectorQuery{Vector: []float32{1, 0, 0}, Limit: 3})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "2", hits[0].ID)
	assert.Equal(t, "10", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

	filtered, err := s.Search(ctx, domain.VectorQuery{Vector: []float32{1, 0, 0}, Limit: 3, Source: "b"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "3", filtered[0].ID)

	payload, err := s.Retrieve(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, "three", payload["text"])

	missing, err := s.Retrieve(ctx, "404")
	require.NoError(t, err)
	assert.Nil(t, missing)

	points, err := s.Scroll(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "3", points[0].ID)
	assert.Equal(t, "10", points[1].ID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIntegration_MissingTable(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	points, err := s.Scroll(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, points)
}
