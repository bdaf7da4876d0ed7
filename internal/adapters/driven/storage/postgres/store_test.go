package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"defaults", Config{Database: "kb"}, "postgres://localhost:5432/kb"},
		{"user only", Config{Host: "db", Port: 6543, Database: "kb", User: "app"}, "postgres://app@db:6543/kb"},
		{"escaped password", Config{Host: "db", Database: "kb", User: "app", Password: "p@ss word"},
			"postgres://app:p%40ss%20word@db:5432/kb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestFilterClause(t *testing.T) {
	where, args := filterClause(domain.ChunkFilter{}, 1)
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = filterClause(domain.ChunkFilter{
		Source:       "faq",
		Visibilities: domain.ScopeLimited.AllowedVisibilities(),
	}, 3)
	assert.Equal(t, " WHERE c.source = $3 AND c.visibility = ANY($4)", where)
	assert.Equal(t, []any{"faq", []string{"public", "limited"}}, args)
}

func TestDecodeMetadata(t *testing.T) {
	assert.Equal(t, map[string]any{}, decodeMetadata(nil))
	assert.Equal(t, map[string]any{}, decodeMetadata([]byte("not json")))
	assert.Equal(t, map[string]any{"lang": "en"}, decodeMetadata([]byte(`{"lang":"en"}`)))
}

// setupTestStore connects to SERCHA_KB_TEST_POSTGRES_DSN and empties the tables.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("SERCHA_KB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SERCHA_KB_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	store, err := NewFromPool(ctx, pool)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = pool.Exec(ctx, "TRUNCATE chunks, documents RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	return store
}

func TestStore_Integration(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var (
		docID int64
		ids   []int64
	)
	err := store.WithTx(ctx, func(tx driven.RelationalTx) error {
		var err error
		docID, err = tx.InsertDocument(ctx, &domain.Document{
			Title:      "Doc",
			Source:     "faq",
			RawText:    "a\n\nb",
			Visibility: domain.VisibilityLimited,
			Metadata:   map[string]any{"lang": "en"},
			CreatedAt:  created,
		})
		if err != nil {
			return err
		}
		ids, err = tx.InsertChunks(ctx, docID, []domain.ChunkRow{
			{ChunkIndex: 0, Text: "a", Source: "faq", Visibility: domain.VisibilityLimited},
			{ChunkIndex: 1, Text: "b", Source: "faq", Visibility: domain.VisibilityLimited},
		})
		return err
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Less(t, ids[0], ids[1])

	doc, err := store.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, created, doc.CreatedAt)
	assert.Equal(t, "en", doc.Metadata["lang"])

	n, err := store.CountChunks(ctx, domain.ChunkFilter{Visibilities: domain.ScopePublic.AllowedVisibilities()})
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err := store.ListChunks(ctx, 10, 0, domain.ChunkFilter{Source: "faq"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ids[1], rows[0].ID)
	assert.Equal(t, created, rows[0].DocumentCreatedAt)

	pending, err := store.ListPendingChunks(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "Doc", pending[0].DocumentTitle)

	at := created.Add(time.Minute)
	require.NoError(t, store.MarkIndexed(ctx, ids, at))
	chunk, err := store.GetChunk(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.EmbeddingIndexed, chunk.EmbeddingState)
	require.NotNil(t, chunk.LastEmbeddedAt)
	assert.Equal(t, at, *chunk.LastEmbeddedAt)

	_, err = store.GetChunk(ctx, 999999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_RollbackIntegration(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx driven.RelationalTx) error {
		docID, err := tx.InsertDocument(ctx, &domain.Document{Source: "s", Visibility: domain.VisibilityPublic})
		if err != nil {
			return err
		}
		_, err = tx.InsertChunks(ctx, docID, []domain.ChunkRow{
			{ChunkIndex: 0, Text: "a", Source: "s", Visibility: domain.VisibilityPublic},
			{ChunkIndex: 0, Text: "b", Source: "s", Visibility: domain.VisibilityPublic},
		})
		return err
	})

	require.ErrorIs(t, err, domain.ErrRelational)
	n, err := store.CountChunks(ctx, domain.ChunkFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}
