package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// fakeQdrant serves the subset of the REST API the store uses.
type fakeQdrant struct {
	mu       sync.Mutex
	size     int
	exists   bool
	points   map[string]map[string]any
	order    []string
	searches []map[string]any
	hits     []map[string]any
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{points: map[string]map[string]any{}}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/collections/kb")
	write := func(v any) { _ = json.NewEncoder(w).Encode(map[string]any{"result": v, "status": "ok"}) }

	switch {
	case r.URL.Path == "/collections":
		write(map[string]any{"collections": []any{}})

	case path == "" && r.Method == http.MethodGet:
		if !f.exists {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		write(map[string]any{"config": map[string]any{"params": map[string]any{
			"vectors": map[string]any{"size": f.size, "distance": "Cosine"},
		}}})

	case path == "" && r.Method == http.MethodPut:
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Vectors.Distance != "Cosine" {
			http.Error(w, "bad distance", http.StatusBadRequest)
			return
		}
		f.exists = true
		f.size = body.Vectors.Size
		write(true)

	case !f.exists:
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)

	case path == "/points" && r.Method == http.MethodPut:
		if r.URL.Query().Get("wait") != "true" {
			http.Error(w, "wait required", http.StatusBadRequest)
			return
		}
		var body struct {
			Points []struct {
				ID      json.Number    `json:"id"`
				Vector  []float64      `json:"vector"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, p := range body.Points {
			id := p.ID.String()
			if _, ok := f.points[id]; !ok {
				f.order = append(f.order, id)
			}
			f.points[id] = p.Payload
		}
		write(map[string]any{"status": "completed"})

	case path == "/points/search":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.searches = append(f.searches, body)
		write(f.hits)

	case path == "/points/scroll":
		var body struct {
			Limit  int  `json:"limit"`
			Offset *int `json:"offset"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		start := 0
		if body.Offset != nil {
			start = *body.Offset
		}
		end := min(start+body.Limit, len(f.order))
		points := []map[string]any{}
		for i := start; i < end; i++ {
			id := f.order[i]
			points = append(points, map[string]any{"id": json.Number(id), "payload": f.points[id]})
		}
		var next any
		if end < len(f.order) {
			next = end
		}
		write(map[string]any{"points": points, "next_page_offset": next})

	case path == "/points/count":
		write(map[string]any{"count": len(f.points)})

	case strings.HasPrefix(path, "/points/") && r.Method == http.MethodGet:
		id := strings.TrimPrefix(path, "/points/")
		payload, ok := f.points[id]
		if !ok {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		write(map[string]any{"id": json.Number(id), "payload": payload})

	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusTeapot)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeQdrant) {
	t.Helper()
	fake := newFakeQdrant()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return New(Config{URL: server.URL, Collection: "kb"}), fake
}

func entry(id string, source string) domain.VectorEntry {
	return domain.VectorEntry{
		ID:     id,
		Vector: []float32{1, 0, 0},
		Payload: map[string]any{
			domain.PayloadText:   "chunk " + id,
			domain.PayloadSource: source,
		},
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{})

	assert.Equal(t, "http://localhost:6333", s.baseURL)
	assert.Equal(t, DefaultCollection, s.Collection())
}

func TestEnsureCollection(t *testing.T) {
	t.Run("creates when absent", func(t *testing.T) {
		s, fake := newTestStore(t)

		require.NoError(t, s.EnsureCollection(context.Background(), 3))
		assert.True(t, fake.exists)
		assert.Equal(t, 3, fake.size)
	})

	t.Run("idempotent", func(t *testing.T) {
		s, _ := newTestStore(t)

		require.NoError(t, s.EnsureCollection(context.Background(), 3))
		require.NoError(t, s.EnsureCollection(context.Background(), 3))
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		s, _ := newTestStore(t)
		require.NoError(t, s.EnsureCollection(context.Background(), 3))

		err := s.EnsureCollection(context.Background(), 4)

		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})

	t.Run("invalid dimension", func(t *testing.T) {
		s, _ := newTestStore(t)

		assert.ErrorIs(t, s.EnsureCollection(context.Background(), 0), domain.ErrInvalidInput)
	})
}

func TestUpsertRetrieveCount(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, 3))

	require.NoError(t, s.Upsert(ctx, []domain.VectorEntry{entry("1", "a"), entry("2", "b")}))

	payload, err := s.Retrieve(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "chunk 2", payload[domain.PayloadText])

	missing, err := s.Retrieve(ctx, "99")
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSearch_SortsAndFilters(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, 3))
	fake.hits = []map[string]any{
		{"id": 10, "score": 0.5, "payload": map[string]any{"text": "ten"}},
		{"id": 2, "score": 0.5, "payload": map[string]any{"text": "two"}},
		{"id": 3, "score": 0.9, "payload": map[string]any{"text": "three"}},
	}

	hits, err := s.Search(ctx, domain.VectorQuery{Vector: []float32{1, 0, 0}, Limit: 3, Source: "docs"})

	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"3", "2", "10"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})

	require.Len(t, fake.searches, 1)
	filter, ok := fake.searches[0]["filter"].(map[string]any)
	require.True(t, ok, "source filter expected")
	must := filter["must"].([]any)[0].(map[string]any)
	assert.Equal(t, "source", must["key"])
}

func TestSearch_MissingCollection(t *testing.T) {
	s, _ := newTestStore(t)

	hits, err := s.Search(context.Background(), domain.VectorQuery{Vector: []float32{1}, Limit: 1})

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestScroll_Offset(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, 3))
	var entries []domain.VectorEntry
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		entries = append(entries, entry(id, "a"))
	}
	require.NoError(t, s.Upsert(ctx, entries))

	points, err := s.Scroll(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2", points[0].ID)
	assert.Equal(t, "3", points[1].ID)

	all, err := s.Scroll(ctx, 100, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	past, err := s.Scroll(ctx, 10, 50)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestTransportError(t *testing.T) {
	s := New(Config{URL: "http://127.0.0.1:1", Collection: "kb"})

	err := s.EnsureCollection(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrVectorStore)
	assert.ErrorIs(t, s.Ping(context.Background()), domain.ErrVectorStore)
}

func TestPointID(t *testing.T) {
	assert.Equal(t, uint64(42), pointID("42"))
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", pointID("550e8400-e29b-41d4-a716-446655440000"))
	assert.Equal(t, "42", formatID(json.Number("42")))
	assert.Equal(t, "abc", formatID("abc"))
}
