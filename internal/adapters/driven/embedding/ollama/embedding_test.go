package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	m := New(Config{})

	assert.Equal(t, DefaultModel, m.ModelName())
	assert.Equal(t, DefaultDimensions, m.Dimensions())
	assert.Equal(t, DefaultBaseURL, m.baseURL)
	assert.NoError(t, m.Close())
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	m := New(Config{BaseURL: "http://gpu-box:11434/", Dimensions: 384})

	assert.Equal(t, "http://gpu-box:11434", m.baseURL)
	assert.Equal(t, 384, m.Dimensions())
}

func TestEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.EmbeddingResponse{
			Object: "list",
			Data: []openai.Embedding{
				{Object: "embedding", Index: 1, Embedding: []float32{0.3, 0.4}},
				{Object: "embedding", Index: 0, Embedding: []float32{0.1, 0.2}},
			},
		})
	}))
	defer server.Close()

	m := New(Config{BaseURL: server.URL, Model: "all-minilm", Dimensions: 2})

	vecs, err := m.Embed(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 0.1, vecs[0][0], 1e-6)
	assert.InDelta(t, 0.3, vecs[1][0], 1e-6)
}

func TestEmbed_Empty(t *testing.T) {
	m := New(Config{BaseURL: "http://127.0.0.1:1"})

	vecs, err := m.Embed(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestEmbed_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.EmbeddingResponse{
			Data: []openai.Embedding{{Index: 0, Embedding: []float32{1}}},
		})
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).Embed(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 vectors for 2 texts")
}

func TestEmbed_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"model \"nomic-embed-text\" not found","type":"api_error"}}`))
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).Embed(context.Background(), []string{"a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "not found")
}

func TestPing(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/models", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
		}))
		defer server.Close()

		assert.NoError(t, New(Config{BaseURL: server.URL}).Ping(context.Background()))
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		err := New(Config{BaseURL: server.URL}).Ping(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	})
}
