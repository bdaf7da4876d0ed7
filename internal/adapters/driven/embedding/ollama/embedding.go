// Package ollama embeds text with a local Ollama server through its
// OpenAI-compatible /v1 API.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

var _ driven.EmbeddingModel = (*Model)(nil)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "nomic-embed-text"
	DefaultTimeout = 30 * time.Second

	// DefaultDimensions is the width of nomic-embed-text vectors.
	DefaultDimensions = 768
)

// Config selects the server and model. Zero fields take the defaults above.
type Config struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	Dimensions int
}

// Model is an Ollama-served embedding model.
type Model struct {
	client     *openai.Client
	baseURL    string
	model      string
	dimensions int
}

// New returns a Model for cfg. It does not contact the server; use Ping.
func New(cfg Config) *Model {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	// Ollama ignores the bearer token but the client always sends one.
	clientCfg := openai.DefaultConfig("ollama")
	clientCfg.BaseURL = base + "/v1"
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Model{
		client:     openai.NewClientWithConfig(clientCfg),
		baseURL:    base,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Embed returns one vector per text, in input order.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(m.model),
	})
	if err != nil {
		return nil, explain("embedding", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("ollama: embedding: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i := range data {
		out[i] = data[i].Embedding
	}
	return out, nil
}

func (m *Model) Dimensions() int { return m.dimensions }

func (m *Model) ModelName() string { return m.model }

// Ping lists the installed models, which needs no inference.
func (m *Model) Ping(ctx context.Context) error {
	if _, err := m.client.ListModels(ctx); err != nil {
		return explain("ping", err)
	}
	return nil
}

func (m *Model) Close() error { return nil }

// explain flattens the client's error types into "ollama: <op>: status N: msg".
func explain(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("ollama: %s: status %d: %s", op, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("ollama: %s: status %d: %w", op, reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("ollama: %s: %w", op, err)
}
