// Package openai provides an embedding model adapter for the OpenAI API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// Ensure Model implements the interface.
var _ driven.EmbeddingModel = (*Model)(nil)

// Default configuration values.
const (
	DefaultModel   = string(openai.SmallEmbedding3)
	DefaultTimeout = 60 * time.Second
)

// Model dimensions for OpenAI embedding models.
var modelDimensions = map[string]int{
	string(openai.SmallEmbedding3): 1536,
	string(openai.LargeEmbedding3): 3072,
	string(openai.AdaEmbeddingV2):  1536,
}

// Config holds configuration for the OpenAI embedding model.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL overrides the API base URL for Azure OpenAI or compatible APIs.
	BaseURL string

	// Model is the embedding model to use (default: text-embedding-3-small).
	Model string

	// Timeout is the request timeout (default: 60s).
	Timeout time.Duration

	// Dimensions overrides the default dimension for the model.
	// Only applicable to text-embedding-3-* models.
	Dimensions int
}

// Model embeds text with the OpenAI embeddings endpoint.
type Model struct {
	client     *openai.Client
	model      string
	dimensions int
	override   bool
}

// New creates an OpenAI embedding model.
func New(cfg Config) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	dimensions := cfg.Dimensions
	override := dimensions > 0
	if !override {
		dimensions = modelDimensions[cfg.Model]
	}

	return &Model{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: dimensions,
		override:   override,
	}, nil
}

// Embed returns one vector per input text, in input order.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(m.model),
	}
	if m.override {
		req.Dimensions = m.dimensions
	}

	resp, err := m.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: create embeddings: %w", err)
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the embedding vector size, or 0 for unknown models.
func (m *Model) Dimensions() int {
	return m.dimensions
}

// ModelName returns the name of the embedding model.
func (m *Model) ModelName() string {
	return m.model
}

// Ping validates the API key by listing models.
func (m *Model) Ping(ctx context.Context) error {
	if _, err := m.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai: ping failed: %w", err)
	}
	return nil
}

// Close releases resources.
func (m *Model) Close() error {
	return nil
}
