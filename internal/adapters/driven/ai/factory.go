// Package ai provides factory functions for creating embedding model adapters.
package ai

import (
	"context"
	"fmt"
	"time"

	hashembed "github.com/custodia-labs/sercha-kb/internal/adapters/driven/embedding/hash"
	ollamaembed "github.com/custodia-labs/sercha-kb/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/sercha-kb/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// pingTimeout is the maximum time to wait for model connectivity validation.
const pingTimeout = 5 * time.Second

// NewEmbeddingModel creates the embedding model selected by settings.
func NewEmbeddingModel(settings *domain.EmbeddingSettings) (driven.EmbeddingModel, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: embedding settings missing", domain.ErrModelUnavailable)
	}
	if !settings.IsConfigured() {
		return nil, fmt.Errorf("%w: embedding provider %q is not configured",
			domain.ErrModelUnavailable, settings.Provider)
	}

	switch settings.Provider {
	case domain.EmbeddingProviderHash:
		return hashembed.New(settings.Model, settings.Dimensions), nil

	case domain.EmbeddingProviderOllama:
		return createOllamaEmbedding(settings), nil

	case domain.EmbeddingProviderOpenAI:
		return openaiembed.New(openaiembed.Config{
			APIKey:     settings.APIKey,
			BaseURL:    settings.BaseURL,
			Model:      settings.Model,
			Dimensions: settings.Dimensions,
		})

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", settings.Provider)
	}
}

// NewValidatedEmbeddingModel creates an embedding model and checks it is reachable.
func NewValidatedEmbeddingModel(ctx context.Context, settings *domain.EmbeddingSettings) (driven.EmbeddingModel, error) {
	model, err := NewEmbeddingModel(settings)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := model.Ping(pingCtx); err != nil {
		_ = model.Close()
		return nil, fmt.Errorf("%w: model unreachable (%w). Run 'sercha-kb settings' to check the embedding provider",
			domain.ErrModelUnavailable, err)
	}

	return model, nil
}

func createOllamaEmbedding(settings *domain.EmbeddingSettings) driven.EmbeddingModel {
	dimensions := settings.Dimensions
	if dimensions == 0 {
		dimensions = hashembed.DimensionsFor(settings.Model)
		if settings.Model == "" || settings.Model == ollamaembed.DefaultModel {
			dimensions = ollamaembed.DefaultDimensions
		}
	}

	return ollamaembed.New(ollamaembed.Config{
		BaseURL:    settings.BaseURL,
		Model:      settings.Model,
		Dimensions: dimensions,
	})
}
