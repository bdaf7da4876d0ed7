package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/audit/jsonl"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/config/file"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/storage/sqlite"
	vectormem "github.com/custodia-labs/sercha-kb/internal/adapters/driven/vector/memory"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/vector/pgvector"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/vector/qdrant"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driving/cli"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/core/services"
	"github.com/custodia-labs/sercha-kb/internal/logger"
	"github.com/custodia-labs/sercha-kb/internal/normalisers"
	"github.com/custodia-labs/sercha-kb/internal/postprocessors/chunker"
	"github.com/custodia-labs/sercha-kb/internal/resources"
)

// setup is the composition root: it resolves settings and wires the
// adapters into the core services.
func setup(ctx context.Context, opts cli.SetupOptions) (*cli.Services, error) {
	baseDir, err := resolveBaseDir(opts.ConfigDir)
	if err != nil {
		return nil, err
	}

	configStore, err := file.NewConfigStore(baseDir)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	settingsService := services.NewSettingsService(configStore, services.WithDotEnv(".env"))

	if opts.SettingsOnly {
		return &cli.Services{Settings: settingsService}, nil
	}

	settings, err := settingsService.Get()
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	shared := resources.New(openers(baseDir, settings))
	closeShared := shared.Close

	relationalKey := resources.RelationalKey{
		Driver:   settings.Relational.Driver,
		Host:     settings.Relational.Host,
		Port:     settings.Relational.Port,
		Database: settings.Relational.Database,
		User:     settings.Relational.User,
		Password: settings.Relational.Password,
	}
	opened, err := shared.RelationalStore(ctx, relationalKey)
	if err != nil {
		_ = closeShared()
		return nil, err
	}
	// Services look the store up per call and so see a reopened one.
	relational := shared.Relational(relationalKey)

	model, err := shared.EmbeddingModel(ctx, settings.Embedding.Model)
	if err != nil {
		_ = closeShared()
		return nil, err
	}
	embedder := services.NewEmbeddingService(model, services.EmbeddingOptionsFromSettings(*settings)...)

	// A vector store that cannot be opened leaves ingest partial and list
	// served from the relational store.
	var vectors driven.VectorStore
	if v, err := shared.VectorStore(ctx, settings.Vector.Host, settings.Vector.Port); err != nil {
		logger.Warn("vector store unavailable: %v", err)
	} else {
		vectors = v
	}

	preprocessor := normalisers.NewPreprocessor(normalisers.WithOptions(settings.Preprocess))
	chunks := chunker.New(
		chunker.WithMaxTokens(settings.Chunking.MaxTokens),
		chunker.WithOverlapTokens(settings.Chunking.OverlapTokens),
		chunker.WithTokenizerName(settings.Chunking.Tokenizer),
	)

	ingestOpts := []services.IngestOption{
		services.WithStoreTimeouts(settings.Timeouts.Vector, settings.Timeouts.Relational),
	}
	if settings.Audit.Enabled {
		dir := settings.Audit.OutputDir
		if dir == "" {
			dir = filepath.Join(baseDir, "processed")
		}
		sink, err := jsonl.New(dir)
		if err != nil {
			logger.Warn("audit trail disabled: %v", err)
		} else {
			ingestOpts = append(ingestOpts, services.WithAuditSink(sink))
		}
	}

	reindex := services.NewReindexService(relational, vectors, embedder)

	var scheduler *services.Scheduler
	if settings.Scheduler.Enabled {
		scheduler = services.NewScheduler(settings.Scheduler, schedulerStore(opened), reindex)
	}

	out := &cli.Services{
		Ingest:    services.NewIngestService(preprocessor, chunks, embedder, relational, vectors, ingestOpts...),
		Retrieval: services.NewRetrievalService(embedder, vectors, relational, services.RetrievalOptionsFromSettings(*settings)...),
		Reindex:   reindex,
		Settings:  settingsService,
		Close:     closeShared,
	}
	if scheduler != nil {
		out.Scheduler = scheduler
	}
	return out, nil
}

// resolveBaseDir returns the configuration directory, ~/.sercha-kb by default.
func resolveBaseDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".sercha-kb"), nil
}

// openers builds the shared resource constructors for the selected backends.
func openers(baseDir string, settings *domain.Settings) resources.Openers {
	return resources.Openers{
		Relational: func(ctx context.Context, key resources.RelationalKey) (driven.RelationalStore, error) {
			switch key.Driver {
			case domain.RelationalPostgres:
				return postgres.New(ctx, postgres.Config{
					Host:     key.Host,
					Port:     key.Port,
					Database: key.Database,
					User:     key.User,
					Password: key.Password,
				})
			case domain.RelationalSQLite:
				dir := key.Database
				if dir == "" {
					dir = filepath.Join(baseDir, "data")
				}
				return sqlite.NewStore(dir)
			default:
				return nil, fmt.Errorf("%w: unknown relational driver %q", domain.ErrInvalidInput, key.Driver)
			}
		},

		Embedding: func(_ context.Context, _ string) (driven.EmbeddingModel, error) {
			return ai.NewEmbeddingModel(&settings.Embedding)
		},

		Vector: func(_ context.Context, key resources.VectorKey) (driven.VectorStore, error) {
			switch settings.Vector.Provider {
			case domain.VectorProviderQdrant:
				return qdrant.New(qdrant.Config{
					Host:       key.Host,
					Port:       key.Port,
					Collection: settings.Vector.Collection,
					Timeout:    settings.Timeouts.Vector,
				}), nil
			case domain.VectorProviderPgvector:
				dsn := settings.Vector.DSN
				if dsn == "" {
					dsn = postgres.Config{
						Host:     settings.Relational.Host,
						Port:     settings.Relational.Port,
						Database: settings.Relational.Database,
						User:     settings.Relational.User,
						Password: settings.Relational.Password,
					}.DSN()
				}
				return pgvector.New(dsn, settings.Vector.Collection)
			case domain.VectorProviderMemory:
				return vectormem.New(), nil
			default:
				return nil, errors.New("unknown vector provider " + string(settings.Vector.Provider))
			}
		},
	}
}

// schedulerStore persists task state next to the chunks when the relational
// store is sqlite, and in memory otherwise.
func schedulerStore(relational driven.RelationalStore) driven.SchedulerStore {
	if s, ok := relational.(*sqlite.Store); ok {
		return s.SchedulerStore()
	}
	return memory.NewSchedulerStore()
}
