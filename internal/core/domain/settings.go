package domain

import (
	"fmt"
	"time"
)

const unknownDescription = "Unknown"

// EmbeddingProvider identifies an embedding backend.
type EmbeddingProvider string

// Available embedding providers.
const (
	// EmbeddingProviderHash is the built-in deterministic local embedder.
	EmbeddingProviderHash EmbeddingProvider = "hash"

	// EmbeddingProviderOllama is a local Ollama instance.
	EmbeddingProviderOllama EmbeddingProvider = "ollama"

	// EmbeddingProviderOpenAI is the OpenAI cloud API.
	EmbeddingProviderOpenAI EmbeddingProvider = "openai"
)

// IsValid returns true if the provider is recognised.
func (p EmbeddingProvider) IsValid() bool {
	switch p {
	case EmbeddingProviderHash, EmbeddingProviderOllama, EmbeddingProviderOpenAI:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p EmbeddingProvider) RequiresAPIKey() bool {
	return p == EmbeddingProviderOpenAI
}

// String returns the string representation.
func (p EmbeddingProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p EmbeddingProvider) Description() string {
	switch p {
	case EmbeddingProviderHash:
		return "Hash (local, deterministic)"
	case EmbeddingProviderOllama:
		return "Ollama (local)"
	case EmbeddingProviderOpenAI:
		return "OpenAI (cloud)"
	default:
		return unknownDescription
	}
}

// VectorProvider identifies a vector store backend.
type VectorProvider string

// Available vector providers.
const (
	VectorProviderQdrant   VectorProvider = "qdrant"
	VectorProviderPgvector VectorProvider = "pgvector"
	VectorProviderMemory   VectorProvider = "memory"
)

// IsValid returns true if the provider is recognised.
func (p VectorProvider) IsValid() bool {
	switch p {
	case VectorProviderQdrant, VectorProviderPgvector, VectorProviderMemory:
		return true
	default:
		return false
	}
}

// RelationalDriver identifies a relational store backend.
type RelationalDriver string

// Available relational drivers.
const (
	RelationalSQLite   RelationalDriver = "sqlite"
	RelationalPostgres RelationalDriver = "postgres"
)

// IsValid returns true if the driver is recognised.
func (d RelationalDriver) IsValid() bool {
	return d == RelationalSQLite || d == RelationalPostgres
}

// ChunkingSettings configures the chunker.
type ChunkingSettings struct {
	MaxTokens     int
	OverlapTokens int
	Tokenizer     string
}

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	Provider EmbeddingProvider

	// Model is the embedding model name.
	Model string

	// BaseURL is the API endpoint (for Ollama, or an OpenAI-compatible proxy).
	BaseURL string

	// APIKey is the API key (for OpenAI).
	APIKey string

	// Dimensions overrides the dimension reported by the model, 0 = model default.
	Dimensions int

	BatchSize         int
	RequestsPerSecond float64
	MaxRetries        int
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// VectorSettings holds vector store configuration.
type VectorSettings struct {
	Provider   VectorProvider
	Host       string
	Port       int
	Collection string
	Distance   VectorDistance

	// DSN is the Postgres connection string for the pgvector provider.
	DSN string
}

// RelationalSettings holds relational store configuration.
type RelationalSettings struct {
	Driver   RelationalDriver
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// AuditSettings configures the ingest audit trail.
type AuditSettings struct {
	Enabled   bool
	OutputDir string
}

// RetrievalSettings bounds list and search.
type RetrievalSettings struct {
	DefaultLimit  int
	MaxLimit      int
	ListScanLimit int
}

// TimeoutSettings holds per-backend call timeouts.
type TimeoutSettings struct {
	Embedding  time.Duration
	Vector     time.Duration
	Relational time.Duration
}

// Settings is the full application configuration.
type Settings struct {
	Chunking   ChunkingSettings
	Preprocess PreprocessOptions
	Embedding  EmbeddingSettings
	Vector     VectorSettings
	Relational RelationalSettings
	Audit      AuditSettings
	Retrieval  RetrievalSettings
	Timeouts   TimeoutSettings
	Scheduler  SchedulerConfig
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Chunking: ChunkingSettings{
			MaxTokens:     512,
			OverlapTokens: 64,
			Tokenizer:     "cl100k_base",
		},
		Preprocess: DefaultPreprocessOptions(),
		Embedding: EmbeddingSettings{
			Provider:   EmbeddingProviderHash,
			Model:      "all-MiniLM-L6-v2",
			BatchSize:  32,
			MaxRetries: 2,
		},
		Vector: VectorSettings{
			Provider:   VectorProviderQdrant,
			Host:       "localhost",
			Port:       6333,
			Collection: "world_knowledge",
			Distance:   DistanceCosine,
		},
		Relational: RelationalSettings{
			Driver: RelationalSQLite,
			Host:   "localhost",
			Port:   5432,
		},
		Audit: AuditSettings{
			Enabled: true,
		},
		Retrieval: RetrievalSettings{
			DefaultLimit:  10,
			MaxLimit:      100,
			ListScanLimit: 10000,
		},
		Timeouts: TimeoutSettings{
			Embedding:  30 * time.Second,
			Vector:     10 * time.Second,
			Relational: 10 * time.Second,
		},
		Scheduler: DefaultSchedulerConfig(),
	}
}

// Validate checks the settings for values the services cannot run with.
func (s Settings) Validate() error {
	if s.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("%w: chunking.max_tokens must be positive", ErrInvalidInput)
	}
	if s.Chunking.OverlapTokens < 0 {
		return fmt.Errorf("%w: chunking.overlap_tokens must not be negative", ErrInvalidInput)
	}
	if !s.Embedding.Provider.IsValid() {
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidInput, s.Embedding.Provider)
	}
	if !s.Vector.Provider.IsValid() {
		return fmt.Errorf("%w: unknown vector provider %q", ErrInvalidInput, s.Vector.Provider)
	}
	if s.Vector.Distance != DistanceCosine {
		return fmt.Errorf("%w: unsupported vector distance %q", ErrInvalidInput, s.Vector.Distance)
	}
	if s.Vector.Collection == "" {
		return fmt.Errorf("%w: vector.collection is required", ErrInvalidInput)
	}
	if !s.Relational.Driver.IsValid() {
		return fmt.Errorf("%w: unknown relational driver %q", ErrInvalidInput, s.Relational.Driver)
	}
	return nil
}
