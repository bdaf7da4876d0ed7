package driven

import "context"

// EmbeddingModel turns text into fixed-width vectors. Backends are the
// local hashing embedder, Ollama and OpenAI. Callers go through the
// embedding service, which batches and serialises calls to one model.
type EmbeddingModel interface {
	// Embed returns len(texts) vectors in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the vector width, or 0 until the first Embed reveals it.
	Dimensions() int

	ModelName() string

	// Ping checks reachability without embedding anything.
	Ping(ctx context.Context) error

	Close() error
}
