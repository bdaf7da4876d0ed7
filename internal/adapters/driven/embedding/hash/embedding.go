// Package hash provides a deterministic local embedding model based on
// feature hashing. It needs no network access and is the default provider.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// Ensure Model implements the interface.
var _ driven.EmbeddingModel = (*Model)(nil)

// DefaultModel is the model name used when none is configured.
const DefaultModel = "all-MiniLM-L6-v2"

// DefaultDimensions is used for model names without a known dimension.
const DefaultDimensions = 384

var modelDimensions = map[string]int{
	"all-MiniLM-L6-v2":       384,
	"all-MiniLM-L12-v2":      384,
	"all-mpnet-base-v2":      768,
	"nomic-embed-text":       768,
	"text-embedding-3-small": 1536,
}

// DimensionsFor returns the vector size used for a model name.
func DimensionsFor(model string) int {
	if d, ok := modelDimensions[model]; ok {
		return d
	}
	return DefaultDimensions
}

// Model hashes word unigrams and bigrams into a fixed-size signed vector
// and L2-normalises it.
type Model struct {
	name       string
	dimensions int
}

// New creates a hash model. dimensions <= 0 selects the model's default.
func New(name string, dimensions int) *Model {
	if name == "" {
		name = DefaultModel
	}
	if dimensions <= 0 {
		dimensions = DimensionsFor(name)
	}
	return &Model{name: name, dimensions: dimensions}
}

// Embed returns one vector per input text.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *Model) vector(text string) []float32 {
	vec := make([]float64, m.dimensions)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		words = []string{strings.TrimSpace(text)}
	}

	for i, w := range words {
		m.add(vec, w, 1.0)
		if i > 0 {
			m.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, m.dimensions)
	for i, v := range vec {
		if norm > 0 {
			out[i] = float32(v / norm)
		}
	}
	return out
}

func (m *Model) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(m.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// Dimensions returns the embedding vector size.
func (m *Model) Dimensions() int {
	return m.dimensions
}

// ModelName returns the configured model name.
func (m *Model) ModelName() string {
	return m.name
}

// Ping always succeeds.
func (m *Model) Ping(context.Context) error {
	return nil
}

// Close releases resources.
func (m *Model) Close() error {
	return nil
}
