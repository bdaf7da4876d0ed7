package driven

import "github.com/custodia-labs/sercha-kb/internal/core/domain"

// Chunker splits cleaned text into overlapping windows.
type Chunker interface {
	// ChunkMode segments text according to mode and windows each segment.
	// Indices are dense from 0 across the whole text.
	ChunkMode(text string, mode domain.ChunkMode) []domain.Chunk
}
