package driven

import "github.com/custodia-labs/sercha-kb/internal/core/domain"

// Preprocessor cleans raw input before chunking.
type Preprocessor interface {
	// Run returns the cleaned text and a copy of metadata enriched with
	// preprocessing facts. Empty input fails with domain.ErrEmptyInput.
	Run(text string, metadata map[string]any) (*domain.Preprocessed, error)
}
