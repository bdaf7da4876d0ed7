package domain

import "time"

// DefaultSource is the source label used when an ingest call names none.
const DefaultSource = "manual"

// Document is the canonical record of one ingest call.
// It is created once and never mutated.
type Document struct {
	// ID is the relational identifier.
	ID int64

	// Title is optional.
	Title string

	// Source labels where the text came from.
	Source string

	// RawText is the chunk texts joined by a blank line.
	RawText string

	// Visibility is the access label shared by all chunks of the document.
	Visibility Visibility

	// Metadata contains the caller metadata plus preprocessing facts.
	Metadata map[string]any

	// CreatedAt is when the document was committed.
	CreatedAt time.Time
}

// EmbeddingState tracks whether a chunk has a vector in the vector store.
type EmbeddingState string

// Embedding states.
const (
	EmbeddingPending EmbeddingState = "pending"
	EmbeddingIndexed EmbeddingState = "indexed"
)

// IsValid returns true if the state is recognised.
func (s EmbeddingState) IsValid() bool {
	return s == EmbeddingPending || s == EmbeddingIndexed
}

// ChunkRow is a persisted chunk.
type ChunkRow struct {
	ID             int64
	DocumentID     int64
	ChunkIndex     int
	Text           string
	Source         string
	Visibility     Visibility
	EmbeddingState EmbeddingState
	LastEmbeddedAt *time.Time

	// DocumentCreatedAt is filled by reads that join the owning document.
	DocumentCreatedAt time.Time
}

// ChunkFilter restricts relational chunk reads.
// Zero values mean no restriction.
type ChunkFilter struct {
	Source       string
	Visibilities []Visibility
}

// Matches reports whether a row passes the filter.
func (f ChunkFilter) Matches(row ChunkRow) bool {
	if f.Source != "" && row.Source != f.Source {
		return false
	}
	if len(f.Visibilities) == 0 {
		return true
	}
	for _, v := range f.Visibilities {
		if v == row.Visibility {
			return true
		}
	}
	return false
}

// PendingChunk is a pending row together with what is needed to rebuild
// its vector payload.
type PendingChunk struct {
	Row               ChunkRow
	DocumentMetadata  map[string]any
	DocumentTitle     string
	DocumentCreatedAt time.Time
}
