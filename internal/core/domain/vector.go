package domain

import (
	"strconv"
	"strings"
)

// Canonical vector payload keys.
const (
	PayloadText       = "text"
	PayloadDocumentID = "document_id"
	PayloadChunkIndex = "chunk_index"
	PayloadSource     = "source"
	PayloadCreatedAt  = "created_at"
	PayloadVisibility = "visibility"
	PayloadTitle      = "title"
)

// VectorDistance names the similarity metric of a collection.
type VectorDistance string

// DistanceCosine is the only supported metric.
const DistanceCosine VectorDistance = "cosine"

// VectorEntry is one point written to the vector store.
type VectorEntry struct {
	// ID is the chunk id as a string.
	ID      string
	Vector  []float32
	Payload map[string]any
}

// VectorQuery is a similarity search request.
type VectorQuery struct {
	Vector []float32
	Limit  int

	// Source restricts hits to one payload source when set.
	Source string
}

// VectorHit is a search result from the vector store.
type VectorHit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// VectorPoint is a stored point returned by scroll.
type VectorPoint struct {
	ID      string
	Payload map[string]any
}

// CompareIDs orders point ids. Numeric ids compare by value and sort
// before non-numeric ids, which compare lexically.
func CompareIDs(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
