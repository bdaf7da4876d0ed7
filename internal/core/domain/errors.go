package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// Adapters wrap their infrastructure errors with the matching kind
// (for example fmt.Errorf("%w: %w", ErrVectorStore, err)) so callers can
// branch with errors.Is.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// Input errors. No side effects happen before these are returned.

	// ErrEmptyInput indicates the text to ingest is empty or whitespace-only.
	ErrEmptyInput = errors.New("empty input")

	// ErrEmptyAfterChunking indicates the chunker produced no chunks.
	ErrEmptyAfterChunking = errors.New("no chunks produced from input")

	// ErrMissingVisibility indicates an ingest call without a visibility label.
	ErrMissingVisibility = errors.New("visibility label is required")

	// ErrInvalidVisibility indicates an unrecognised visibility label.
	ErrInvalidVisibility = fmt.Errorf("%w: unknown visibility label", ErrInvalidInput)

	// Consistency errors. Fatal for the call, nothing is written.

	// ErrEmbeddingCountMismatch indicates the model returned a different
	// number of vectors than texts.
	ErrEmbeddingCountMismatch = errors.New("embedding count mismatch")

	// ErrDimensionMismatch indicates a vector length differs from the
	// collection or model dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// Capacity and resource errors. Retryable at the caller's discretion.

	// ErrModelUnavailable indicates the embedding model could not be loaded or called.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrVectorStore indicates a vector store transport or server failure.
	ErrVectorStore = errors.New("vector store error")

	// ErrRelational indicates a relational store failure.
	ErrRelational = errors.New("relational store error")

	// ErrResourceUnavailable indicates a shared resource failed to initialise.
	ErrResourceUnavailable = errors.New("resource unavailable")
)
