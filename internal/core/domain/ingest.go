package domain

// IngestRequest is the input of an ingest call.
type IngestRequest struct {
	// Text is the raw input. Required.
	Text string

	Title string

	// Source defaults to metadata["source"], then "manual".
	Source string

	Metadata map[string]any

	// Visibility is required; metadata["visibility"] is accepted when empty.
	Visibility string

	// Mode defaults to ChunkModeParagraph.
	Mode ChunkMode
}

// VectorState reports whether every chunk reached the vector store.
type VectorState string

// Vector states.
const (
	VectorStateComplete VectorState = "complete"
	VectorStatePartial  VectorState = "partial"
)

// IngestedChunk summarises one stored chunk.
type IngestedChunk struct {
	ID         string `json:"id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// IngestResult is the output of a successful ingest call.
type IngestResult struct {
	IngestID   string          `json:"ingest_id"`
	DocumentID int64           `json:"document_id"`
	Source     string          `json:"source"`
	Language   string          `json:"language,omitempty"`
	ChunkCount int             `json:"chunk_count"`
	Chunks     []IngestedChunk `json:"chunks"`

	// VectorState is partial when some chunks are still pending.
	VectorState VectorState `json:"vector_state"`

	// PendingChunkIDs lists chunks that need re-indexing.
	PendingChunkIDs []string `json:"pending_chunk_ids,omitempty"`

	// AuditPath is the JSONL file written for this call, empty if none.
	AuditPath string `json:"audit_path,omitempty"`
}

// AuditRecord is one line of the ingest audit trail.
type AuditRecord struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}
