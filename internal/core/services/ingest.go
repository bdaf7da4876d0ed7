package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure IngestService implements the interface.
var _ driving.IngestService = (*IngestService)(nil)

// Metadata keys read from or written to ingest metadata.
const (
	metaSource     = "source"
	metaVisibility = "visibility"
	metaIngestedAt = "ingested_at"
	metaChunkIndex = "chunk_index"
	metaTextLength = "text_length"
	metaType       = "type"
	metaDocumentID = "document_id"
	metaIngestID   = "ingest_id"
	metaTitle      = "title"
	metaLanguage   = "language"
)

// IngestService runs the ingestion pipeline: preprocess, chunk, embed,
// commit rows, upsert vectors, write the audit trail.
type IngestService struct {
	preprocessor driven.Preprocessor
	chunker      driven.Chunker
	embedder     *EmbeddingService
	relational   driven.RelationalStore
	vectors      driven.VectorStore
	audit        driven.AuditSink

	vectorTimeout     time.Duration
	relationalTimeout time.Duration

	now   func() time.Time
	newID func() string
}

// IngestOption configures an IngestService.
type IngestOption func(*IngestService)

// WithAuditSink enables the JSONL audit trail. Nil disables it.
func WithAuditSink(sink driven.AuditSink) IngestOption {
	return func(s *IngestService) {
		s.audit = sink
	}
}

// WithStoreTimeouts bounds each vector and relational call. Zero means no bound.
func WithStoreTimeouts(vector, relational time.Duration) IngestOption {
	return func(s *IngestService) {
		s.vectorTimeout = vector
		s.relationalTimeout = relational
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) IngestOption {
	return func(s *IngestService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIngestIDs replaces the ingest id generator.
func WithIngestIDs(newID func() string) IngestOption {
	return func(s *IngestService) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewIngestService creates the pipeline.
func NewIngestService(
	preprocessor driven.Preprocessor,
	chunker driven.Chunker,
	embedder *EmbeddingService,
	relational driven.RelationalStore,
	vectors driven.VectorStore,
	opts ...IngestOption,
) *IngestService {
	s := &IngestService{
		preprocessor: preprocessor,
		chunker:      chunker,
		embedder:     embedder,
		relational:   relational,
		vectors:      vectors,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest stores one text. Input errors return before anything is written.
// Once the relational commit succeeds the call succeeds; vector problems
// after that point yield VectorState partial with the pending chunk ids.
func (s *IngestService) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.IngestResult, error) {
	logger.Section("Ingest")

	visibility, err := resolveVisibility(req)
	if err != nil {
		return nil, err
	}
	source := resolveSource(req)
	mode := req.Mode
	if mode == "" {
		mode = domain.ChunkModeParagraph
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown chunk mode %q", domain.ErrInvalidInput, mode)
	}

	pre, err := s.preprocessor.Run(req.Text, req.Metadata)
	if err != nil {
		return nil, err
	}
	logger.Debug("preprocessed %d chars, language=%q", utf8.RuneCountInString(pre.Text), pre.Language)

	chunks := s.chunker.ChunkMode(pre.Text, mode)
	if len(chunks) == 0 {
		return nil, domain.ErrEmptyAfterChunking
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	logger.Debug("chunked into %d chunks (mode %s)", len(chunks), mode)

	vectors, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", domain.ErrEmbeddingCountMismatch, len(vectors), len(texts))
	}

	vectorReady, err := s.ensureCollection(ctx, VectorDimension(vectors))
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	createdAt := s.now().UTC()
	doc := &domain.Document{
		Title:      req.Title,
		Source:     source,
		RawText:    strings.Join(texts, "\n\n"),
		Visibility: visibility,
		Metadata:   pre.Metadata,
		CreatedAt:  createdAt,
	}
	docID, ids, err := s.commit(ctx, doc, chunks, source, visibility)
	if err != nil {
		return nil, err
	}
	logger.Debug("committed document %d with %d chunks", docID, len(ids))

	indexed := map[int64]bool{}
	if vectorReady {
		indexed = s.upsert(ctx, doc, docID, ids, texts, vectors)
	}

	result := &domain.IngestResult{
		IngestID:    s.newID(),
		DocumentID:  docID,
		Source:      source,
		Language:    pre.Language,
		ChunkCount:  len(ids),
		Chunks:      make([]domain.IngestedChunk, len(ids)),
		VectorState: domain.VectorStateComplete,
	}
	for i, id := range ids {
		idStr := strconv.FormatInt(id, 10)
		result.Chunks[i] = domain.IngestedChunk{ID: idStr, ChunkIndex: chunks[i].Index, Text: texts[i]}
		if !indexed[id] {
			result.PendingChunkIDs = append(result.PendingChunkIDs, idStr)
		}
	}
	if len(result.PendingChunkIDs) > 0 {
		result.VectorState = domain.VectorStatePartial
		logger.Warn("document %d stored with %d of %d chunks pending vector indexing",
			docID, len(result.PendingChunkIDs), len(ids))
	}

	result.AuditPath = s.writeAudit(doc, docID, result, mode)
	return result, nil
}

// ensureCollection reports whether vectors can be written in this call.
// Only a dimension conflict is fatal.
func (s *IngestService) ensureCollection(ctx context.Context, dim int) (bool, error) {
	if s.vectors == nil {
		return false, nil
	}
	if dim == 0 {
		logger.Warn("embedding model returned no usable vectors, chunks will stay pending")
		return false, nil
	}

	vctx, cancel := withTimeout(ctx, s.vectorTimeout)
	defer cancel()
	err := s.vectors.EnsureCollection(vctx, dim)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrDimensionMismatch):
		return false, err
	default:
		logger.Warn("vector store unavailable, chunks will stay pending: %v", err)
		return false, nil
	}
}

// commit writes the document and its chunks in one transaction.
func (s *IngestService) commit(
	ctx context.Context,
	doc *domain.Document,
	chunks []domain.Chunk,
	source string,
	visibility domain.Visibility,
) (int64, []int64, error) {
	rows := make([]domain.ChunkRow, len(chunks))
	for i, c := range chunks {
		rows[i] = domain.ChunkRow{
			ChunkIndex:     c.Index,
			Text:           c.Text,
			Source:         source,
			Visibility:     visibility,
			EmbeddingState: domain.EmbeddingPending,
		}
	}

	rctx, cancel := withTimeout(ctx, s.relationalTimeout)
	defer cancel()

	var (
		docID int64
		ids   []int64
	)
	err := s.relational.WithTx(rctx, func(tx driven.RelationalTx) error {
		var err error
		if docID, err = tx.InsertDocument(rctx, doc); err != nil {
			return err
		}
		ids, err = tx.InsertChunks(rctx, docID, rows)
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrRelational) {
			err = fmt.Errorf("%w: %w", domain.ErrRelational, err)
		}
		return 0, nil, err
	}
	if len(ids) != len(rows) {
		return 0, nil, fmt.Errorf("%w: stored %d of %d chunks", domain.ErrRelational, len(ids), len(rows))
	}
	return docID, ids, nil
}

// upsert writes one point per chunk with a non-empty vector and marks the
// written chunks indexed. It returns the ids that are now indexed.
func (s *IngestService) upsert(
	ctx context.Context,
	doc *domain.Document,
	docID int64,
	ids []int64,
	texts []string,
	vectors [][]float32,
) map[int64]bool {
	indexed := make(map[int64]bool, len(ids))
	if err := ctx.Err(); err != nil {
		logger.Warn("ingest cancelled after commit, document %d left pending: %v", docID, err)
		return indexed
	}

	entries := make([]domain.VectorEntry, 0, len(ids))
	written := make([]int64, 0, len(ids))
	for i, id := range ids {
		if len(vectors[i]) == 0 {
			continue
		}
		row := domain.ChunkRow{
			ID:         id,
			DocumentID: docID,
			ChunkIndex: i,
			Source:     doc.Source,
			Visibility: doc.Visibility,
		}
		entries = append(entries, domain.VectorEntry{
			ID:      strconv.FormatInt(id, 10),
			Vector:  vectors[i],
			Payload: chunkPayload(doc.Metadata, doc.Title, texts[i], row, doc.CreatedAt),
		})
		written = append(written, id)
	}
	if len(entries) == 0 {
		return indexed
	}

	vctx, cancel := withTimeout(ctx, s.vectorTimeout)
	err := s.vectors.Upsert(vctx, entries)
	cancel()
	if err != nil {
		logger.Warn("vector upsert failed for document %d: %v", docID, err)
		return indexed
	}

	rctx, cancel := withTimeout(context.WithoutCancel(ctx), s.relationalTimeout)
	defer cancel()
	if err := s.relational.MarkIndexed(rctx, written, doc.CreatedAt); err != nil {
		logger.Warn("vectors written but marking document %d indexed failed: %v", docID, err)
		return indexed
	}
	for _, id := range written {
		indexed[id] = true
	}
	return indexed
}

// writeAudit streams one record per chunk. Failures are logged only.
func (s *IngestService) writeAudit(doc *domain.Document, docID int64, result *domain.IngestResult, mode domain.ChunkMode) string {
	if s.audit == nil {
		return ""
	}
	w, err := s.audit.Open(doc.Source, doc.CreatedAt)
	if err != nil {
		logger.Warn("audit trail unavailable: %v", err)
		return ""
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn("closing audit trail %s: %v", w.Path(), err)
		}
	}()

	for _, c := range result.Chunks {
		meta := maps.Clone(doc.Metadata)
		if meta == nil {
			meta = map[string]any{}
		}
		meta[metaSource] = doc.Source
		meta[metaIngestedAt] = doc.CreatedAt.Format(time.RFC3339)
		meta[metaChunkIndex] = c.ChunkIndex
		meta[metaTextLength] = utf8.RuneCountInString(c.Text)
		meta[metaType] = mode.DocumentType()
		meta[metaVisibility] = string(doc.Visibility)
		meta[metaDocumentID] = docID
		meta[metaIngestID] = result.IngestID
		if doc.Title != "" {
			meta[metaTitle] = doc.Title
		}
		if result.Language != "" {
			meta[metaLanguage] = result.Language
		}

		if err := w.Write(domain.AuditRecord{ID: c.ID, Text: c.Text, Metadata: meta}); err != nil {
			logger.Warn("audit write failed for chunk %s: %v", c.ID, err)
			return w.Path()
		}
	}
	return w.Path()
}

// resolveVisibility reads the label from the request, then metadata.
func resolveVisibility(req domain.IngestRequest) (domain.Visibility, error) {
	label := req.Visibility
	if strings.TrimSpace(label) == "" {
		if v, ok := req.Metadata[metaVisibility].(string); ok {
			label = v
		}
	}
	return domain.ParseVisibility(label)
}

// resolveSource picks the request source, then metadata, then the default.
func resolveSource(req domain.IngestRequest) string {
	if s := strings.TrimSpace(req.Source); s != "" {
		return s
	}
	if s, ok := req.Metadata[metaSource].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return domain.DefaultSource
}

// withTimeout bounds ctx by d. A non-positive d only adds cancellation.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
