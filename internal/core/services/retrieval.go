package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure RetrievalService implements the interface.
var _ driving.RetrievalService = (*RetrievalService)(nil)

// Paging defaults.
const (
	DefaultPageLimit     = 10
	DefaultMaxPageLimit  = 100
	DefaultListScanLimit = 10000
)

// RetrievalService lists, searches and fetches stored chunks under a
// caller scope. The vector store is the primary source; the relational
// store backs list when the index is empty or unreachable and hydrates
// hits whose payload has no text.
type RetrievalService struct {
	embedder   *EmbeddingService
	vectors    driven.VectorStore
	relational driven.RelationalStore
	access     *AccessPolicy

	defaultLimit int
	maxLimit     int
	scanLimit    int

	vectorTimeout     time.Duration
	relationalTimeout time.Duration

	now func() time.Time
}

// RetrievalOption configures a RetrievalService.
type RetrievalOption func(*RetrievalService)

// WithPageLimits sets the default and maximum page size and how many points
// list scans from the vector store. Non-positive values keep the defaults.
func WithPageLimits(defaultLimit, maxLimit, scanLimit int) RetrievalOption {
	return func(s *RetrievalService) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if scanLimit > 0 {
			s.scanLimit = scanLimit
		}
	}
}

// WithRetrievalTimeouts bounds each vector and relational call.
func WithRetrievalTimeouts(vector, relational time.Duration) RetrievalOption {
	return func(s *RetrievalService) {
		s.vectorTimeout = vector
		s.relationalTimeout = relational
	}
}

// WithRetrievalClock replaces time.Now, used for payloads without a timestamp.
func WithRetrievalClock(now func() time.Time) RetrievalOption {
	return func(s *RetrievalService) {
		if now != nil {
			s.now = now
		}
	}
}

// RetrievalOptionsFromSettings maps settings onto options.
func RetrievalOptionsFromSettings(settings domain.Settings) []RetrievalOption {
	return []RetrievalOption{
		WithPageLimits(settings.Retrieval.DefaultLimit, settings.Retrieval.MaxLimit, settings.Retrieval.ListScanLimit),
		WithRetrievalTimeouts(settings.Timeouts.Vector, settings.Timeouts.Relational),
	}
}

// NewRetrievalService creates a retrieval service.
func NewRetrievalService(
	embedder *EmbeddingService,
	vectors driven.VectorStore,
	relational driven.RelationalStore,
	opts ...RetrievalOption,
) *RetrievalService {
	s := &RetrievalService{
		embedder:     embedder,
		vectors:      vectors,
		relational:   relational,
		access:       NewAccessPolicy(),
		defaultLimit: DefaultPageLimit,
		maxLimit:     DefaultMaxPageLimit,
		scanLimit:    DefaultListScanLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List pages through stored chunks, newest first by default.
func (s *RetrievalService) List(ctx context.Context, req domain.ListRequest) (*domain.Page, error) {
	limit, offset := s.paging(req.Limit, req.Offset)
	scope := domain.ParseScope(string(req.Scope))
	orderBy := domain.ParseOrderBy(string(req.OrderBy), domain.OrderByCreatedAt)

	if s.vectors != nil {
		vctx, cancel := withTimeout(ctx, s.vectorTimeout)
		points, err := s.vectors.Scroll(vctx, s.scanLimit, 0)
		cancel()
		if err != nil {
			logger.Warn("vector scroll failed, listing from relational store: %v", err)
		} else {
			now := s.now().UTC()
			items := make([]domain.Item, 0, len(points))
			for _, p := range points {
				item := formatPayload(p.ID, nil, p.Payload, now)
				if req.Source != "" && item.Source != req.Source {
					continue
				}
				items = append(items, item)
			}

			// The store is chosen before paging so every page of one
			// listing comes from the same store.
			if len(items) > 0 {
				kept, dropped := s.access.Filter(items, scope)
				sortItems(kept, orderBy, !req.Ascending)
				return buildPage(paginate(kept, limit, offset), len(kept), limit, offset, dropped, false), nil
			}
		}
	}

	return s.listRelational(ctx, limit, offset, req.Source, scope)
}

// listRelational serves list from the relational store, newest first by id.
func (s *RetrievalService) listRelational(
	ctx context.Context,
	limit, offset int,
	source string,
	scope domain.Scope,
) (*domain.Page, error) {
	if s.relational == nil {
		return buildPage(nil, 0, limit, offset, 0, true), nil
	}
	rctx, cancel := withTimeout(ctx, s.relationalTimeout)
	defer cancel()

	filter := domain.ChunkFilter{Source: source, Visibilities: scope.AllowedVisibilities()}
	total, err := s.relational.CountChunks(rctx, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.relational.ListChunks(rctx, limit, offset, filter)
	if err != nil {
		return nil, err
	}

	dropped := 0
	if all, err := s.relational.CountChunks(rctx, domain.ChunkFilter{Source: source}); err == nil {
		dropped = max(all-total, 0)
	}

	items := make([]domain.Item, len(rows))
	for i, row := range rows {
		items[i] = rowItem(row)
	}
	return buildPage(items, total, limit, offset, dropped, true), nil
}

// Search embeds the query and returns the most similar chunks. Model and
// index failures are logged and produce an empty page.
func (s *RetrievalService) Search(ctx context.Context, req domain.SearchRequest) (*domain.Page, error) {
	limit, offset := s.paging(req.Limit, req.Offset)
	scope := domain.ParseScope(string(req.Scope))
	orderBy := domain.ParseOrderBy(string(req.OrderBy), domain.OrderByScore)
	empty := buildPage(nil, 0, limit, offset, 0, false)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return empty, nil
	}
	logger.Section("Search")
	logger.Debug("query %q, limit %d, offset %d, scope %s", query, limit, offset, scope)

	if s.vectors == nil {
		return empty, nil
	}
	vec, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		logger.Warn("embedding query failed: %v", err)
		return empty, nil
	}

	vctx, cancel := withTimeout(ctx, s.vectorTimeout)
	hits, err := s.vectors.Search(vctx, domain.VectorQuery{Vector: vec, Limit: limit + offset, Source: req.Source})
	cancel()
	if err != nil {
		logger.Warn("vector search failed: %v", err)
		return empty, nil
	}
	logger.Debug("vector store returned %d hits", len(hits))

	now := s.now().UTC()
	items := make([]domain.Item, 0, len(hits))
	for _, hit := range hits {
		score := hit.Score
		item := formatPayload(hit.ID, &score, hit.Payload, now)
		if item.Text == "" {
			s.hydrate(ctx, &item, hit.Payload)
		}
		if req.Source != "" && item.Source != req.Source {
			continue
		}
		items = append(items, item)
	}

	kept, dropped := s.access.Filter(items, scope)
	sortItems(kept, orderBy, !req.Ascending)
	return buildPage(paginate(kept, limit, offset), len(kept), limit, offset, dropped, false), nil
}

// Get returns one chunk by id under scope.
func (s *RetrievalService) Get(ctx context.Context, id string, scope domain.Scope) (*domain.Item, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrInvalidInput)
	}
	scope = domain.ParseScope(string(scope))

	var payload map[string]any
	if s.vectors != nil {
		vctx, cancel := withTimeout(ctx, s.vectorTimeout)
		p, err := s.vectors.Retrieve(vctx, id)
		cancel()
		if err != nil {
			logger.Warn("vector retrieve failed for %s: %v", id, err)
		}
		payload = p
	}

	var item domain.Item
	if payload != nil {
		item = formatPayload(id, nil, payload, s.now().UTC())
		if item.Text == "" {
			s.hydrate(ctx, &item, payload)
		}
	} else {
		row, err := s.chunkRow(ctx, id)
		if err != nil {
			return nil, err
		}
		item = rowItem(*row)
	}

	if !scope.Allows(string(item.Visibility)) {
		logger.Debug("scope %s filtered out 1 items", scope)
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return &item, nil
}

// hydrate fills a textless hit from its relational row.
func (s *RetrievalService) hydrate(ctx context.Context, item *domain.Item, payload map[string]any) {
	row, err := s.chunkRow(ctx, item.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("hydrating %s: %v", item.ID, err)
		}
		return
	}
	item.Text = row.Text
	if item.DocumentID == 0 {
		item.DocumentID = row.DocumentID
		item.ChunkIndex = row.ChunkIndex
	}
	if item.Source == unknownSource && row.Source != "" {
		item.Source = row.Source
	}
	if _, labelled := payload[domain.PayloadVisibility]; !labelled {
		item.Visibility = domain.VisibilityOf(string(row.Visibility))
	}
}

func (s *RetrievalService) chunkRow(ctx context.Context, id string) (*domain.ChunkRow, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || s.relational == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	rctx, cancel := withTimeout(ctx, s.relationalTimeout)
	defer cancel()
	return s.relational.GetChunk(rctx, n)
}

// paging applies the default and maximum limit and clamps the offset.
func (s *RetrievalService) paging(limit, offset int) (int, int) {
	if limit < 1 {
		limit = s.defaultLimit
	}
	limit = min(limit, s.maxLimit)
	return limit, max(offset, 0)
}

// sortItems orders by the key in the requested direction. Ties are broken
// by id ascending whatever the direction.
func sortItems(items []domain.Item, orderBy domain.OrderBy, descending bool) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		var cmp int
		switch orderBy {
		case domain.OrderByScore:
			cmp = compareFloat(a.Score, b.Score)
		default:
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}
		if cmp != 0 {
			if descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return domain.CompareIDs(a.ID, b.ID) < 0
	})
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// paginate returns items[offset:offset+limit], clamped.
func paginate(items []domain.Item, limit, offset int) []domain.Item {
	if offset >= len(items) {
		return []domain.Item{}
	}
	return items[offset:min(offset+limit, len(items))]
}

// buildPage assembles a page and its summaries over the returned items.
func buildPage(items []domain.Item, total, limit, offset, filteredOut int, fallback bool) *domain.Page {
	if items == nil {
		items = []domain.Item{}
	}
	counts := make(map[string]int)
	scores := make([]float64, len(items))
	for i, item := range items {
		counts[item.Source]++
		scores[i] = item.Score
	}
	return &domain.Page{
		Items:        items,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
		SourceCounts: counts,
		ScoreSummary: SummarizeScores(scores),
		FilteredOut:  filteredOut,
		Fallback:     fallback,
	}
}

// SummarizeScores returns min, max, mean and p95 of scores. Every field is
// nil for an empty input.
func SummarizeScores(scores []float64) domain.ScoreSummary {
	if len(scores) == 0 {
		return domain.ScoreSummary{}
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	idx := min(max(int(float64(n)*0.95)-1, 0), n-1)

	lo, hi, avg, p95 := sorted[0], sorted[n-1], sum/float64(n), sorted[idx]
	return domain.ScoreSummary{Min: &lo, Max: &hi, Avg: &avg, P95: &p95}
}
