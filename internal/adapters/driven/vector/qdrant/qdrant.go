// Package qdrant provides a VectorStore backed by the Qdrant REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.VectorStore = (*Store)(nil)

// Default configuration values.
const (
	DefaultHost       = "localhost"
	DefaultPort       = 6333
	DefaultCollection = "world_knowledge"
	DefaultTimeout    = 10 * time.Second

	scrollPageSize = 256
)

// Config holds connection settings.
type Config struct {
	// URL overrides Host and Port, e.g. http://qdrant:6333.
	URL        string
	Host       string
	Port       int
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Store is a minimal REST client to one Qdrant collection.
// Collections are created with cosine distance.
type Store struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

// New creates a Qdrant store. No request is made until first use.
func New(cfg Config) *Store {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	base := cfg.URL
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &Store{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Collection returns the collection name.
func (s *Store) Collection() string {
	return s.collection
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors json.RawMessage `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// vectorSize reads the size of the unnamed vector, or of the first named one.
func (c collectionInfo) vectorSize() int {
	var single struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(c.Result.Config.Params.Vectors, &single); err == nil && single.Size > 0 {
		return single.Size
	}
	var named map[string]struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(c.Result.Config.Params.Vectors, &named); err == nil {
		for _, v := range named {
			return v.Size
		}
	}
	return 0
}

// EnsureCollection creates the collection when absent. An existing
// collection with a different dimension is a dimension mismatch.
func (s *Store) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", domain.ErrInvalidInput, dim)
	}

	existing, found, err := s.collectionSize(ctx)
	if err != nil {
		return err
	}
	if !found {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dim,
				"distance": "Cosine",
			},
		}
		status, err := s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil)
		if err != nil && status != http.StatusConflict {
			return err
		}
		if status != http.StatusConflict {
			return nil
		}
		// Created concurrently.
		if existing, _, err = s.collectionSize(ctx); err != nil {
			return err
		}
	}

	if existing != dim {
		return fmt.Errorf("%w: collection %s has dimension %d, vectors have %d",
			domain.ErrDimensionMismatch, s.collection, existing, dim)
	}
	return nil
}

func (s *Store) collectionSize(ctx context.Context) (int, bool, error) {
	var info collectionInfo
	status, err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, &info)
	if status == http.StatusNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return info.vectorSize(), true, nil
}

// Upsert writes points and waits until they are persisted.
func (s *Store) Upsert(ctx context.Context, entries []domain.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		points[i] = map[string]any{
			"id":      pointID(e.ID),
			"vector":  e.Vector,
			"payload": e.Payload,
		}
	}
	_, err := s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil)
	return err
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Search returns the nearest points by descending score, ties by id.
func (s *Store) Search(ctx context.Context, q domain.VectorQuery) ([]domain.VectorHit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	req := map[string]any{
		"vector":       q.Vector,
		"limit":        limit,
		"with_payload": true,
	}
	if q.Source != "" {
		req["filter"] = sourceFilter(q.Source)
	}

	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp)
	if status == http.StatusNotFound {
		return []domain.VectorHit{}, nil
	}
	if err != nil {
		return nil, err
	}

	hits := make([]domain.VectorHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, domain.VectorHit{ID: formatID(r.ID), Score: r.Score, Payload: r.Payload})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return domain.CompareIDs(hits[i].ID, hits[j].ID) < 0
	})
	return hits, nil
}

// Retrieve returns the payload of one point, or nil when it does not exist.
func (s *Store) Retrieve(ctx context.Context, id string) (map[string]any, error) {
	var resp struct {
		Result *struct {
			ID      any            `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodGet, s.collectionPath("/points/"+url.PathEscape(id)), nil, &resp)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, nil
	}
	if resp.Result.Payload == nil {
		return map[string]any{}, nil
	}
	return resp.Result.Payload, nil
}

// Scroll pages through points in id order. Qdrant pages by point id, so
// offset points are read and skipped.
func (s *Store) Scroll(ctx context.Context, limit, offset int) ([]domain.VectorPoint, error) {
	if limit <= 0 {
		return []domain.VectorPoint{}, nil
	}
	offset = max(offset, 0)
	want := limit + offset

	var (
		points []domain.VectorPoint
		next   any
	)
	for len(points) < want {
		req := map[string]any{
			"limit":        min(scrollPageSize, want-len(points)),
			"with_payload": true,
			"with_vector":  false,
		}
		if next != nil {
			req["offset"] = next
		}

		var resp struct {
			Result struct {
				Points         []scoredPoint `json:"points"`
				NextPageOffset any           `json:"next_page_offset"`
			} `json:"result"`
		}
		status, err := s.do(ctx, http.MethodPost, s.collectionPath("/points/scroll"), req, &resp)
		if status == http.StatusNotFound {
			break
		}
		if err != nil {
			return nil, err
		}

		for _, p := range resp.Result.Points {
			points = append(points, domain.VectorPoint{ID: formatID(p.ID), Payload: p.Payload})
		}
		next = resp.Result.NextPageOffset
		if next == nil || len(resp.Result.Points) == 0 {
			break
		}
	}

	if offset >= len(points) {
		return []domain.VectorPoint{}, nil
	}
	return points[offset:min(len(points), want)], nil
}

// Count returns the exact number of points.
func (s *Store) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count"), map[string]any{"exact": true}, &resp)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Ping checks that the server answers.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodGet, "/collections", nil, nil)
	return err
}

// Close releases idle connections.
func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Store) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.collection) + suffix
}

// do sends a JSON request. The returned status is 0 when no response was
// received. Errors wrap domain.ErrVectorStore.
func (s *Store) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%w: marshal request: %w", domain.ErrVectorStore, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("%w: create request: %w", domain.ErrVectorStore, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant %s %s: %w", domain.ErrVectorStore, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, fmt.Errorf("%w: qdrant %s %s failed: %s: %s",
			domain.ErrVectorStore, method, path, resp.Status, bytes.TrimSpace(msg))
	}

	if out != nil {
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("%w: decode response: %w", domain.ErrVectorStore, err)
		}
	}
	return resp.StatusCode, nil
}

func sourceFilter(source string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": domain.PayloadSource, "match": map[string]any{"value": source}},
		},
	}
}

// pointID maps a chunk id to a Qdrant point id. Qdrant accepts unsigned
// integers or UUID strings.
func pointID(id string) any {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return n
	}
	return id
}

func formatID(v any) string {
	switch id := v.(type) {
	case json.Number:
		return id.String()
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}
