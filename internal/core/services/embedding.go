package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Embedding defaults.
const (
	DefaultEmbeddingBatchSize  = 32
	DefaultEmbeddingMaxRetries = 2
	DefaultEmbeddingRetryDelay = 250 * time.Millisecond
	DefaultEmbeddingTimeout    = 30 * time.Second

	maxBackoff = 10 * time.Second
)

// EmbeddingService wraps a shared embedding model. Calls are serialised,
// split into batches, rate limited and retried with backoff.
type EmbeddingService struct {
	mu         sync.Mutex
	model      driven.EmbeddingModel
	batchSize  int
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
}

// EmbeddingOption configures an EmbeddingService.
type EmbeddingOption func(*EmbeddingService)

// WithBatchSize sets the number of texts sent per model call.
func WithBatchSize(n int) EmbeddingOption {
	return func(s *EmbeddingService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithRequestsPerSecond limits model calls. Zero or less means unlimited.
func WithRequestsPerSecond(rps float64) EmbeddingOption {
	return func(s *EmbeddingService) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithMaxRetries sets how often a failed batch is retried.
func WithMaxRetries(n int) EmbeddingOption {
	return func(s *EmbeddingService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base delay for exponential backoff.
func WithRetryDelay(d time.Duration) EmbeddingOption {
	return func(s *EmbeddingService) {
		if d >= 0 {
			s.retryDelay = d
		}
	}
}

// WithEmbeddingTimeout bounds each model call.
func WithEmbeddingTimeout(d time.Duration) EmbeddingOption {
	return func(s *EmbeddingService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewEmbeddingService creates an embedding service around model.
func NewEmbeddingService(model driven.EmbeddingModel, opts ...EmbeddingOption) *EmbeddingService {
	s := &EmbeddingService{
		model:      model,
		batchSize:  DefaultEmbeddingBatchSize,
		maxRetries: DefaultEmbeddingMaxRetries,
		retryDelay: DefaultEmbeddingRetryDelay,
		timeout:    DefaultEmbeddingTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbeddingOptionsFromSettings maps settings to service options.
func EmbeddingOptionsFromSettings(settings domain.Settings) []EmbeddingOption {
	return []EmbeddingOption{
		WithBatchSize(settings.Embedding.BatchSize),
		WithRequestsPerSecond(settings.Embedding.RequestsPerSecond),
		WithMaxRetries(settings.Embedding.MaxRetries),
		WithEmbeddingTimeout(settings.Timeouts.Embedding),
	}
}

// ModelName returns the model name, or "" without a model.
func (s *EmbeddingService) ModelName() string {
	if s == nil || s.model == nil {
		return ""
	}
	return s.model.ModelName()
}

// Dimensions returns the dimension reported by the model, 0 when unknown.
func (s *EmbeddingService) Dimensions() int {
	if s == nil || s.model == nil {
		return 0
	}
	return s.model.Dimensions()
}

// EmbedMany embeds texts in order. All returned non-empty vectors share one
// length, which equals the model's reported dimension when it has one.
func (s *EmbeddingService) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if s == nil || s.model == nil {
		return nil, fmt.Errorf("%w: no embedding model loaded", domain.ErrModelUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))
		batch := texts[start:end]

		vecs, err := s.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("%w: model returned %d vectors for %d texts",
				domain.ErrEmbeddingCountMismatch, len(vecs), len(batch))
		}
		out = append(out, vecs...)
	}

	if err := checkDimensions(out, s.model.Dimensions()); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (s *EmbeddingService) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: empty vector for query", domain.ErrModelUnavailable)
	}
	return vecs[0], nil
}

func (s *EmbeddingService) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(s.retryDelay, attempt)
			logger.Debug("embedding retry %d/%d in %s: %v", attempt, s.maxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", domain.ErrModelUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		vecs, err := s.model.Embed(callCtx, batch)
		cancel()
		if err == nil {
			return vecs, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %w", domain.ErrModelUnavailable, lastErr)
}

func checkDimensions(vecs [][]float32, reported int) error {
	dim := reported
	for i, v := range vecs {
		if len(v) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(v)
			continue
		}
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				domain.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// VectorDimension returns the length shared by the non-empty vectors, or 0.
func VectorDimension(vecs [][]float32) int {
	for _, v := range vecs {
		if len(v) > 0 {
			return len(v)
		}
	}
	return 0
}

// calculateBackoff returns base*2^attempt capped at maxBackoff, with
// +/-25% jitter.
func calculateBackoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	if backoff/2 <= 0 {
		return backoff
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2)) - backoff/4
	return backoff + jitter
}
