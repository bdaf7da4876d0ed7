// Package resources caches the process-wide expensive handles: embedding
// models, vector store clients and relational stores. Concurrent callers
// asking for the same key receive the same instance.
package resources

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// VectorKey identifies a vector store endpoint.
type VectorKey struct {
	Host string
	Port int
}

// RelationalKey identifies a relational database.
type RelationalKey struct {
	Driver   domain.RelationalDriver
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// Openers build resources on first use.
type Openers struct {
	Vector     func(ctx context.Context, key VectorKey) (driven.VectorStore, error)
	Embedding  func(ctx context.Context, model string) (driven.EmbeddingModel, error)
	Relational func(ctx context.Context, key RelationalKey) (driven.RelationalStore, error)
}

// Shared holds the caches. The zero value is not usable; call New.
type Shared struct {
	openers Openers

	vectors     sync.Map // VectorKey -> driven.VectorStore
	models      sync.Map // string -> driven.EmbeddingModel
	relationals sync.Map // RelationalKey -> driven.RelationalStore

	vectorMu     sync.Mutex
	modelMu      sync.Mutex
	relationalMu sync.Mutex
}

// New returns an empty cache using the given openers.
func New(openers Openers) *Shared {
	return &Shared{openers: openers}
}

// VectorStore returns the client for host:port, opening it once.
func (s *Shared) VectorStore(ctx context.Context, host string, port int) (driven.VectorStore, error) {
	key := VectorKey{Host: host, Port: port}
	if v, ok := s.vectors.Load(key); ok {
		return v.(driven.VectorStore), nil
	}

	s.vectorMu.Lock()
	defer s.vectorMu.Unlock()
	if v, ok := s.vectors.Load(key); ok {
		return v.(driven.VectorStore), nil
	}
	if s.openers.Vector == nil {
		return nil, fmt.Errorf("%w: no vector store opener", domain.ErrResourceUnavailable)
	}

	store, err := s.openers.Vector(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: vector store %s:%d: %w", domain.ErrResourceUnavailable, host, port, err)
	}
	s.vectors.Store(key, store)
	logger.Debug("opened vector store %s:%d", host, port)
	return store, nil
}

// EmbeddingModel returns the model with the given name, loading it once.
func (s *Shared) EmbeddingModel(ctx context.Context, name string) (driven.EmbeddingModel, error) {
	if m, ok := s.models.Load(name); ok {
		return m.(driven.EmbeddingModel), nil
	}

	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	if m, ok := s.models.Load(name); ok {
		return m.(driven.EmbeddingModel), nil
	}
	if s.openers.Embedding == nil {
		return nil, fmt.Errorf("%w: no embedding model opener", domain.ErrResourceUnavailable)
	}

	model, err := s.openers.Embedding(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding model %s: %w", domain.ErrResourceUnavailable, name, err)
	}
	s.models.Store(name, model)
	logger.Debug("loaded embedding model %s", name)
	return model, nil
}

// RelationalStore returns the store for key. A cached store that fails its
// liveness check is closed and reopened.
func (s *Shared) RelationalStore(ctx context.Context, key RelationalKey) (driven.RelationalStore, error) {
	if v, ok := s.relationals.Load(key); ok {
		store := v.(driven.RelationalStore)
		if store.Ping(ctx) == nil {
			return store, nil
		}
	}

	s.relationalMu.Lock()
	defer s.relationalMu.Unlock()
	if v, ok := s.relationals.Load(key); ok {
		store := v.(driven.RelationalStore)
		err := store.Ping(ctx)
		if err == nil {
			return store, nil
		}
		logger.Warn("relational store %s@%s failed liveness check, reopening: %v", key.Database, key.Host, err)
		s.relationals.Delete(key)
		_ = store.Close()
	}
	if s.openers.Relational == nil {
		return nil, fmt.Errorf("%w: no relational store opener", domain.ErrResourceUnavailable)
	}

	store, err := s.openers.Relational(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: relational store: %w", domain.ErrResourceUnavailable, err)
	}
	s.relationals.Store(key, store)
	return store, nil
}

// Close closes every cached resource and empties the caches.
func (s *Shared) Close() error {
	var errs []error
	s.vectors.Range(func(k, v any) bool {
		errs = append(errs, v.(driven.VectorStore).Close())
		s.vectors.Delete(k)
		return true
	})
	s.models.Range(func(k, v any) bool {
		errs = append(errs, v.(driven.EmbeddingModel).Close())
		s.models.Delete(k)
		return true
	})
	s.relationals.Range(func(k, v any) bool {
		errs = append(errs, v.(driven.RelationalStore).Close())
		s.relationals.Delete(k)
		return true
	})
	return errors.Join(errs...)
}
