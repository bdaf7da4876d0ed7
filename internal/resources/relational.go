package resources

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

var _ driven.RelationalStore = (*Relational)(nil)

// Relational resolves its store through Shared on every call, so a store
// reopened after a failed liveness check reaches the services holding it.
type Relational struct {
	shared *Shared
	key    RelationalKey
}

// Relational returns a store handle bound to key. The underlying store is
// opened on first use and owned by s; closing the handle does nothing.
func (s *Shared) Relational(key RelationalKey) *Relational {
	return &Relational{shared: s, key: key}
}

func (r *Relational) store(ctx context.Context) (driven.RelationalStore, error) {
	store, err := r.shared.RelationalStore(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRelational, err)
	}
	return store, nil
}

func (r *Relational) WithTx(ctx context.Context, fn func(tx driven.RelationalTx) error) error {
	store, err := r.store(ctx)
	if err != nil {
		return err
	}
	return store.WithTx(ctx, fn)
}

func (r *Relational) CountChunks(ctx context.Context, filter domain.ChunkFilter) (int, error) {
	store, err := r.store(ctx)
	if err != nil {
		return 0, err
	}
	return store.CountChunks(ctx, filter)
}

func (r *Relational) ListChunks(ctx context.Context, limit, offset int, filter domain.ChunkFilter) ([]domain.ChunkRow, error) {
	store, err := r.store(ctx)
	if err != nil {
		return nil, err
	}
	return store.ListChunks(ctx, limit, offset, filter)
}

func (r *Relational) GetChunk(ctx context.Context, id int64) (*domain.ChunkRow, error) {
	store, err := r.store(ctx)
	if err != nil {
		return nil, err
	}
	return store.GetChunk(ctx, id)
}

func (r *Relational) GetDocument(ctx context.Context, id int64) (*domain.Document, error) {
	store, err := r.store(ctx)
	if err != nil {
		return nil, err
	}
	return store.GetDocument(ctx, id)
}

func (r *Relational) ListPendingChunks(ctx context.Context, afterID int64, limit int) ([]domain.PendingChunk, error) {
	store, err := r.store(ctx)
	if err != nil {
		return nil, err
	}
	return store.ListPendingChunks(ctx, afterID, limit)
}

func (r *Relational) MarkIndexed(ctx context.Context, ids []int64, at time.Time) error {
	store, err := r.store(ctx)
	if err != nil {
		return err
	}
	return store.MarkIndexed(ctx, ids, at)
}

// Ping resolves the store, which pings it and reopens it when needed.
func (r *Relational) Ping(ctx context.Context) error {
	_, err := r.store(ctx)
	return err
}

// Close is a no-op; Shared.Close releases the store.
func (r *Relational) Close() error { return nil }
