package reembed

import (
	"context"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

const (
	// DefaultBatchSize is the default number of children fetched per batch
	DefaultBatchSize = 100
)

// ChildIterator pages through a tenant's children in id order.
type ChildIterator struct {
	store     storage.ChunkRepository
	tenant    core.TenantID
	batchSize int
}

// NewChildIterator creates an iterator over tenant's children.
func NewChildIterator(store storage.ChunkRepository, tenant core.TenantID, batchSize int) *ChildIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChildIterator{store: store, tenant: tenant, batchSize: batchSize}
}

// ForEach calls fn with consecutive batches of children whose ids are
// greater than after. Iteration stops at the first error.
func (it *ChildIterator) ForEach(ctx context.Context, after core.ID, fn func([]*core.ChildChunk) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := it.store.IterateChildren(ctx, it.tenant, after, it.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		after = batch[len(batch)-1].Id
		if len(batch) < it.batchSize {
			return nil
		}
	}
}
