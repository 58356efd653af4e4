package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// CheckpointRepository implements storage.CheckpointRepository for BadgerDB.
type CheckpointRepository struct {
	backend *Backend
}

var _ storage.CheckpointRepository = (*CheckpointRepository)(nil)

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(backend *Backend) *CheckpointRepository {
	return &CheckpointRepository{
		backend: backend,
	}
}

// SaveCheckpoint persists a checkpoint for a tenant and processor type.
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	if err := core.ValidateTenant(checkpoint.Tenant); err != nil {
		return err
	}
	return r.backend.update(ctx, "save_checkpoint", func(tx *badger.Txn) error {
		checkpoint.UpdatedAt = time.Now().UTC()
		return writeRecord(tx, makeCheckpointKey(checkpoint.Tenant, checkpoint.ProcessorType), checkpoint, storage.MarshalCheckpoint)
	})
}

// LoadCheckpoint retrieves the checkpoint for a tenant and processor type.
// Returns nil, nil if no checkpoint exists.
func (r *CheckpointRepository) LoadCheckpoint(ctx context.Context, tenant core.TenantID, processorType string) (*core.Checkpoint, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	var checkpoint *core.Checkpoint
	err := r.backend.view("load_checkpoint", func(tx *badger.Txn) error {
		var err error
		checkpoint, err = readRecord(tx, makeCheckpointKey(tenant, processorType), storage.UnmarshalCheckpoint)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	})
	return checkpoint, err
}

// ClearCheckpoint removes a checkpoint once its job has finished.
func (r *CheckpointRepository) ClearCheckpoint(ctx context.Context, tenant core.TenantID, processorType string) error {
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	return r.backend.update(ctx, "clear_checkpoint", func(tx *badger.Txn) error {
		return tx.Delete(makeCheckpointKey(tenant, processorType))
	})
}
