// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/retry"
	"github.com/poiesic/folio/storage"
)

// CheckpointType is the processor type under which runs save their progress.
const CheckpointType = "reembed"

// Store is the persistence the reembedder needs.
type Store interface {
	storage.ChunkRepository
	storage.CheckpointRepository
}

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of children embedded per request
	BatchSize int

	// ReportInterval is how often to report progress (number of children)
	ReportInterval int

	// Retry governs embedding and write retries within a batch
	Retry retry.Policy

	// Restart ignores any saved checkpoint
	Restart bool

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		Retry:          retry.DefaultPolicy(),
	}
}

// Result summarizes a finished run.
type Result struct {
	Tenant    core.TenantID
	Total     int
	Processed int
	// Resumed is the number of children already done by an earlier run.
	Resumed int
	Elapsed time.Duration
}

// Reembedder recomputes every child vector of a tenant.
type Reembedder struct {
	store     Store
	config    *Config
	progress  io.Writer
	logger    *slog.Logger
	processor *BatchProcessor
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(store Store, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = config.BatchSize
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy()
	}
	if progress == nil {
		progress = io.Discard
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reembedder{
		store:     store,
		config:    config,
		progress:  progress,
		logger:    logger.With("component", "reembedder"),
		processor: NewBatchProcessor(store, embedder, config.Retry),
	}, nil
}

// Run re-embeds all of tenant's children. A checkpoint is saved after
// every batch and cleared once the run completes.
func (r *Reembedder) Run(ctx context.Context, tenant core.TenantID) (*Result, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}

	total, err := r.store.CountChildren(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to count children: %w", err)
	}
	result := &Result{Tenant: tenant, Total: total}
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks found for tenant %s\n", tenant)
		return result, nil
	}

	var after core.ID
	processed := 0
	if !r.config.Restart {
		cp, err := r.store.LoadCheckpoint(ctx, tenant, CheckpointType)
		if err != nil {
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if cp != nil {
			after = cp.LastId
			processed = cp.Processed
			result.Resumed = processed
			r.logger.Info("resuming from checkpoint", "tenant", tenant, "after", after, "processed", processed)
		}
	}

	fmt.Fprintf(r.progress, "Re-embedding %d chunks for tenant %s (batch size: %d)\n",
		total, tenant, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start(processed)

	iterator := NewChildIterator(r.store, tenant, r.config.BatchSize)
	err = iterator.ForEach(ctx, after, func(children []*core.ChildChunk) error {
		if err := r.processor.Process(ctx, tenant, children); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		processed += len(children)
		tracker.Set(processed)

		return r.store.SaveCheckpoint(ctx, &core.Checkpoint{
			ProcessorType: CheckpointType,
			Tenant:        tenant,
			LastId:        children[len(children)-1].Id,
			Processed:     processed,
		})
	})
	if err != nil {
		result.Processed = processed
		return result, err
	}

	tracker.Finish()
	if err := r.store.ClearCheckpoint(ctx, tenant, CheckpointType); err != nil {
		return nil, fmt.Errorf("failed to clear checkpoint: %w", err)
	}

	result.Processed = processed
	result.Elapsed = tracker.Elapsed()
	fmt.Fprintf(r.progress, "Re-embedding complete. Processed %d chunks in %v (%.1f chunks/sec)\n",
		processed-result.Resumed, result.Elapsed.Round(time.Millisecond), tracker.Rate())
	r.logger.Info("reembed finished", "tenant", tenant, "processed", processed, "elapsed", result.Elapsed)

	return result, nil
}
