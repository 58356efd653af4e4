package reembed

import (
	"context"
	"fmt"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/retry"
	"github.com/poiesic/folio/storage"
)

// BatchProcessor re-embeds one batch of children and writes the vectors back.
type BatchProcessor struct {
	store    storage.ChunkRepository
	embedder ai.Embedder
	policy   retry.Policy
}

// NewBatchProcessor creates a batch processor.
func NewBatchProcessor(store storage.ChunkRepository, embedder ai.Embedder, policy retry.Policy) *BatchProcessor {
	return &BatchProcessor{store: store, embedder: embedder, policy: policy}
}

// Process embeds the children's text, normalizes the vectors and stores them.
func (bp *BatchProcessor) Process(ctx context.Context, tenant core.TenantID, children []*core.ChildChunk) error {
	if len(children) == 0 {
		return nil
	}

	texts := make([]string, len(children))
	for i, child := range children {
		texts[i] = child.Text
	}

	var embeddings [][]float32
	err := bp.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(children) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(children), len(embeddings))
	}

	vectors := make(map[core.ID][]float32, len(children))
	for i, child := range children {
		vectors[child.Id] = core.NormalizeVector(embeddings[i])
	}

	err = bp.policy.Do(ctx, func(ctx context.Context) error {
		return bp.store.UpdateChildVectors(ctx, tenant, vectors)
	})
	if err != nil {
		return fmt.Errorf("failed to update children: %w", err)
	}
	return nil
}
