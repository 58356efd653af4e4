package reembed

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/folio/ai/mock"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func loadChildren(t *testing.T, store interface {
	IterateChildren(context.Context, core.TenantID, core.ID, int) ([]*core.ChildChunk, error)
}) []*core.ChildChunk {
	t.Helper()
	children, err := store.IterateChildren(context.Background(), testTenant, 0, 1000)
	require.NoError(t, err)
	return children
}

func TestBatchProcessor_UpdatesVectors(t *testing.T) {
	store := setupStore(t)
	seedChildren(t, store, testTenant, 5)
	embedder := mock.NewMockEmbedder()

	bp := NewBatchProcessor(store, embedder, fastPolicy())
	require.NoError(t, bp.Process(context.Background(), testTenant, loadChildren(t, store)))

	assert.Equal(t, 1, embedder.CallCount())
	for _, c := range loadChildren(t, store) {
		assert.Len(t, c.Vector, mock.DefaultDimensions)
	}
}

func TestBatchProcessor_Empty(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	bp := NewBatchProcessor(nil, embedder, fastPolicy())
	require.NoError(t, bp.Process(context.Background(), testTenant, nil))
	assert.Zero(t, embedder.CallCount())
}

func TestBatchProcessor_RetriesRateLimit(t *testing.T) {
	store := setupStore(t)
	seedChildren(t, store, testTenant, 2)
	embedder := mock.NewMockEmbedder().FailNext(mock.RateLimited(), mock.RateLimited())

	bp := NewBatchProcessor(store, embedder, fastPolicy())
	require.NoError(t, bp.Process(context.Background(), testTenant, loadChildren(t, store)))
	assert.Equal(t, 3, embedder.CallCount())
}

func TestBatchProcessor_InvalidInputNotRetried(t *testing.T) {
	store := setupStore(t)
	seedChildren(t, store, testTenant, 2)
	embedder := mock.NewMockEmbedder().FailNext(mock.InvalidInput())

	bp := NewBatchProcessor(store, embedder, fastPolicy())
	err := bp.Process(context.Background(), testTenant, loadChildren(t, store))
	require.Error(t, err)

	var embedErr *core.EmbeddingError
	require.ErrorAs(t, err, &embedErr)
	assert.Equal(t, core.EmbeddingInvalidInput, embedErr.Kind)
	assert.Equal(t, 1, embedder.CallCount())

	for _, c := range loadChildren(t, store) {
		assert.Equal(t, []float32{1}, c.Vector)
	}
}

func TestBatchProcessor_CountMismatch(t *testing.T) {
	store := setupStore(t)
	seedChildren(t, store, testTenant, 3)
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil
	}

	bp := NewBatchProcessor(store, embedder, fastPolicy())
	err := bp.Process(context.Background(), testTenant, loadChildren(t, store))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding count mismatch")
}
