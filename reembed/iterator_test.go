package reembed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant core.TenantID = "acme"

func setupStore(t *testing.T) *badger.Store {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedChildren stores n children spread over pages of four spans each.
// Every child starts with a stale one-dimensional vector.
func seedChildren(t *testing.T, store *badger.Store, tenant core.TenantID, n int) []core.ID {
	t.Helper()
	ctx := context.Background()
	documentID := core.DocumentID(tenant, "uploads/"+string(tenant)+"/manual.pdf", "sha256:manual")

	var ids []core.ID
	for page := 1; len(ids) < n; page++ {
		parent := &core.ParentChunk{
			Tenant:     tenant,
			Id:         core.ParentID(documentID, page),
			DocumentId: documentID,
			PageNumber: page,
			Source:     "manual.pdf",
			FullText:   fmt.Sprintf("page %d", page),
		}
		var children []*core.ChildChunk
		for span := 0; span < 4 && len(ids) < n; span++ {
			child := &core.ChildChunk{
				Tenant:    tenant,
				Id:        core.ChildID(parent.Id, span),
				ParentId:  parent.Id,
				SpanIndex: span,
				Text:      fmt.Sprintf("page %d span %d valve pressure", page, span),
				Vector:    []float32{1},
			}
			children = append(children, child)
			ids = append(ids, child.Id)
		}
		require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children))
	}
	return ids
}

func TestChildIterator_VisitsEveryChildOnce(t *testing.T) {
	store := setupStore(t)
	ids := seedChildren(t, store, testTenant, 7)

	iter := NewChildIterator(store, testTenant, 3)
	var seen []core.ID
	var sizes []int
	err := iter.ForEach(context.Background(), 0, func(children []*core.ChildChunk) error {
		sizes = append(sizes, len(children))
		for _, c := range children {
			seen = append(seen, c.Id)
		}
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, seen)
	assert.Equal(t, []int{3, 3, 1}, sizes)
}

func TestChildIterator_StartsAfterID(t *testing.T) {
	store := setupStore(t)
	seedChildren(t, store, testTenant, 6)

	first, err := store.IterateChildren(context.Background(), testTenant, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	iter := NewChildIterator(store, testTenant, 10)
	count := 0
	err = iter.ForEach(context.Background(), first[1].Id, func(children []*core.ChildChunk) error {
		for _, c := range children {
			assert.Greater(t, c.Id, first[1].Id)
		}
		count += len(children)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestChildIterator_EmptyTenant(t *testing.T) {
	store := setupStore(t)
	seedChildren(t, store, testTenant, 3)

	called := false
	err := NewChildIterator(store, "globex", 10).ForEach(context.Background(), 0, func([]*core.ChildChunk) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestChildIterator_StopsOnError(t *testing.T) {
	store := setupStore(t)
	seedChildren(t, store, testTenant, 6)

	boom := errors.New("boom")
	calls := 0
	err := NewChildIterator(store, testTenant, 2).ForEach(context.Background(), 0, func([]*core.ChildChunk) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestChildIterator_ContextCanceled(t *testing.T) {
	store := setupStore(t)
	seedChildren(t, store, testTenant, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewChildIterator(store, testTenant, 2).ForEach(ctx, 0, func([]*core.ChildChunk) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewChildIterator_DefaultBatchSize(t *testing.T) {
	iter := NewChildIterator(nil, testTenant, 0)
	assert.Equal(t, DefaultBatchSize, iter.batchSize)
}
