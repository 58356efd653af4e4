package badger

import (
	"context"
	"testing"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeChunks(tenant core.TenantID, documentID core.ID, page int, vectors ...[]float32) (*core.ParentChunk, []*core.ChildChunk) {
	parent := &core.ParentChunk{
		Tenant:     tenant,
		Id:         core.ParentID(documentID, page),
		DocumentId: documentID,
		PageNumber: page,
		Source:     "uploads/" + string(tenant) + "/doc.pdf",
		FullText:   "page text",
	}
	children := make([]*core.ChildChunk, len(vectors))
	for i, v := range vectors {
		children[i] = &core.ChildChunk{
			Tenant:    tenant,
			Id:        core.ChildID(parent.Id, i),
			ParentId:  parent.Id,
			SpanIndex: i,
			Text:      "span",
			Vector:    v,
		}
	}
	return parent, children
}

func TestUpsertParentAndChildren_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent, children := makeChunks("acme", 1, 1, []float32{1, 0}, []float32{0, 1})
	require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children))
	require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children))

	got, err := store.GetChildren(ctx, "acme", parent.Id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].SpanIndex)
	assert.Equal(t, 1, got[1].SpanIndex)

	all, err := store.IterateChildren(ctx, "acme", 0, 100)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpsertParentAndChildren_RemovesStaleChildren(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent, children := makeChunks("acme", 1, 1, []float32{1, 0}, []float32{0, 1}, []float32{1, 1})
	require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children))
	require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children[:1]))

	got, err := store.GetChildren(ctx, "acme", parent.Id)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, children[0].Id, got[0].Id)

	all, err := store.IterateChildren(ctx, "acme", 0, 100)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertParentAndChildren_RejectsOrphans(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent, children := makeChunks("acme", 1, 1, []float32{1, 0})
	children[0].ParentId = 999
	assert.ErrorIs(t, store.UpsertParentAndChildren(ctx, parent, children), storage.ErrOrphanChild)

	parent, children = makeChunks("acme", 1, 1, []float32{1, 0})
	children[0].Tenant = "globex"
	assert.ErrorIs(t, store.UpsertParentAndChildren(ctx, parent, children), core.ErrInvalidTenant)
}

func TestNearestChildren_NotReady(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.NearestChildren(ctx, "acme", []float32{1, 0}, 3)
	var notReady *core.NotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, core.TenantID("acme"), notReady.Tenant)

	// Children without vectors do not make a tenant ready.
	parent, children := makeChunks("acme", 1, 1, nil)
	require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children))
	_, err = store.NearestChildren(ctx, "acme", []float32{1, 0}, 3)
	assert.True(t, core.IsNotReady(err))
}

func TestNearestChildren_RanksByDistance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent, children := makeChunks("acme", 1, 1, []float32{0, 1}, []float32{1, 0}, []float32{1, 1})
	require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children))

	matches, err := store.NearestChildren(ctx, "acme", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, children[1].Id, matches[0].ChildId)
	assert.Equal(t, children[2].Id, matches[1].ChildId)
	assert.InDelta(t, 0, matches[0].Distance, 1e-6)
	assert.Less(t, matches[0].Distance, matches[1].Distance)
	assert.Equal(t, parent.Id, matches[0].ParentId)
}

func TestNearestChildren_TenantIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, tenant := range []core.TenantID{"acme", "acme2", "globex"} {
		docID := core.DocumentID(tenant, "uploads/"+string(tenant)+"/doc.pdf", "fp")
		parent, children := makeChunks(tenant, docID, 1, []float32{1, 0}, []float32{0.9, 0.1})
		require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children))
	}

	matches, err := store.NearestChildren(ctx, "acme", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	acmeDoc := core.DocumentID("acme", "uploads/acme/doc.pdf", "fp")
	for _, m := range matches {
		assert.Equal(t, core.ParentID(acmeDoc, 1), m.ParentId)
	}

	found, missing, err := store.ResolveParents(ctx, "globex", []core.ID{core.ParentID(acmeDoc, 1)})
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, []core.ID{core.ParentID(acmeDoc, 1)}, missing)
}

func TestNearestChildren_InvalidQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.NearestChildren(ctx, "acme", []float32{1}, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	_, err = store.NearestChildren(ctx, "", []float32{1}, 1)
	assert.ErrorIs(t, err, core.ErrInvalidTenant)

	parent, children := makeChunks("acme", 1, 1, []float32{1, 0, 0})
	require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children))
	_, err = store.NearestChildren(ctx, "acme", []float32{1, 0}, 1)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestResolveParents_ReportsMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p1, c1 := makeChunks("acme", 1, 1, []float32{1, 0})
	p2, c2 := makeChunks("acme", 1, 2, []float32{0, 1})
	require.NoError(t, store.UpsertParentAndChildren(ctx, p1, c1))
	require.NoError(t, store.UpsertParentAndChildren(ctx, p2, c2))

	found, missing, err := store.ResolveParents(ctx, "acme", []core.ID{p2.Id, 77, p1.Id, p2.Id})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, p2.Id, found[0].Id)
	assert.Equal(t, p1.Id, found[1].Id)
	assert.Equal(t, []core.ID{77}, missing)
}

func TestIterateChildren_Pages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent, children := makeChunks("acme", 1, 1, []float32{1}, []float32{2}, []float32{3}, []float32{4}, []float32{5})
	require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children))

	var seen []core.ID
	var after core.ID
	for {
		batch, err := store.IterateChildren(ctx, "acme", after, 2)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			assert.Greater(t, c.Id, after)
			seen = append(seen, c.Id)
		}
		after = batch[len(batch)-1].Id
	}
	assert.Len(t, seen, 5)

	count, err := store.CountChildren(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	count, err = store.CountChildren(ctx, "globex")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpdateChildVectors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent, children := makeChunks("acme", 1, 1, []float32{1, 0})
	require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children))

	require.NoError(t, store.UpdateChildVectors(ctx, "acme", map[core.ID][]float32{children[0].Id: {0, 1}}))
	got, err := store.GetChildren(ctx, "acme", parent.Id)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, got[0].Vector)

	err = store.UpdateChildVectors(ctx, "acme", map[core.ID][]float32{424242: {1, 1}})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type recordingIndex struct {
	indexed map[core.ID]*core.ChildChunk
	deleted []core.ID
	closed  bool
}

func (r *recordingIndex) IndexChildren(ctx context.Context, tenant core.TenantID, children []*core.ChildChunk) error {
	for _, c := range children {
		r.indexed[c.Id] = c
	}
	return nil
}

func (r *recordingIndex) DeleteChildren(ctx context.Context, tenant core.TenantID, ids []core.ID) error {
	r.deleted = append(r.deleted, ids...)
	for _, id := range ids {
		delete(r.indexed, id)
	}
	return nil
}

func (r *recordingIndex) NearestChildren(ctx context.Context, tenant core.TenantID, vector []float32, k int) ([]core.ChildMatch, error) {
	if len(r.indexed) == 0 {
		return nil, &core.NotReadyError{Tenant: tenant}
	}
	var out []core.ChildMatch
	for _, c := range r.indexed {
		out = append(out, core.ChildMatch{ChildId: c.Id, ParentId: c.ParentId})
	}
	return out, nil
}

func (r *recordingIndex) Close() error {
	r.closed = true
	return nil
}

func TestStore_MirrorsIntoVectorIndex(t *testing.T) {
	index := &recordingIndex{indexed: map[core.ID]*core.ChildChunk{}}
	store, err := NewMemoryStore(WithVectorIndex(index))
	require.NoError(t, err)
	ctx := context.Background()

	parent, children := makeChunks("acme", 1, 1, []float32{1, 0}, []float32{0, 1})
	require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children))
	assert.Len(t, index.indexed, 2)

	require.NoError(t, store.UpsertParentAndChildren(ctx, parent, children[:1]))
	assert.Equal(t, []core.ID{children[1].Id}, index.deleted)

	matches, err := store.NearestChildren(ctx, "acme", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	require.NoError(t, store.Close())
	assert.True(t, index.closed)
}
