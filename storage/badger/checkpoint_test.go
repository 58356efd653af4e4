package badger

import (
	"context"
	"testing"

	"github.com/poiesic/folio/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_SaveLoadClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp, err := store.LoadCheckpoint(ctx, "acme", "reembed")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, store.SaveCheckpoint(ctx, &core.Checkpoint{
		ProcessorType: "reembed",
		Tenant:        "acme",
		LastId:        42,
		Processed:     10,
	}))

	cp, err = store.LoadCheckpoint(ctx, "acme", "reembed")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, core.ID(42), cp.LastId)
	assert.Equal(t, 10, cp.Processed)
	assert.False(t, cp.UpdatedAt.IsZero())

	other, err := store.LoadCheckpoint(ctx, "globex", "reembed")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, store.ClearCheckpoint(ctx, "acme", "reembed"))
	cp, err = store.LoadCheckpoint(ctx, "acme", "reembed")
	require.NoError(t, err)
	assert.Nil(t, cp)
}
