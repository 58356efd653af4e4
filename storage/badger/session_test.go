package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/folio/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendTurns_RecentWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendTurns(ctx, "acme", "s1",
			core.Turn{Role: core.RoleUser, Text: fmt.Sprintf("q%d", i)},
			core.Turn{Role: core.RoleAssistant, Text: fmt.Sprintf("a%d", i)},
		))
	}

	turns, err := store.RecentTurns(ctx, "acme", "s1", 4)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "q3", turns[0].Text)
	assert.Equal(t, "a3", turns[1].Text)
	assert.Equal(t, "q4", turns[2].Text)
	assert.Equal(t, "a4", turns[3].Text)
	assert.Equal(t, core.RoleAssistant, turns[3].Role)
	assert.False(t, turns[0].Timestamp.IsZero())

	all, err := store.RecentTurns(ctx, "acme", "s1", 100)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestRecentTurns_Empty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	turns, err := store.RecentTurns(ctx, "acme", "missing", 4)
	require.NoError(t, err)
	assert.Empty(t, turns)

	turns, err = store.RecentTurns(ctx, "acme", "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestSessions_TenantAndSessionIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendTurns(ctx, "acme", "s1", core.Turn{Role: core.RoleUser, Text: "acme"}))
	require.NoError(t, store.AppendTurns(ctx, "globex", "s1", core.Turn{Role: core.RoleUser, Text: "globex"}))
	require.NoError(t, store.AppendTurns(ctx, "acme", "s10", core.Turn{Role: core.RoleUser, Text: "other session"}))

	turns, err := store.RecentTurns(ctx, "acme", "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "acme", turns[0].Text)
}

func TestAppendTurns_Validation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.AppendTurns(ctx, "", "s1", core.Turn{Role: core.RoleUser, Text: "x"}), core.ErrInvalidTenant)
	assert.ErrorIs(t, store.AppendTurns(ctx, "acme", "bad:id", core.Turn{Role: core.RoleUser, Text: "x"}), core.ErrInvalidSession)
	assert.ErrorIs(t, store.AppendTurns(ctx, "acme", "s1", core.Turn{Role: "robot", Text: "x"}), core.ErrInvalidTurn)
}

func TestAppendTurns_Concurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.AppendTurns(ctx, "acme", "s1", core.Turn{Role: core.RoleUser, Text: fmt.Sprintf("t%d", i)}))
		}(i)
	}
	wg.Wait()

	turns, err := store.RecentTurns(ctx, "acme", "s1", 100)
	require.NoError(t, err)
	assert.Len(t, turns, 10)
}
