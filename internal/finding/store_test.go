package finding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFindingStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestFinding(t *testing.T, scope string) *Finding {
	t.Helper()
	f, err := New(scope, TypeReference, "Berakhot 2a", "one who recites the Shema in the evening")
	require.NoError(t, err)
	f.Confidence = 92
	return f
}

func TestStorePutGet(t *testing.T) {
	store := newTestFindingStore(t)
	ctx := context.Background()

	f := newTestFinding(t, "rivka")
	f.Justification = "matches verified ground truth"
	f.IsGroundTruth = true
	f.Alternatives = []Alternative{
		{Source: "Berakhot 2b", Reasoning: "adjacent page", Score: 0.7},
	}
	require.NoError(t, store.Put(ctx, f))

	got, err := store.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, f.Source, got.Source)
	assert.Equal(t, f.Snippet, got.Snippet)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 92.0, got.Confidence)
	assert.True(t, got.IsGroundTruth)
	require.Len(t, got.Alternatives, 1)
	assert.Equal(t, "Berakhot 2b", got.Alternatives[0].Source)
}

func TestStoreGetNotFound(t *testing.T) {
	store := newTestFindingStore(t)

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrFindingNotFound)
}

func TestStoreDelete(t *testing.T) {
	store := newTestFindingStore(t)
	ctx := context.Background()

	f := newTestFinding(t, "rivka")
	require.NoError(t, store.Put(ctx, f))

	require.NoError(t, store.Delete(ctx, f.ID))
	_, err := store.Get(ctx, f.ID)
	require.ErrorIs(t, err, ErrFindingNotFound)

	require.ErrorIs(t, store.Delete(ctx, f.ID), ErrFindingNotFound)
}

func TestStoreList(t *testing.T) {
	store := newTestFindingStore(t)
	ctx := context.Background()

	older := newTestFinding(t, "rivka")
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Put(ctx, older))

	newer := newTestFinding(t, "rivka")
	require.NoError(t, store.Put(ctx, newer))

	dismissed := newTestFinding(t, "rivka")
	dismissed.Status = StatusDismissed
	require.NoError(t, store.Put(ctx, dismissed))

	other := newTestFinding(t, "shimon")
	require.NoError(t, store.Put(ctx, other))

	all, err := store.List(ctx, ListFilter{Scope: "rivka"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := store.List(ctx, ListFilter{Scope: "rivka", Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// Newest first.
	assert.Equal(t, newer.ID, pending[0].ID)
	assert.Equal(t, older.ID, pending[1].ID)
}

func TestStoreCompareAndSwapStatus(t *testing.T) {
	store := newTestFindingStore(t)
	ctx := context.Background()

	f := newTestFinding(t, "rivka")
	require.NoError(t, store.Put(ctx, f))

	require.NoError(t, store.CompareAndSwapStatus(ctx, f.ID, StatusPending, StatusAdded))

	got, err := store.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAdded, got.Status)

	// Stale expectation loses.
	err = store.CompareAndSwapStatus(ctx, f.ID, StatusPending, StatusDismissed)
	require.ErrorIs(t, err, ErrStatusConflict)

	// Unknown finding is not a conflict.
	err = store.CompareAndSwapStatus(ctx, "missing", StatusPending, StatusAdded)
	require.ErrorIs(t, err, ErrFindingNotFound)
}
