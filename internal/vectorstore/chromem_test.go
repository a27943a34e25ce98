package vectorstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/embeddings"
	"github.com/sifralabs/mesora/internal/vectorstore"
)

func newTestChromemStore(t *testing.T) *vectorstore.ChromemStore {
	t.Helper()

	embedder, err := embeddings.NewHashProvider(64)
	require.NoError(t, err)

	store, err := vectorstore.NewInMemoryChromemStore(vectorstore.ChromemConfig{
		DefaultCollection: "test_default",
		VectorSize:        64,
	}, embedder, zap.NewNop())
	require.NoError(t, err)
	return store
}

func addTestDocuments(t *testing.T, store *vectorstore.ChromemStore, collection string) {
	t.Helper()

	docs := []vectorstore.Document{
		{
			ID:         "doc-1",
			Content:    "whoever saves a single life",
			Collection: collection,
			Metadata:   map[string]interface{}{"action": "APPROVE", "correct_source": "Sanhedrin 37a"},
		},
		{
			ID:         "doc-2",
			Content:    "what is hateful to you",
			Collection: collection,
			Metadata:   map[string]interface{}{"action": "REJECT", "correct_source": "Shabbat 31a"},
		},
	}
	_, err := store.AddDocuments(context.Background(), docs)
	require.NoError(t, err)
}

func TestChromemAddAndSearch(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	addTestDocuments(t, store, "gt_bavli")

	results, err := store.SearchInCollection(ctx, "gt_bavli", "whoever saves a single life", 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "doc-1", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.01)
	assert.Equal(t, "whoever saves a single life", results[0].Content)
}

func TestChromemMetadataFilters(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	addTestDocuments(t, store, "gt_bavli")

	results, err := store.SearchInCollection(ctx, "gt_bavli", "a life saved", 2, map[string]interface{}{
		"action": "REJECT",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-2", results[0].ID)
}

func TestChromemMetadataStringNormalization(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	// chromem metadata is map[string]string on the wire: integers written
	// here must come back as their decimal strings, never get dropped.
	docs := []vectorstore.Document{{
		ID:         "doc-int",
		Content:    "a phrase with counters",
		Collection: "gt_bavli",
		Metadata: map[string]interface{}{
			"usage_count": int64(7),
			"year":        1569,
		},
	}}
	_, err := store.AddDocuments(ctx, docs)
	require.NoError(t, err)

	results, err := store.SearchInCollection(ctx, "gt_bavli", "a phrase with counters", 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "7", results[0].Metadata["usage_count"])
	assert.Equal(t, "1569", results[0].Metadata["year"])
}

func TestChromemDeleteDocuments(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	addTestDocuments(t, store, "gt_bavli")

	require.NoError(t, store.DeleteDocuments(ctx, "gt_bavli", []string{"doc-1"}))

	results, err := store.SearchInCollection(ctx, "gt_bavli", "whoever saves a single life", 2, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "doc-1", r.ID)
	}
}

func TestChromemCollectionLifecycle(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	exists, err := store.CollectionExists(ctx, "gt_bavli")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateCollection(ctx, "gt_bavli", 64))

	exists, err = store.CollectionExists(ctx, "gt_bavli")
	require.NoError(t, err)
	assert.True(t, exists)

	names, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "gt_bavli")

	err = store.CreateCollection(ctx, "gt_bavli", 64)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionExists)
}

func TestChromemCreateCollectionWrongSize(t *testing.T) {
	store := newTestChromemStore(t)

	err := store.CreateCollection(context.Background(), "gt_bavli", 128)
	assert.Error(t, err)
}

func TestChromemSearchMissingCollection(t *testing.T) {
	store := newTestChromemStore(t)

	_, err := store.SearchInCollection(context.Background(), "gt_missing", "anything", 5, nil)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestChromemRejectsInvalidCollectionName(t *testing.T) {
	store := newTestChromemStore(t)

	_, err := store.SearchInCollection(context.Background(), "Not A Name", "anything", 5, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)
}
