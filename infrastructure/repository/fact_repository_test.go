package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membank-backend/application/ports"
	"membank-backend/domain/memory"
	apperrors "membank-backend/pkg/errors"
)

func newFactStack() (*FactRepository, *fakeVectorIndex, *fakeGraphStore, *fakeMetadataStore) {
	vectors := newFakeVectorIndex()
	graph := newFakeGraphStore()
	metadata := newFakeMetadataStore()
	repo := NewFactRepository(vectors, graph, metadata, nil, nil)
	return repo, vectors, graph, metadata
}

func embeddedFact(t *testing.T, userID, content string) *memory.Fact {
	t.Helper()
	fact, err := memory.NewFact(userID, content, memory.CategoryPreference, 0.9)
	require.NoError(t, err)
	fact.Embedding = []float32{0.1, 0.2, 0.3}
	return fact
}

func TestCreateWritesAllThreeStores(t *testing.T) {
	repo, vectors, graph, metadata := newFactStack()
	ctx := context.Background()

	fact := embeddedFact(t, "u1", "enjoys rainy mornings")
	created, err := repo.Create(ctx, fact)
	require.NoError(t, err)
	assert.Equal(t, fact.ID, created.ID)

	assert.Contains(t, vectors.inserted, fact.ID)
	assert.Contains(t, graph.facts, fact.ID)
	assert.Contains(t, metadata.facts, fact.ID)
	assert.True(t, graph.users["u1"])
}

func TestCreateWithoutEmbeddingSkipsVector(t *testing.T) {
	repo, vectors, graph, metadata := newFactStack()
	ctx := context.Background()

	fact, err := memory.NewFact("u1", "no embedding yet", memory.CategoryUnknown, 0.5)
	require.NoError(t, err)

	_, err = repo.Create(ctx, fact)
	require.NoError(t, err)

	// The fact is still indexed in metadata and graph; semantic search will
	// miss it until a backfill.
	assert.Empty(t, vectors.inserted)
	assert.Contains(t, graph.facts, fact.ID)
	assert.Contains(t, metadata.facts, fact.ID)
}

func TestCreateFailsWhenAnyStoreFails(t *testing.T) {
	repo, vectors, _, _ := newFactStack()
	vectors.insertErr = apperrors.NewTransientError("vector store down", nil)

	_, err := repo.Create(context.Background(), embeddedFact(t, "u1", "content"))
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	repo, _, _, _ := newFactStack()
	ctx := context.Background()

	fact := embeddedFact(t, "u1", "collects postcards")
	fact.Entities = []string{"postcards"}
	_, err := repo.Create(ctx, fact)
	require.NoError(t, err)

	loaded, err := repo.GetByID(ctx, fact.ID)
	require.NoError(t, err)
	assert.Equal(t, fact.ID, loaded.ID)
	assert.Equal(t, fact.Content, loaded.Content)
	assert.Equal(t, fact.Category, loaded.Category)
	assert.Equal(t, fact.Confidence, loaded.Confidence)
}

func TestSearchSimilarEnrichesAndFilters(t *testing.T) {
	repo, vectors, _, metadata := newFactStack()
	ctx := context.Background()

	stored := embeddedFact(t, "u1", "likes early mornings")
	metadata.facts[stored.ID] = stored
	vectors.hits = []ports.VectorHit{
		{FactID: stored.ID, UserID: "u1", Score: 0.9},
		{FactID: "below-threshold", UserID: "u1", Score: 0.2},
		{FactID: "only-in-index", UserID: "u1", Content: "index copy", Category: "habit", Score: 0.6},
	}

	facts, err := repo.SearchSimilar(ctx, "u1", []float32{1, 0, 0}, 10, 0.4, "")
	require.NoError(t, err)
	require.Len(t, facts, 2)

	// Sorted by similarity, enriched row first.
	assert.Equal(t, stored.ID, facts[0].ID)
	assert.InDelta(t, 0.9, facts[0].SimilarityScore(), 1e-9)

	// A hit missing from metadata falls back to the index copy.
	assert.Equal(t, "only-in-index", facts[1].ID)
	assert.Equal(t, "index copy", facts[1].Content)
	assert.Equal(t, memory.CategoryHabit, facts[1].Category)
}

func TestGetRelatedFacts(t *testing.T) {
	repo, _, graph, _ := newFactStack()
	ctx := context.Background()

	require.NoError(t, graph.Link(ctx, "f1", "f2", "RELATED_TO", nil))
	require.NoError(t, graph.Link(ctx, "f1", "f3", "RELATED_TO", nil))

	related, err := repo.GetRelatedFacts(ctx, "f1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"f2", "f3"}, related)
}

func TestDeleteCascadesBestEffort(t *testing.T) {
	repo, vectors, graph, metadata := newFactStack()
	ctx := context.Background()

	fact := embeddedFact(t, "u1", "to be deleted")
	_, err := repo.Create(ctx, fact)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, fact.ID))
	assert.Contains(t, vectors.deleted, fact.ID)
	assert.Contains(t, graph.deleted, fact.ID)
	assert.Contains(t, metadata.deleted, fact.ID)
}

func TestDeleteByUserTouchesEveryStore(t *testing.T) {
	repo, vectors, graph, metadata := newFactStack()
	ctx := context.Background()

	require.NoError(t, repo.DeleteByUser(ctx, "u1"))
	assert.Contains(t, vectors.deleted, "user:u1")
	assert.Contains(t, graph.deleted, "user:u1")
	assert.Contains(t, metadata.deleted, "user:u1")
}
