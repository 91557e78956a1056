package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic/pkg/core"
)

func TestEngramSaveLoadRoundTrip(t *testing.T) {
	repo := NewEngramRepository(mockDB(t))
	ctx := context.Background()

	engram := core.NewEngram("content", []string{"loc"}, []string{"src"}, true)
	engram.MetaIDs = []string{"meta-1"}
	require.NoError(t, repo.Save(ctx, engram))

	loaded, err := repo.Load(ctx, engram.ID)
	require.NoError(t, err)
	assert.Equal(t, engram.ID, loaded.ID)
	assert.Equal(t, engram.Content, loaded.Content)
	assert.Equal(t, engram.MetaIDs, loaded.MetaIDs)
}

func TestEngramLoadBatchMixesCacheAndFetch(t *testing.T) {
	db := mockDB(t)
	repo := NewEngramRepository(db)
	ctx := context.Background()

	first := core.NewEngram("first", []string{"loc"}, []string{"src"}, true)
	second := core.NewEngram("second", []string{"loc"}, []string{"src"}, true)
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, second))

	// Prime the cache with one of the two.
	_, err := repo.Load(ctx, first.ID)
	require.NoError(t, err)

	batch, err := repo.LoadBatch(ctx, []string{first.ID, second.ID})
	require.NoError(t, err)
	ids := []string{batch[0].ID, batch[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	// Unknown ids are simply absent (set semantics).
	batch, err = repo.LoadBatch(ctx, []string{first.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, first.ID, batch[0].ID)
}

func TestHistoryRecentWindow(t *testing.T) {
	repo := NewHistoryRepository(mockDB(t))
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		resp := core.NewResponse("id-"+text, text, core.RetrieveResult{}, "", core.PromptAnalysis{}, "mock")
		require.NoError(t, repo.SaveHistory(ctx, resp))
	}

	recent, err := repo.LoadRecent(ctx)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "one", recent[0].Response)
	assert.Equal(t, "three", recent[2].Response)
}
