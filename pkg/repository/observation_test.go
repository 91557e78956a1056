package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic/pkg/config"
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/plugin"
	_ "github.com/engramic/engramic/pkg/plugin/db/mock"
)

func mockDB(t *testing.T) *plugin.DocumentDBHandle {
	t.Helper()
	profile, err := config.Builtin().Resolve("mock")
	require.NoError(t, err)
	registry := plugin.NewRegistry(profile, plugin.ModeReplay, nil)
	db, err := registry.DocumentDB("document")
	require.NoError(t, err)
	require.NoError(t, db.Connect(context.Background()))
	return db
}

func validDict() map[string]any {
	return map[string]any{
		"meta": map[string]any{
			"keywords":     []any{"podcast"},
			"summary_full": "A podcast about markets.",
		},
		"engram": []any{
			map[string]any{
				"content":          "The podcast is about politics.",
				"is_native_source": false,
				"locations":        []any{"file:///a.csv"},
				"source_ids":       []any{"src-1"},
				"meta_ids":         []any{"meta-1"},
				"accuracy":         float64(4),
				"relevancy":        float64(4),
			},
		},
	}
}

func TestValidateTOMLDictAcceptsWellFormed(t *testing.T) {
	assert.NoError(t, ValidateTOMLDict(validDict()))
}

func TestValidateTOMLDictRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"engram not a list", func(d map[string]any) { d["engram"] = "nope" }},
		{"missing content", func(d map[string]any) {
			delete(d["engram"].([]any)[0].(map[string]any), "content")
		}},
		{"missing is_native_source", func(d map[string]any) {
			delete(d["engram"].([]any)[0].(map[string]any), "is_native_source")
		}},
		{"derived missing source_ids", func(d map[string]any) {
			delete(d["engram"].([]any)[0].(map[string]any), "source_ids")
		}},
		{"derived missing meta_ids", func(d map[string]any) {
			delete(d["engram"].([]any)[0].(map[string]any), "meta_ids")
		}},
		{"non-integer accuracy", func(d map[string]any) {
			d["engram"].([]any)[0].(map[string]any)["accuracy"] = 3.5
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dict := validDict()
			tt.mutate(dict)
			assert.ErrorIs(t, ValidateTOMLDict(dict), core.ErrValidation)
		})
	}
}

func TestValidateTOMLDictNativeEngramNeedsNoProvenance(t *testing.T) {
	dict := map[string]any{
		"engram": []any{
			map[string]any{
				"content":          "Native text.",
				"is_native_source": true,
			},
		},
	}
	assert.NoError(t, ValidateTOMLDict(dict))
}

func TestNormalizeTOMLDictFillsDefaults(t *testing.T) {
	response := core.NewResponse("resp-1", "answer text", core.RetrieveResult{}, "", core.PromptAnalysis{}, "gemini-2.5-pro")

	dict := map[string]any{
		"meta": map[string]any{
			"summary_full": "a summary",
		},
		"engram": []any{
			map[string]any{"content": "derived", "is_native_source": false},
			map[string]any{"content": "native", "is_native_source": true},
		},
	}
	NormalizeTOMLDict(dict, response)

	meta := dict["meta"].(map[string]any)
	metaID := meta["id"].(string)
	assert.NotEmpty(t, metaID)
	assert.Equal(t, []any{response.Hash}, meta["source_ids"])
	assert.Equal(t, []any{"llm://gemini-2.5-pro"}, meta["locations"])
	assert.Equal(t, map[string]any{"text": "a summary"}, meta["summary_full"])

	derived := dict["engram"].([]any)[0].(map[string]any)
	assert.NotEmpty(t, derived["id"])
	assert.NotEmpty(t, derived["created_date"])
	require.Len(t, derived["source_ids"], 1)
	assert.Equal(t, response.Hash, derived["source_ids"].([]any)[0])

	// Native engrams inherit the same source/location/meta triple.
	native := dict["engram"].([]any)[1].(map[string]any)
	assert.Equal(t, []any{response.Hash}, native["source_ids"])
	assert.Equal(t, []any{"llm://gemini-2.5-pro"}, native["locations"])
	assert.Equal(t, []any{metaID}, native["meta_ids"])
}

func TestNormalizeKeepsExistingDerivedProvenance(t *testing.T) {
	response := core.NewResponse("resp-1", "answer", core.RetrieveResult{}, "", core.PromptAnalysis{}, "mock")

	dict := validDict()
	NormalizeTOMLDict(dict, response)

	derived := dict["engram"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{"src-1"}, derived["source_ids"])
	assert.Equal(t, []any{"file:///a.csv"}, derived["locations"])
}

func TestLoadTOMLDictBuildsObservation(t *testing.T) {
	db := mockDB(t)
	repo := NewObservationRepository(db)

	response := core.NewResponse("resp-1", "answer", core.RetrieveResult{}, "", core.PromptAnalysis{}, "mock")
	dict := validDict()
	NormalizeTOMLDict(dict, response)

	obs, err := repo.LoadTOMLDict(dict)
	require.NoError(t, err)
	assert.NotEmpty(t, obs.ID)
	require.NotNil(t, obs.Meta)
	assert.Equal(t, "A podcast about markets.", obs.Meta.SummaryFull.Text)
	require.Len(t, obs.EngramList, 1)
	assert.Equal(t, "The podcast is about politics.", obs.EngramList[0].Content)
	assert.False(t, obs.EngramList[0].IsNativeSource)
	assert.Equal(t, 4, obs.EngramList[0].Accuracy)
}

func TestIsNotMemorable(t *testing.T) {
	assert.True(t, IsNotMemorable(map[string]any{"not_memorable": map[string]any{}}))
	assert.False(t, IsNotMemorable(validDict()))
}

func TestObservationSaveLoadRoundTrip(t *testing.T) {
	db := mockDB(t)
	repo := NewObservationRepository(db)
	ctx := context.Background()

	response := core.NewResponse("resp-1", "answer", core.RetrieveResult{}, "", core.PromptAnalysis{}, "mock")
	dict := validDict()
	NormalizeTOMLDict(dict, response)
	obs, err := repo.LoadTOMLDict(dict)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, obs))
	loaded, err := repo.Load(ctx, obs.ID)
	require.NoError(t, err)
	assert.Equal(t, obs.ID, loaded.ID)
	assert.Equal(t, obs.Meta.ID, loaded.Meta.ID)
	require.Len(t, loaded.EngramList, 1)
	assert.Equal(t, obs.EngramList[0].ID, loaded.EngramList[0].ID)
}
