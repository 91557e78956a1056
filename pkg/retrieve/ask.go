package retrieve

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/executor"
	"github.com/engramic/engramic/pkg/plugin"
)

// Caller names keying the mock recordings of each pipeline step.
const (
	callerGenConversation = "gen_conversation_direction"
	callerAnalyzePrompt   = "analyze_prompt"
	callerGenerateIndices = "generate_indices"
	callerGenEmbed        = "gen_embed"
	callerQueryMetaDB     = "query_meta_db"
	callerQueryIndexDB    = "query_index_db"
)

// ask resolves one prompt to candidate engram ids: conversation direction,
// coarse meta lookup, prompt analysis alongside dynamic index generation,
// index embedding, and the final vector query.
type ask struct {
	id      string
	prompt  *core.Prompt
	service *Service
}

func newAsk(prompt *core.Prompt, service *Service) *ask {
	return &ask{id: uuid.NewString(), prompt: prompt, service: service}
}

// run executes the retrieval flow on the executor. The analysis and index
// generation steps run in parallel; everything else is sequential on their
// results.
func (a *ask) run(ctx context.Context) (any, error) {
	direction, err := a.genConversationDirection(ctx)
	if err != nil {
		return nil, err
	}

	metas, err := a.queryMetas(ctx, direction.UserIntent)
	if err != nil {
		return nil, err
	}

	gathered, err := a.service.RunTasks([]executor.NamedTask{
		{Name: callerAnalyzePrompt, Task: func(ctx context.Context) (any, error) {
			return a.analyzePrompt(ctx, metas)
		}},
		{Name: callerGenerateIndices, Task: func(ctx context.Context) (any, error) {
			return a.generateIndices(ctx, metas)
		}},
	}).Result()
	if err != nil {
		return nil, err
	}
	results := gathered.(map[string][]executor.TaskResult)

	analyzeRes := results[callerAnalyzePrompt][0]
	if analyzeRes.Err != nil {
		return nil, analyzeRes.Err
	}
	indicesRes := results[callerGenerateIndices][0]
	if indicesRes.Err != nil {
		return nil, indicesRes.Err
	}

	analysis := analyzeRes.Value.(core.PromptAnalysis)
	analysis.Indices = indicesRes.Value.([]string)
	a.service.metrics.Increment(metricPromptsAnalyzed)
	a.service.metrics.Increment(metricDynamicIndicesGenerated, len(analysis.Indices))

	engramIDs, err := a.queryIndexDB(ctx, analysis.Indices)
	if err != nil {
		return nil, err
	}

	payload := bus.RetrieveCompletePayload{
		AskID:      a.id,
		TrackingID: a.prompt.TrackingID,
		Prompt:     *a.prompt,
		Analysis:   analysis,
		RetrieveResult: core.RetrieveResult{
			AskID:                 a.id,
			EngramIDArray:         engramIDs,
			ConversationDirection: direction,
		},
	}
	a.service.PublishAsync(bus.TopicRetrieveComplete, bus.Encode(payload))
	return payload, nil
}

func (a *ask) genConversationDirection(ctx context.Context) (core.ConversationDirection, error) {
	schema := map[string]string{
		"user_intent":      "string",
		"working_memory":   "string",
		"perform_research": "bool",
	}
	out, err := a.service.llmDirection.Submit(ctx, callerGenConversation, 0,
		render(genConversationTmpl, promptInput{PromptStr: a.prompt.PromptStr}), schema, nil)
	if err != nil {
		return core.ConversationDirection{}, err
	}

	var direction core.ConversationDirection
	if err := json.Unmarshal([]byte(out), &direction); err != nil {
		return core.ConversationDirection{}, fmt.Errorf("decode conversation direction: %w", err)
	}
	a.service.metrics.Increment(metricConversationDirectionCalculated)
	return direction, nil
}

// queryMetas embeds the user intent and queries the meta collection for the
// domains the prompt touches.
func (a *ask) queryMetas(ctx context.Context, userIntent string) ([]*core.Meta, error) {
	embeddings, err := a.service.embedding.GenEmbed(ctx, callerQueryMetaDB, 0, []string{userIntent})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, nil
	}

	metaIDs, err := a.service.vector.Query(ctx, callerQueryMetaDB, 0, plugin.CollectionMeta, embeddings[0], a.service.vectorFilter(a.prompt))
	if err != nil {
		return nil, err
	}
	a.service.metrics.Increment(metricVectorDBQueries)
	if len(metaIDs) == 0 {
		return nil, nil
	}
	return a.service.metaRepo.LoadBatch(ctx, metaIDs)
}

func (a *ask) analyzePrompt(ctx context.Context, metas []*core.Meta) (core.PromptAnalysis, error) {
	schema := map[string]string{
		"response_length":  "string",
		"user_prompt_type": "string",
		"thinking_steps":   "string_array",
	}
	out, err := a.service.llmAnalysis.Submit(ctx, callerAnalyzePrompt, 0,
		render(analyzePromptTmpl, promptInput{PromptStr: a.prompt.PromptStr, Metas: metas}), schema, nil)
	if err != nil {
		return core.PromptAnalysis{}, err
	}

	var analysis core.PromptAnalysis
	if err := json.Unmarshal([]byte(out), &analysis); err != nil {
		return core.PromptAnalysis{}, fmt.Errorf("decode prompt analysis: %w", err)
	}
	return analysis, nil
}

// generateIndices produces the dynamic lookup phrases, order preserved from
// the LLM so recorded runs replay deterministically.
func (a *ask) generateIndices(ctx context.Context, metas []*core.Meta) ([]string, error) {
	schema := map[string]string{"index_text_array": "string_array"}
	out, err := a.service.llmIndices.Submit(ctx, callerGenerateIndices, 0,
		render(genIndicesTmpl, promptInput{PromptStr: a.prompt.PromptStr, Metas: metas}), schema, nil)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		IndexTextArray []string `json:"index_text_array"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		return nil, fmt.Errorf("decode generated indices: %w", err)
	}
	return decoded.IndexTextArray, nil
}

// queryIndexDB embeds every generated phrase and unions the main-collection
// hits, first-seen order preserved, under the prompt's repo filters.
func (a *ask) queryIndexDB(ctx context.Context, phrases []string) ([]string, error) {
	if len(phrases) == 0 {
		return nil, nil
	}

	embeddings, err := a.service.embedding.GenEmbed(ctx, callerGenEmbed, 0, phrases)
	if err != nil {
		return nil, err
	}

	filter := a.service.vectorFilter(a.prompt)
	seen := make(map[string]bool)
	var engramIDs []string
	for i, embedding := range embeddings {
		ids, err := a.service.vector.Query(ctx, callerQueryIndexDB, i, plugin.CollectionMain, embedding, filter)
		if err != nil {
			return nil, err
		}
		a.service.metrics.Increment(metricVectorDBQueries)
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				engramIDs = append(engramIDs, id)
			}
		}
	}
	return engramIDs, nil
}
