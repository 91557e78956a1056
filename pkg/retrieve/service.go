// Package retrieve turns a prompt into candidate engram ids: conversation
// direction, dynamic index generation, and vector search. It also owns all
// vector insertions, consuming index_complete and meta_complete so the
// collections it queries are populated by the same service that reads them.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/metrics"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/repository"
	"github.com/engramic/engramic/pkg/service"
)

// Metric names.
const (
	metricPromptsSubmitted                = "prompts_submitted"
	metricIndexCompleted                  = "index_completed"
	metricEmbeddingsAddedToVector         = "embeddings_added_to_vector"
	metricConversationDirectionCalculated = "conversation_direction_calculated"
	metricPromptsAnalyzed                 = "prompts_analyzed"
	metricDynamicIndicesGenerated         = "dynamic_indices_generated"
	metricVectorDBQueries                 = "vector_db_queries"
)

// Service is the retrieve pipeline stage.
type Service struct {
	service.Base
	registry *plugin.Registry
	metrics  *metrics.Tracker

	llmDirection *plugin.LLMHandle
	llmAnalysis  *plugin.LLMHandle
	llmIndices   *plugin.LLMHandle
	embedding    *plugin.EmbeddingHandle
	vector       *plugin.VectorDBHandle
	metaRepo     *repository.MetaRepository
}

// NewService builds the retrieve service on the host's bus and executor.
func NewService(h *host.Host) service.Service {
	return &Service{
		Base:     service.NewBase(h.Bus(), h.Executor()),
		registry: h.Plugins(),
		metrics:  metrics.NewTracker(),
	}
}

// Name implements the service contract.
func (s *Service) Name() string { return "RetrieveService" }

// InitAsync resolves plugins and sets up subscriptions.
func (s *Service) InitAsync(ctx context.Context) error {
	var err error
	if s.llmDirection, err = s.registry.LLM("retrieve_gen_conversation_direction"); err != nil {
		return err
	}
	if s.llmAnalysis, err = s.registry.LLM("retrieve_prompt_analysis"); err != nil {
		return err
	}
	if s.llmIndices, err = s.registry.LLM("retrieve_gen_index"); err != nil {
		return err
	}
	if s.embedding, err = s.registry.Embedding("gen_embed"); err != nil {
		return err
	}
	if s.vector, err = s.registry.VectorDB("db"); err != nil {
		return err
	}
	db, err := s.registry.DocumentDB("document")
	if err != nil {
		return err
	}
	if err := db.Connect(ctx); err != nil {
		return err
	}
	s.metaRepo = repository.NewMetaRepository(db)

	s.Subscribe(bus.TopicSubmitPrompt, s.onSubmitPrompt)
	s.Subscribe(bus.TopicIndexComplete, s.onIndexComplete)
	s.Subscribe(bus.TopicMetaComplete, s.onMetaComplete)
	s.Subscribe(bus.TopicAcknowledge, s.onAcknowledge)
	return nil
}

// Start implements the service contract.
func (s *Service) Start(_ context.Context) error { return nil }

// Stop implements the service contract.
func (s *Service) Stop(_ context.Context) error { return nil }

func (s *Service) onSubmitPrompt(payload map[string]any) {
	var prompt core.Prompt
	if err := bus.Decode(payload, &prompt); err != nil {
		slog.Error("Malformed prompt submission", "error", err)
		return
	}
	s.Submit(&prompt)
}

// Submit runs the retrieval flow for one prompt. Exposed for direct use by
// embedding applications; bus submissions arrive through submit_prompt.
func (s *Service) Submit(prompt *core.Prompt) {
	s.metrics.Increment(metricPromptsSubmitted)

	s.PublishAsync(bus.TopicPromptCreated, bus.Encode(bus.NodeCreatedPayload{
		ID:         prompt.PromptID,
		ParentID:   prompt.ParentID,
		TrackingID: prompt.TrackingID,
	}))

	a := newAsk(prompt, s)
	s.RunTask("ask_"+a.id, a.run)
}

// onIndexComplete inserts a consolidated engram's indices into the main
// collection, then reports the insertion to the progress tracker.
func (s *Service) onIndexComplete(payload map[string]any) {
	var msg bus.IndexCompletePayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed index_complete payload", "error", err)
		return
	}
	s.metrics.Increment(metricIndexCompleted)

	s.RunTask("insert_vector", func(ctx context.Context) (any, error) {
		filter := plugin.VectorFilter{RepoIDs: []string{repoOrNull(msg.RepoID)}}
		if msg.EngramType != "" {
			filter.Types = []string{msg.EngramType}
		}
		if msg.Location != "" {
			filter.Locations = []string{msg.Location}
		}
		if err := s.vector.Insert(ctx, plugin.CollectionMain, msg.Indices, msg.EngramID, filter); err != nil {
			return nil, fmt.Errorf("insert engram indices: %w", err)
		}
		s.metrics.Increment(metricEmbeddingsAddedToVector, len(msg.Indices))

		s.PublishAsync(bus.TopicIndicesInserted, bus.Encode(bus.IndexBatchPayload{
			ParentID:     msg.EngramID,
			TrackingID:   msg.TrackingID,
			IndexIDArray: msg.IndexIDArray,
		}))
		return nil, nil
	})
}

// onMetaComplete inserts an embedded meta summary into the meta collection
// used for coarse retrieval.
func (s *Service) onMetaComplete(payload map[string]any) {
	var msg bus.MetaCompletePayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed meta_complete payload", "error", err)
		return
	}
	if len(msg.Meta.SummaryFull.Embedding) == 0 {
		return
	}

	s.RunTask("insert_meta_vector", func(ctx context.Context) (any, error) {
		filter := plugin.VectorFilter{
			RepoIDs: []string{repoOrNull(msg.RepoID)},
			Types:   []string{string(msg.Meta.Type)},
		}
		err := s.vector.Insert(ctx, plugin.CollectionMeta, []core.Index{msg.Meta.SummaryFull}, msg.Meta.ID, filter)
		if err != nil {
			return nil, fmt.Errorf("insert meta summary: %w", err)
		}
		s.metrics.Increment(metricEmbeddingsAddedToVector)
		return nil, nil
	})
}

func (s *Service) onAcknowledge(_ map[string]any) {
	s.PublishAsync(bus.TopicStatus, bus.Encode(bus.StatusPayload{
		ID:        s.ID,
		Name:      s.Name(),
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Metrics:   s.metrics.GetAndResetPacket(),
	}))
}

// vectorFilter maps a prompt's repo filters to the vector query filter: nil
// means the reserved null repo only.
func (s *Service) vectorFilter(prompt *core.Prompt) plugin.VectorFilter {
	if prompt.RepoIDsFilters == nil {
		return plugin.VectorFilter{RepoIDs: []string{core.ReservedNullRepo}}
	}
	return plugin.VectorFilter{RepoIDs: prompt.RepoIDsFilters}
}

func repoOrNull(repoID string) string {
	if repoID == "" {
		return core.ReservedNullRepo
	}
	return repoID
}
