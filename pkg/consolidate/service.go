// Package consolidate turns fresh observations into indexed, embedded
// memory: it summarizes and embeds the meta, generates lookup indices for
// every engram in parallel, embeds them, and announces per-engram
// completion. It owns the in-flight engram builder between "engram emitted"
// and "indices embedded"; a duplicate engram id there is a logic bug and is
// fatal to the current process.
package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/executor"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/metrics"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/service"
)

// Metric names.
const (
	metricObservationsReceived = "observations_received"
	metricSummariesGenerated   = "summaries_generated"
	metricEngramsGenerated     = "engrams_generated"
	metricIndicesGenerated     = "indices_generated"
	metricEmbeddingsGenerated  = "embeddings_generated"
)

const (
	callerGenerateSummary   = "generate_summary"
	callerSummaryEmbeddings = "generate_summary_embeddings"
	callerGenIndices        = "gen_indices"
	callerGenEmbeddings     = "gen_embeddings"
)

// Service is the consolidate pipeline stage.
type Service struct {
	service.Base
	registry *plugin.Registry
	metrics  *metrics.Tracker

	llmSummary    *plugin.LLMHandle
	llmGenIndices *plugin.LLMHandle
	embedding     *plugin.EmbeddingHandle

	mu            sync.Mutex
	engramBuilder map[string]*core.Engram
}

// NewService builds the consolidate service on the host's bus and executor.
func NewService(h *host.Host) service.Service {
	return &Service{
		Base:          service.NewBase(h.Bus(), h.Executor()),
		registry:      h.Plugins(),
		metrics:       metrics.NewTracker(),
		engramBuilder: make(map[string]*core.Engram),
	}
}

// Name implements the service contract.
func (s *Service) Name() string { return "ConsolidateService" }

// InitAsync resolves plugins and sets up subscriptions.
func (s *Service) InitAsync(_ context.Context) error {
	var err error
	if s.llmSummary, err = s.registry.LLM("consolidate_summary"); err != nil {
		return err
	}
	if s.llmGenIndices, err = s.registry.LLM("consolidate_gen_indices"); err != nil {
		return err
	}
	if s.embedding, err = s.registry.Embedding("gen_embed"); err != nil {
		return err
	}

	s.Subscribe(bus.TopicObservationComplete, s.onObservationComplete)
	s.Subscribe(bus.TopicAcknowledge, s.onAcknowledge)
	return nil
}

// Start implements the service contract.
func (s *Service) Start(_ context.Context) error { return nil }

// Stop implements the service contract.
func (s *Service) Stop(_ context.Context) error { return nil }

func (s *Service) onObservationComplete(payload map[string]any) {
	var msg bus.ObservationCompletePayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed observation_complete payload", "error", err)
		return
	}
	s.metrics.Increment(metricObservationsReceived)

	// Failures here imply logic bugs or backend loss mid-pipeline; routing
	// through the background queue makes them terminal at shutdown.
	s.RunBackground("consolidate_"+msg.Observation.ID, func(ctx context.Context) (any, error) {
		return nil, s.consolidate(ctx, &msg.Observation, msg.RepoID)
	})
}

func (s *Service) consolidate(ctx context.Context, obs *core.Observation, repoID string) error {
	s.publishCreated(obs)

	if err := s.register(obs.EngramList); err != nil {
		return err
	}
	s.metrics.Increment(metricEngramsGenerated, len(obs.EngramList))

	gathered, err := s.RunTasks([]executor.NamedTask{
		{Name: callerGenerateSummary, Task: func(ctx context.Context) (any, error) {
			return nil, s.completeMeta(ctx, obs, repoID)
		}},
		{Name: callerGenIndices, Task: func(ctx context.Context) (any, error) {
			return nil, s.completeEngrams(ctx, obs, repoID)
		}},
	}).Result()
	if err != nil {
		return err
	}
	for _, results := range gathered.(map[string][]executor.TaskResult) {
		for _, res := range results {
			if res.Err != nil {
				return res.Err
			}
		}
	}
	return nil
}

// publishCreated announces the observation and its engram batch to the
// progress tracker before any index work begins.
func (s *Service) publishCreated(obs *core.Observation) {
	s.PublishAsync(bus.TopicObservationCreated, bus.Encode(bus.NodeCreatedPayload{
		ID:         obs.ID,
		ParentID:   obs.ParentID,
		TrackingID: obs.TrackingID,
	}))

	engramIDs := make([]string, len(obs.EngramList))
	for i, engram := range obs.EngramList {
		engramIDs[i] = engram.ID
	}
	s.PublishAsync(bus.TopicEngramsCreated, bus.Encode(bus.EngramsCreatedPayload{
		ParentID:      obs.ID,
		TrackingID:    obs.TrackingID,
		EngramIDArray: engramIDs,
	}))
}

// register claims every engram id in the in-flight builder. Two engrams with
// the same id is a hard error.
func (s *Service) register(engrams []*core.Engram) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, engram := range engrams {
		if _, exists := s.engramBuilder[engram.ID]; exists {
			return fmt.Errorf("%w: engram id collision during consolidation: %s", core.ErrInvariant, engram.ID)
		}
		s.engramBuilder[engram.ID] = engram
	}
	return nil
}

// completeMeta summarizes the meta when it arrived without a full summary
// (native LLM observations already carry one), embeds the summary text, and
// publishes meta_complete.
func (s *Service) completeMeta(ctx context.Context, obs *core.Observation, repoID string) error {
	meta := obs.Meta
	if meta == nil {
		return fmt.Errorf("%w: observation %s has no meta", core.ErrInvariant, obs.ID)
	}

	if meta.SummaryFull.Text == "" {
		var rendered strings.Builder
		for _, engram := range obs.EngramList {
			rendered.WriteString(engram.Render())
		}
		summary, err := s.llmSummary.Submit(ctx, callerGenerateSummary, 0,
			renderSummary(rendered.String()), nil, nil)
		if err != nil {
			return err
		}
		meta.SummaryFull.Text = summary
		s.metrics.Increment(metricSummariesGenerated)
	}

	embeddings, err := s.embedding.GenEmbed(ctx, callerSummaryEmbeddings, 0, []string{meta.SummaryFull.Text})
	if err != nil {
		return err
	}
	if len(embeddings) != 1 {
		return fmt.Errorf("summary embedding: got %d vectors for one input", len(embeddings))
	}
	meta.SummaryFull.Embedding = embeddings[0]

	s.PublishAsync(bus.TopicMetaComplete, bus.Encode(bus.MetaCompletePayload{
		Meta:       *meta,
		TrackingID: obs.TrackingID,
		RepoID:     repoID,
	}))
	return nil
}

// completeEngrams generates indices for every engram in parallel, embeds
// each index batch in parallel, then publishes index_complete and
// engram_complete per engram and releases the builder entries.
func (s *Service) completeEngrams(ctx context.Context, obs *core.Observation, repoID string) error {
	genTasks := make([]executor.NamedTask, len(obs.EngramList))
	for i, engram := range obs.EngramList {
		genTasks[i] = executor.NamedTask{Name: callerGenIndices, Task: func(ctx context.Context) (any, error) {
			return s.genIndices(ctx, i, engram)
		}}
	}
	gathered, err := s.RunTasks(genTasks).Result()
	if err != nil {
		return err
	}

	phraseSets := make([][]string, len(obs.EngramList))
	for i, res := range gathered.(map[string][]executor.TaskResult)[callerGenIndices] {
		if res.Err != nil {
			return res.Err
		}
		phraseSets[i] = res.Value.([]string)
	}

	// Index ids are the progress-tree children; announce them before any
	// insertion can report back.
	indexIDs := make([][]string, len(obs.EngramList))
	for i, engram := range obs.EngramList {
		ids := make([]string, len(phraseSets[i]))
		for j := range ids {
			ids[j] = uuid.NewString()
		}
		indexIDs[i] = ids
		s.PublishAsync(bus.TopicIndicesCreated, bus.Encode(bus.IndexBatchPayload{
			ParentID:     engram.ID,
			TrackingID:   obs.TrackingID,
			IndexIDArray: ids,
		}))
	}

	embedTasks := make([]executor.NamedTask, len(obs.EngramList))
	for i, engram := range obs.EngramList {
		embedTasks[i] = executor.NamedTask{Name: callerGenEmbeddings, Task: func(ctx context.Context) (any, error) {
			return nil, s.embedAndComplete(ctx, i, engram, phraseSets[i], indexIDs[i], obs.TrackingID, repoID)
		}}
	}
	gathered, err = s.RunTasks(embedTasks).Result()
	if err != nil {
		return err
	}
	for _, res := range gathered.(map[string][]executor.TaskResult)[callerGenEmbeddings] {
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}

// genIndices asks the LLM for one engram's lookup phrases.
func (s *Service) genIndices(ctx context.Context, i int, engram *core.Engram) ([]string, error) {
	schema := map[string]string{"index_text_array": "string_array"}
	out, err := s.llmGenIndices.Submit(ctx, callerGenIndices, i,
		renderGenIndices(engram.Render()), schema, nil)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		IndexTextArray []string `json:"index_text_array"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		return nil, fmt.Errorf("decode generated indices: %w", err)
	}
	s.metrics.Increment(metricIndicesGenerated, len(decoded.IndexTextArray))
	return decoded.IndexTextArray, nil
}

// embedAndComplete embeds one engram's phrases, attaches the resulting
// indices, and announces index and engram completion.
func (s *Service) embedAndComplete(ctx context.Context, i int, engram *core.Engram, phrases, indexIDs []string, trackingID, repoID string) error {
	embeddings, err := s.embedding.GenEmbed(ctx, callerGenEmbeddings, i, phrases)
	if err != nil {
		return err
	}
	if len(embeddings) != len(phrases) {
		return fmt.Errorf("index embedding: got %d vectors for %d phrases", len(embeddings), len(phrases))
	}
	s.metrics.Increment(metricEmbeddingsGenerated, len(embeddings))

	indices := make([]core.Index, len(phrases))
	for j := range phrases {
		indices[j] = core.Index{Text: phrases[j], Embedding: embeddings[j]}
	}
	engram.Indices = indices

	engramType := "derived"
	if engram.IsNativeSource {
		engramType = "native"
	}
	location := ""
	if len(engram.Locations) > 0 {
		location = engram.Locations[0]
	}

	s.PublishAsync(bus.TopicIndexComplete, bus.Encode(bus.IndexCompletePayload{
		EngramID:     engram.ID,
		EngramType:   engramType,
		Location:     location,
		TrackingID:   trackingID,
		RepoID:       repoID,
		IndexIDArray: indexIDs,
		Indices:      indices,
	}))
	s.PublishAsync(bus.TopicEngramComplete, bus.Encode(bus.EngramCompletePayload{
		Engram:     *engram,
		TrackingID: trackingID,
		RepoID:     repoID,
	}))

	s.mu.Lock()
	delete(s.engramBuilder, engram.ID)
	s.mu.Unlock()
	return nil
}

func (s *Service) onAcknowledge(_ map[string]any) {
	s.PublishAsync(bus.TopicStatus, bus.Encode(bus.StatusPayload{
		ID:        s.ID,
		Name:      s.Name(),
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Metrics:   s.metrics.GetAndResetPacket(),
	}))
}
