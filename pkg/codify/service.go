// Package codify validates a completed answer against its sources,
// producing a new observation of derived engrams. Only answers from prompts
// in training mode are codified; a [not_memorable] validate response
// short-circuits without error.
package codify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/metrics"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/repository"
	"github.com/engramic/engramic/pkg/service"
)

// Engrams must score strictly above these constants on both axes to survive
// the merge; anything at or below is dropped.
const (
	AccuracyConstant  = 3
	RelevancyConstant = 3
)

// Metric names.
const (
	metricResponsesReceived = "responses_received"
	metricEngramsFetched    = "engrams_fetched"
	metricEngramsValidated  = "engrams_validated"
	metricNotMemorable      = "not_memorable"
)

const callerValidate = "validate"

// Service is the codify pipeline stage.
type Service struct {
	service.Base
	registry *plugin.Registry
	metrics  *metrics.Tracker

	llmValidate *plugin.LLMHandle
	engramRepo  *repository.EngramRepository
	metaRepo    *repository.MetaRepository
	obsRepo     *repository.ObservationRepository
}

// NewService builds the codify service on the host's bus and executor.
func NewService(h *host.Host) service.Service {
	return &Service{
		Base:     service.NewBase(h.Bus(), h.Executor()),
		registry: h.Plugins(),
		metrics:  metrics.NewTracker(),
	}
}

// Name implements the service contract.
func (s *Service) Name() string { return "CodifyService" }

// InitAsync resolves plugins and sets up subscriptions.
func (s *Service) InitAsync(ctx context.Context) error {
	var err error
	if s.llmValidate, err = s.registry.LLM("codify_validate"); err != nil {
		return err
	}
	db, err := s.registry.DocumentDB("document")
	if err != nil {
		return err
	}
	if err := db.Connect(ctx); err != nil {
		return err
	}
	s.engramRepo = repository.NewEngramRepository(db)
	s.metaRepo = repository.NewMetaRepository(db)
	s.obsRepo = repository.NewObservationRepository(db)

	s.Subscribe(bus.TopicMainPromptComplete, s.onMainPromptComplete)
	s.Subscribe(bus.TopicAcknowledge, s.onAcknowledge)
	return nil
}

// Start implements the service contract.
func (s *Service) Start(_ context.Context) error { return nil }

// Stop implements the service contract.
func (s *Service) Stop(_ context.Context) error { return nil }

func (s *Service) onMainPromptComplete(payload map[string]any) {
	var msg bus.MainPromptCompletePayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed main_prompt_complete payload", "error", err)
		return
	}
	if !msg.Prompt.TrainingMode {
		return
	}
	s.metrics.Increment(metricResponsesReceived)

	s.RunTask("codify_"+msg.Response.ID, func(ctx context.Context) (any, error) {
		return s.codify(ctx, msg)
	})
}

// codify loads the answer's sources, runs the validate LLM, and publishes
// the resulting observation. Validation failures fail this unit of work
// only: they surface as a failed progress update, not a host teardown.
func (s *Service) codify(ctx context.Context, msg bus.MainPromptCompletePayload) (any, error) {
	engrams, err := s.engramRepo.LoadBatchRetrieveResult(ctx, msg.Response.RetrieveResult)
	if err != nil {
		return nil, err
	}
	s.metrics.Increment(metricEngramsFetched, len(engrams))

	metaIDs := collectMetaIDs(engrams)
	metas, err := s.metaRepo.LoadBatch(ctx, metaIDs)
	if err != nil {
		return nil, err
	}

	observation, err := s.validate(ctx, engrams, metas, &msg.Response)
	if err != nil {
		if errors.Is(err, core.ErrValidation) {
			s.publishFailed(msg, err)
			return nil, nil
		}
		return nil, err
	}
	if observation == nil {
		// Not memorable.
		return nil, nil
	}

	observation.ParentID = msg.Prompt.PromptID
	observation.TrackingID = msg.Prompt.TrackingID

	repoID := ""
	if len(msg.Prompt.RepoIDsFilters) > 0 {
		repoID = msg.Prompt.RepoIDsFilters[0]
	}
	s.PublishAsync(bus.TopicObservationComplete, bus.Encode(bus.ObservationCompletePayload{
		Observation: *observation,
		RepoID:      repoID,
	}))
	return observation, nil
}

// validate runs the validate LLM and builds the gated, merged observation.
// A nil observation with nil error means the answer was not memorable.
func (s *Service) validate(ctx context.Context, engrams []*core.Engram, metas []*core.Meta, response *core.Response) (*core.Observation, error) {
	rendered := renderValidatePrompt(validateInput{
		ResponseText: response.Response,
		PromptStr:    response.PromptStr,
		Engrams:      engrams,
		Metas:        metas,
	})

	out, err := s.llmValidate.Submit(ctx, callerValidate, 0, rendered, nil, nil)
	if err != nil {
		return nil, err
	}

	dict, err := parseValidateTOML(out)
	if err != nil {
		return nil, err
	}
	if repository.IsNotMemorable(dict) {
		s.metrics.Increment(metricNotMemorable)
		return nil, nil
	}
	if err := repository.ValidateTOMLDict(dict); err != nil {
		return nil, err
	}
	repository.NormalizeTOMLDict(dict, response)
	filterAndMerge(dict)

	observation, err := s.obsRepo.LoadTOMLDict(dict)
	if err != nil {
		return nil, err
	}
	s.metrics.Increment(metricEngramsValidated, len(observation.EngramList))
	return observation, nil
}

func (s *Service) publishFailed(msg bus.MainPromptCompletePayload, err error) {
	slog.Warn("Validate response rejected", "response_id", msg.Response.ID, "error", err)
	s.PublishAsync(bus.TopicProgressUpdated, bus.Encode(bus.ProgressUpdatedPayload{
		ProgressType: "prompt",
		ID:           msg.Prompt.PromptID,
		TrackingID:   msg.Prompt.TrackingID,
		Failed:       true,
		Message:      err.Error(),
	}))
}

func (s *Service) onAcknowledge(_ map[string]any) {
	s.PublishAsync(bus.TopicStatus, bus.Encode(bus.StatusPayload{
		ID:        s.ID,
		Name:      s.Name(),
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Metrics:   s.metrics.GetAndResetPacket(),
	}))
}

// parseValidateTOML parses the validate LLM output and canonicalizes it
// through JSON so nested tables and arrays use the same dynamic shapes the
// repository validators expect.
func parseValidateTOML(text string) (map[string]any, error) {
	var parsed map[string]any
	if err := toml.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: validate response is not TOML: %v", core.ErrValidation, err)
	}
	raw, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	var dict map[string]any
	if err := json.Unmarshal(raw, &dict); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	return dict, nil
}

// filterAndMerge drops engrams below the accuracy/relevancy gate and points
// the meta at the union of the surviving engrams' sources and locations.
func filterAndMerge(dict map[string]any) {
	engrams, _ := dict["engram"].([]any)
	kept := make([]any, 0, len(engrams))
	sourceIDs := make([]any, 0)
	locations := make([]any, 0)
	seenSource := make(map[string]bool)
	seenLocation := make(map[string]bool)

	for _, raw := range engrams {
		table, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if scoreOf(table, "accuracy") <= AccuracyConstant || scoreOf(table, "relevancy") <= RelevancyConstant {
			continue
		}
		kept = append(kept, table)
		for _, v := range toStrings(table["source_ids"]) {
			if !seenSource[v] {
				seenSource[v] = true
				sourceIDs = append(sourceIDs, v)
			}
		}
		for _, v := range toStrings(table["locations"]) {
			if !seenLocation[v] {
				seenLocation[v] = true
				locations = append(locations, v)
			}
		}
	}
	dict["engram"] = kept

	if meta, ok := dict["meta"].(map[string]any); ok {
		meta["source_ids"] = sourceIDs
		meta["locations"] = locations
	}
}

func scoreOf(table map[string]any, field string) int {
	switch n := table[field].(type) {
	case float64:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func toStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func collectMetaIDs(engrams []*core.Engram) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, engram := range engrams {
		if len(engram.MetaIDs) == 0 {
			continue
		}
		id := engram.MetaIDs[0]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
