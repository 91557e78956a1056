// Package response renders the main prompt from retrieved engrams and
// recent history, streams the answer through the websocket surface, and
// publishes the completed response for codification.
package response

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/executor"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/metrics"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/repository"
	"github.com/engramic/engramic/pkg/service"
)

// Metric names.
const (
	metricRetrievesReceived = "retrieves_received"
	metricResponsesStreamed = "responses_streamed"
)

const (
	callerMainPrompt   = "main_prompt"
	callerFetchEngrams = "fetch_engrams"
	callerFetchHistory = "fetch_history"
)

// Service is the response pipeline stage. The sink receives streaming
// packets; a nil sink discards them (headless runs, tests).
type Service struct {
	service.Base
	registry *plugin.Registry
	metrics  *metrics.Tracker
	sink     plugin.StreamSink

	llmMain     *plugin.LLMHandle
	engramRepo  *repository.EngramRepository
	historyRepo *repository.HistoryRepository
}

// NewService builds the response service. The sink may be nil.
func NewService(h *host.Host, sink plugin.StreamSink) service.Service {
	return &Service{
		Base:     service.NewBase(h.Bus(), h.Executor()),
		registry: h.Plugins(),
		metrics:  metrics.NewTracker(),
		sink:     sink,
	}
}

// Name implements the service contract.
func (s *Service) Name() string { return "ResponseService" }

// InitAsync resolves plugins and sets up subscriptions.
func (s *Service) InitAsync(ctx context.Context) error {
	var err error
	if s.llmMain, err = s.registry.LLM("response_main"); err != nil {
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
	s.historyRepo = repository.NewHistoryRepository(db)

	s.Subscribe(bus.TopicRetrieveComplete, s.onRetrieveComplete)
	s.Subscribe(bus.TopicAcknowledge, s.onAcknowledge)
	return nil
}

// Start implements the service contract.
func (s *Service) Start(_ context.Context) error { return nil }

// Stop implements the service contract.
func (s *Service) Stop(_ context.Context) error { return nil }

func (s *Service) onRetrieveComplete(payload map[string]any) {
	var msg bus.RetrieveCompletePayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed retrieve_complete payload", "error", err)
		return
	}
	s.metrics.Increment(metricRetrievesReceived)
	s.RunTask("respond_"+msg.AskID, func(ctx context.Context) (any, error) {
		return s.respond(ctx, msg)
	})
}

// respond fetches engrams and history in parallel, renders the main prompt,
// streams the answer, and publishes main_prompt_complete.
func (s *Service) respond(ctx context.Context, msg bus.RetrieveCompletePayload) (any, error) {
	gathered, err := s.RunTasks([]executor.NamedTask{
		{Name: callerFetchEngrams, Task: func(ctx context.Context) (any, error) {
			return s.engramRepo.LoadBatchRetrieveResult(ctx, msg.RetrieveResult)
		}},
		{Name: callerFetchHistory, Task: func(ctx context.Context) (any, error) {
			return s.historyRepo.LoadRecent(ctx)
		}},
	}).Result()
	if err != nil {
		return nil, err
	}
	results := gathered.(map[string][]executor.TaskResult)

	engramsRes := results[callerFetchEngrams][0]
	if engramsRes.Err != nil {
		return nil, fmt.Errorf("fetch engrams: %w", engramsRes.Err)
	}
	historyRes := results[callerFetchHistory][0]
	if historyRes.Err != nil {
		return nil, fmt.Errorf("fetch history: %w", historyRes.Err)
	}

	engrams, _ := engramsRes.Value.([]*core.Engram)
	history, _ := historyRes.Value.([]*core.Response)

	rendered := renderMainPrompt(mainPromptInput{
		PromptStr:     msg.Prompt.PromptStr,
		WorkingMemory: msg.RetrieveResult.ConversationDirection.WorkingMemory,
		ThinkingSteps: msg.Analysis.ThinkingSteps,
		History:       history,
		Engrams:       engrams,
	})
	// Debug surface for prompt inspection; dropped at run time unless the
	// slog level is Debug.
	slog.Debug("debug_main_prompt_input", "ask_id", msg.AskID, "prompt", rendered)

	text, err := s.llmMain.SubmitStreaming(ctx, callerMainPrompt, rendered, s.sink)
	if err != nil {
		return nil, err
	}
	s.metrics.Increment(metricResponsesStreamed)

	response := core.NewResponse(uuid.NewString(), text, msg.RetrieveResult,
		msg.Prompt.PromptStr, msg.Analysis, s.llmMain.Model())

	s.PublishAsync(bus.TopicMainPromptComplete, bus.Encode(bus.MainPromptCompletePayload{
		Response: *response,
		Prompt:   msg.Prompt,
	}))
	return response, nil
}

func (s *Service) onAcknowledge(_ map[string]any) {
	s.PublishAsync(bus.TopicStatus, bus.Encode(bus.StatusPayload{
		ID:        s.ID,
		Name:      s.Name(),
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Metrics:   s.metrics.GetAndResetPacket(),
	}))
}
