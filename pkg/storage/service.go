// Package storage persists completed pipeline entities: observations,
// engrams, metas, and response history. Write-only by design — reads go
// through the repositories of the consuming services.
package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/metrics"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/repository"
	"github.com/engramic/engramic/pkg/service"
)

// Metric names.
const (
	metricObservationsSaved = "observations_saved"
	metricEngramsSaved      = "engrams_saved"
	metricMetasSaved        = "metas_saved"
	metricHistorySaved      = "history_saved"
)

// Service is the storage stage.
type Service struct {
	service.Base
	registry *plugin.Registry
	metrics  *metrics.Tracker

	engramRepo  *repository.EngramRepository
	metaRepo    *repository.MetaRepository
	obsRepo     *repository.ObservationRepository
	historyRepo *repository.HistoryRepository
}

// NewService builds the storage service on the host's bus and executor.
func NewService(h *host.Host) service.Service {
	return &Service{
		Base:     service.NewBase(h.Bus(), h.Executor()),
		registry: h.Plugins(),
		metrics:  metrics.NewTracker(),
	}
}

// Name implements the service contract.
func (s *Service) Name() string { return "StorageService" }

// InitAsync connects the document store and sets up subscriptions.
func (s *Service) InitAsync(ctx context.Context) error {
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
	s.historyRepo = repository.NewHistoryRepository(db)

	s.Subscribe(bus.TopicObservationComplete, s.onObservationComplete)
	s.Subscribe(bus.TopicEngramComplete, s.onEngramComplete)
	s.Subscribe(bus.TopicMetaComplete, s.onMetaComplete)
	s.Subscribe(bus.TopicMainPromptComplete, s.onMainPromptComplete)
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
	s.RunTask("save_observation", func(ctx context.Context) (any, error) {
		if err := s.obsRepo.Save(ctx, &msg.Observation); err != nil {
			return nil, err
		}
		s.metrics.Increment(metricObservationsSaved)
		return nil, nil
	})
}

func (s *Service) onEngramComplete(payload map[string]any) {
	var msg bus.EngramCompletePayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed engram_complete payload", "error", err)
		return
	}
	s.RunTask("save_engram", func(ctx context.Context) (any, error) {
		if err := s.engramRepo.Save(ctx, &msg.Engram); err != nil {
			return nil, err
		}
		s.metrics.Increment(metricEngramsSaved)
		return nil, nil
	})
}

func (s *Service) onMetaComplete(payload map[string]any) {
	var msg bus.MetaCompletePayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed meta_complete payload", "error", err)
		return
	}
	s.RunTask("save_meta", func(ctx context.Context) (any, error) {
		if err := s.metaRepo.Save(ctx, &msg.Meta); err != nil {
			return nil, err
		}
		s.metrics.Increment(metricMetasSaved)
		return nil, nil
	})
}

func (s *Service) onMainPromptComplete(payload map[string]any) {
	var msg bus.MainPromptCompletePayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed main_prompt_complete payload", "error", err)
		return
	}
	s.RunTask("save_history", func(ctx context.Context) (any, error) {
		if err := s.historyRepo.SaveHistory(ctx, &msg.Response); err != nil {
			return nil, err
		}
		s.metrics.Increment(metricHistorySaved)
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
