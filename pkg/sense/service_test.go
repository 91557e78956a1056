package sense

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/config"
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/repository"
	"github.com/engramic/engramic/pkg/service"
	_ "github.com/engramic/engramic/pkg/plugin/db/mock"
	_ "github.com/engramic/engramic/pkg/plugin/embedding/mock"
	_ "github.com/engramic/engramic/pkg/plugin/llm/mock"
	_ "github.com/engramic/engramic/pkg/plugin/vectordb/mock"
)

// fakeRasterizer serves a fixed page set without touching any PDF library.
type fakeRasterizer struct {
	pages []string
	err   error
}

func (f *fakeRasterizer) RasterizePages(context.Context, string) ([]string, error) {
	return f.pages, f.err
}

func startSense(t *testing.T, rasterizer Rasterizer) (*host.Host, *repository.ProcessRepository) {
	t.Helper()
	profile, err := config.Builtin().Resolve("mock")
	require.NoError(t, err)
	registry := plugin.NewRegistry(profile, plugin.ModeReplay, nil)

	h := host.New(registry, func(h *host.Host) service.Service {
		return NewService(h, rasterizer)
	})
	require.NoError(t, h.Run(context.Background()))
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })

	// Same registry instance, so the repository sees the service's store.
	db, err := registry.DocumentDB("document")
	require.NoError(t, err)
	return h, repository.NewProcessRepository(db)
}

func submitDocument(t *testing.T, h *host.Host) *core.FileNode {
	t.Helper()
	node, err := core.NewFileNode(core.FileNodeRootResource,
		"IntroductiontoQuantumNetworking.pdf", core.FileNodeTypeFile, []string{"resource"})
	require.NoError(t, err)
	h.Bus().PublishAsync(bus.TopicSubmitDocument, bus.Encode(node))
	return node
}

// TestDocumentScanProducesObservation drives a two-page document through the
// mock scan pipeline and checks the resulting native-source engrams and
// document meta.
func TestDocumentScanProducesObservation(t *testing.T) {
	h, processRepo := startSense(t, &fakeRasterizer{pages: []string{"cGFnZTE=", "cGFnZTI="}})

	observations := make(chan bus.ObservationCompletePayload, 1)
	h.Bus().Subscribe(bus.TopicObservationComplete, func(p map[string]any) {
		var msg bus.ObservationCompletePayload
		require.NoError(t, bus.Decode(p, &msg))
		observations <- msg
	})
	created := make(chan bus.NodeCreatedPayload, 1)
	h.Bus().Subscribe(bus.TopicDocumentCreated, func(p map[string]any) {
		var msg bus.NodeCreatedPayload
		require.NoError(t, bus.Decode(p, &msg))
		created <- msg
	})

	node := submitDocument(t, h)

	select {
	case msg := <-created:
		assert.Equal(t, node.ID, msg.ID)
		assert.Equal(t, node.TrackingID, msg.TrackingID)
	case <-time.After(2 * time.Second):
		t.Fatal("document_created never published")
	}

	var msg bus.ObservationCompletePayload
	select {
	case msg = <-observations:
	case <-time.After(2 * time.Second):
		t.Fatal("observation_complete never published")
	}

	obs := msg.Observation
	assert.Equal(t, node.ID, obs.ParentID)
	assert.Equal(t, node.TrackingID, obs.TrackingID)

	require.NotEmpty(t, obs.EngramList)
	sourceID := core.HashContent(node.FullPath())
	for _, engram := range obs.EngramList {
		assert.True(t, engram.IsNativeSource)
		assert.Equal(t, []string{node.FullPath()}, engram.Locations)
		assert.Equal(t, []string{sourceID}, engram.SourceIDs)
		assert.Equal(t, []string{obs.Meta.ID}, engram.MetaIDs)
		assert.NotEmpty(t, engram.Content)
	}

	require.NotNil(t, obs.Meta)
	assert.Equal(t, core.MetaTypeDocument, obs.Meta.Type)
	assert.NotEmpty(t, obs.Meta.SummaryFull.Text)
	assert.NotEmpty(t, obs.Meta.Keywords)
	assert.Equal(t, "A survey of quantum networking fundamentals.", obs.Meta.SummaryInitial)

	// The scan's workflow record ran every pass to completion.
	process, err := processRepo.Load(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, "document_scan", process.ProcessName)
	assert.Equal(t, core.ProcessStatusDone, process.Status)
	assert.Equal(t, 1.0, process.PercentComplete)
	assert.Equal(t, node.TrackingID, process.CurrentTrackingID)
}

// TestZeroPageDocumentFailsBeforeAnyLLMCall verifies the validation gate: a
// zero-page document is reported as a failed unit of work and no
// observation is produced.
func TestZeroPageDocumentFailsBeforeAnyLLMCall(t *testing.T) {
	h, processRepo := startSense(t, &fakeRasterizer{pages: nil})

	failures := make(chan bus.ProgressUpdatedPayload, 1)
	h.Bus().Subscribe(bus.TopicProgressUpdated, func(p map[string]any) {
		var msg bus.ProgressUpdatedPayload
		require.NoError(t, bus.Decode(p, &msg))
		if msg.Failed {
			failures <- msg
		}
	})
	observations := make(chan struct{}, 1)
	h.Bus().Subscribe(bus.TopicObservationComplete, func(map[string]any) {
		observations <- struct{}{}
	})

	node := submitDocument(t, h)

	select {
	case msg := <-failures:
		assert.Equal(t, node.ID, msg.ID)
		assert.Contains(t, msg.Message, "zero pages")
	case <-time.After(2 * time.Second):
		t.Fatal("failed progress update never published")
	}

	select {
	case <-observations:
		t.Fatal("observation published for zero-page document")
	case <-time.After(200 * time.Millisecond):
	}

	// The workflow record carries the user-facing failure.
	process, err := processRepo.Load(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProcessStatusFailed, process.Status)
	assert.Contains(t, process.FailedMessage, "zero pages")
}

// TestRasterizerErrorFailsUnitOfWork verifies a backend failure fails the
// document without tearing the host down.
func TestRasterizerErrorFailsUnitOfWork(t *testing.T) {
	h, processRepo := startSense(t, &fakeRasterizer{err: errors.New("broken pdf")})

	failures := make(chan bus.ProgressUpdatedPayload, 1)
	h.Bus().Subscribe(bus.TopicProgressUpdated, func(p map[string]any) {
		var msg bus.ProgressUpdatedPayload
		require.NoError(t, bus.Decode(p, &msg))
		if msg.Failed {
			failures <- msg
		}
	})

	node := submitDocument(t, h)
	select {
	case msg := <-failures:
		assert.Contains(t, msg.Message, "broken pdf")
	case <-time.After(2 * time.Second):
		t.Fatal("failed progress update never published")
	}

	process, err := processRepo.Load(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProcessStatusFailed, process.Status)
	assert.Contains(t, process.FailedMessage, "broken pdf")
}
