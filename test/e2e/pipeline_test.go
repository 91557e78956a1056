// Package e2e drives the full service runtime over the mock profile: every
// pipeline stage wired onto one host, correlated through the bus exactly as
// in production.
package e2e

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/codify"
	"github.com/engramic/engramic/pkg/config"
	"github.com/engramic/engramic/pkg/consolidate"
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/progress"
	"github.com/engramic/engramic/pkg/response"
	"github.com/engramic/engramic/pkg/retrieve"
	"github.com/engramic/engramic/pkg/sense"
	"github.com/engramic/engramic/pkg/service"
	"github.com/engramic/engramic/pkg/storage"

	_ "github.com/engramic/engramic/pkg/plugin/db/mock"
	_ "github.com/engramic/engramic/pkg/plugin/embedding/mock"
	_ "github.com/engramic/engramic/pkg/plugin/llm/mock"
	_ "github.com/engramic/engramic/pkg/plugin/vectordb/mock"
)

// fakeRasterizer serves fixed pages for document-ingest scenarios.
type fakeRasterizer struct {
	pages []string
}

func (f *fakeRasterizer) RasterizePages(context.Context, string) ([]string, error) {
	return f.pages, nil
}

// harness owns the host and records every message seen per topic.
type harness struct {
	host *host.Host

	mu   sync.Mutex
	seen map[string][]map[string]any
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	profile, err := config.Builtin().Resolve("mock")
	require.NoError(t, err)
	registry := plugin.NewRegistry(profile, plugin.ModeReplay, nil)

	h := host.New(registry,
		retrieve.NewService,
		func(h *host.Host) service.Service { return response.NewService(h, nil) },
		codify.NewService,
		consolidate.NewService,
		storage.NewService,
		progress.NewService,
		func(h *host.Host) service.Service {
			return sense.NewService(h, &fakeRasterizer{pages: []string{"cGFnZTE="}})
		},
	)

	hn := &harness{host: h, seen: make(map[string][]map[string]any)}
	for _, topic := range []string{
		bus.TopicRetrieveComplete, bus.TopicMainPromptComplete,
		bus.TopicObservationComplete, bus.TopicEngramComplete,
		bus.TopicMetaComplete, bus.TopicIndexComplete,
		bus.TopicIndicesInserted, bus.TopicProgressUpdated,
		bus.TopicPromptInserted, bus.TopicDocumentInserted,
	} {
		h.Bus().Subscribe(topic, func(p map[string]any) {
			hn.mu.Lock()
			hn.seen[topic] = append(hn.seen[topic], p)
			hn.mu.Unlock()
		})
	}

	require.NoError(t, h.Run(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, h.Shutdown(context.Background()))
	})
	return hn
}

func (h *harness) count(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen[topic])
}

func (h *harness) decode(t *testing.T, topic string, index int, out any) {
	t.Helper()
	h.mu.Lock()
	payload := h.seen[topic][index]
	h.mu.Unlock()
	require.NoError(t, bus.Decode(payload, out))
}

func (h *harness) waitFor(t *testing.T, topic string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.count(topic) >= n },
		5*time.Second, 10*time.Millisecond, "waiting for %d on %s", n, topic)
}

// TestPromptLifecycle drives a training-mode prompt through every stage:
// retrieval, streamed response, codification, consolidation, vector
// insertion, and progress completion of the prompt root.
func TestPromptLifecycle(t *testing.T) {
	h := newHarness(t)

	prompt, err := core.NewPrompt("Tell me about the All In podcast.",
		core.WithTrainingMode(true))
	require.NoError(t, err)
	h.host.Bus().PublishAsync(bus.TopicSubmitPrompt, bus.Encode(prompt))

	// Retrieve.
	h.waitFor(t, bus.TopicRetrieveComplete, 1)
	var retrieved bus.RetrieveCompletePayload
	h.decode(t, bus.TopicRetrieveComplete, 0, &retrieved)
	assert.Equal(t, prompt.TrackingID, retrieved.TrackingID)
	assert.Equal(t, []string{
		"who hosts the All In podcast",
		"recurring topics covered by the podcast",
	}, retrieved.Analysis.Indices)

	// Response.
	h.waitFor(t, bus.TopicMainPromptComplete, 1)
	var answered bus.MainPromptCompletePayload
	h.decode(t, bus.TopicMainPromptComplete, 0, &answered)
	assert.Equal(t, "The podcast is about politics.", answered.Response.Response)
	assert.Equal(t, core.HashContent(answered.Response.Response), answered.Response.Hash)

	// Codify gates the three validated engrams down to two.
	h.waitFor(t, bus.TopicObservationComplete, 1)
	var observed bus.ObservationCompletePayload
	h.decode(t, bus.TopicObservationComplete, 0, &observed)
	require.Len(t, observed.Observation.EngramList, 2)
	assert.Equal(t, prompt.PromptID, observed.Observation.ParentID)

	// Consolidate completes both engrams with embedded indices.
	h.waitFor(t, bus.TopicEngramComplete, 2)
	h.waitFor(t, bus.TopicIndexComplete, 2)
	var indexDone bus.IndexCompletePayload
	h.decode(t, bus.TopicIndexComplete, 0, &indexDone)
	require.NotEmpty(t, indexDone.Indices)
	for _, idx := range indexDone.Indices {
		assert.NotEmpty(t, idx.Embedding)
	}

	// Retrieve inserts the vectors and reports them; progress bubbles the
	// prompt root to completion.
	h.waitFor(t, bus.TopicIndicesInserted, 2)
	h.waitFor(t, bus.TopicPromptInserted, 1)
	var inserted bus.InsertedPayload
	h.decode(t, bus.TopicPromptInserted, 0, &inserted)
	assert.Equal(t, prompt.PromptID, inserted.ID)

	// The final progress update reports 100%.
	require.Eventually(t, func() bool {
		n := h.count(bus.TopicProgressUpdated)
		if n == 0 {
			return false
		}
		var final bus.ProgressUpdatedPayload
		h.decode(t, bus.TopicProgressUpdated, n-1, &final)
		return final.PercentComplete == 1.0 && final.TrackingID == prompt.TrackingID
	}, 5*time.Second, 10*time.Millisecond)
}

// TestDocumentIngestLifecycle submits a document and follows it to
// document_inserted: scan, observation, consolidation, vector insertion,
// and progress completion of the document root.
func TestDocumentIngestLifecycle(t *testing.T) {
	h := newHarness(t)

	node, err := core.NewFileNode(core.FileNodeRootResource,
		"IntroductiontoQuantumNetworking.pdf", core.FileNodeTypeFile, []string{"resource"})
	require.NoError(t, err)
	h.host.Bus().PublishAsync(bus.TopicSubmitDocument, bus.Encode(node))

	h.waitFor(t, bus.TopicObservationComplete, 1)
	var observed bus.ObservationCompletePayload
	h.decode(t, bus.TopicObservationComplete, 0, &observed)
	assert.Equal(t, node.ID, observed.Observation.ParentID)
	require.NotEmpty(t, observed.Observation.EngramList)
	for _, engram := range observed.Observation.EngramList {
		assert.True(t, engram.IsNativeSource)
	}

	engramCount := len(observed.Observation.EngramList)
	h.waitFor(t, bus.TopicIndicesInserted, engramCount)

	h.waitFor(t, bus.TopicDocumentInserted, 1)
	var inserted bus.InsertedPayload
	h.decode(t, bus.TopicDocumentInserted, 0, &inserted)
	assert.Equal(t, node.ID, inserted.ID)
	assert.Equal(t, node.TrackingID, inserted.TrackingID)
}
