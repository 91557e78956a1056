package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/host"
)

type captured struct {
	mu       sync.Mutex
	updates  []bus.ProgressUpdatedPayload
	inserted []bus.InsertedPayload
}

func (c *captured) lastUpdate() (bus.ProgressUpdatedPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.updates) == 0 {
		return bus.ProgressUpdatedPayload{}, false
	}
	return c.updates[len(c.updates)-1], true
}

func startProgress(t *testing.T) (*host.Host, *Service, *captured) {
	t.Helper()
	h := host.New(nil, NewService)
	require.NoError(t, h.Run(context.Background()))
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })

	svc, ok := h.GetService("ProgressService")
	require.True(t, ok)

	c := &captured{}
	h.Bus().Subscribe(bus.TopicProgressUpdated, func(p map[string]any) {
		var msg bus.ProgressUpdatedPayload
		require.NoError(t, bus.Decode(p, &msg))
		c.mu.Lock()
		c.updates = append(c.updates, msg)
		c.mu.Unlock()
	})
	for _, topic := range []string{bus.TopicPromptInserted, bus.TopicDocumentInserted, bus.TopicLessonCompleted} {
		h.Bus().Subscribe(topic, func(p map[string]any) {
			var msg bus.InsertedPayload
			require.NoError(t, bus.Decode(p, &msg))
			c.mu.Lock()
			c.inserted = append(c.inserted, msg)
			c.mu.Unlock()
		})
	}
	return h, svc.(*Service), c
}

// TestBubbleUpCompletesRoot drives the full create→insert lifecycle of one
// prompt: prompt → observation → two engrams → two indices each. Inserting
// every index must bubble completion to the root, emit prompt_inserted and a
// 100% progress update, and tear the whole subtree down.
func TestBubbleUpCompletesRoot(t *testing.T) {
	h, svc, c := startProgress(t)
	b := h.Bus()

	const tracking = "track-1"
	b.PublishAsync(bus.TopicPromptCreated, bus.Encode(bus.NodeCreatedPayload{
		ID: "prompt-1", TrackingID: tracking,
	}))
	b.PublishAsync(bus.TopicObservationCreated, bus.Encode(bus.NodeCreatedPayload{
		ID: "obs-1", ParentID: "prompt-1", TrackingID: tracking,
	}))
	b.PublishAsync(bus.TopicEngramsCreated, bus.Encode(bus.EngramsCreatedPayload{
		ParentID: "obs-1", TrackingID: tracking,
		EngramIDArray: []string{"engram-1", "engram-2"},
	}))
	b.PublishAsync(bus.TopicIndicesCreated, bus.Encode(bus.IndexBatchPayload{
		ParentID: "engram-1", TrackingID: tracking, IndexIDArray: []string{"i1", "i2"},
	}))
	b.PublishAsync(bus.TopicIndicesCreated, bus.Encode(bus.IndexBatchPayload{
		ParentID: "engram-2", TrackingID: tracking, IndexIDArray: []string{"i3", "i4"},
	}))

	// First engram finishes; the root is still incomplete.
	b.PublishAsync(bus.TopicIndicesInserted, bus.Encode(bus.IndexBatchPayload{
		ParentID: "engram-1", TrackingID: tracking, IndexIDArray: []string{"i1", "i2"},
	}))
	require.Eventually(t, func() bool {
		last, ok := c.lastUpdate()
		return ok && last.PercentComplete == 0.5
	}, time.Second, 5*time.Millisecond)

	last, _ := c.lastUpdate()
	assert.Equal(t, "prompt-1", last.ID)
	assert.Equal(t, ItemTypePrompt, last.ProgressType)
	assert.Equal(t, tracking, last.TrackingID)

	// Second engram finishes; the root completes.
	b.PublishAsync(bus.TopicIndicesInserted, bus.Encode(bus.IndexBatchPayload{
		ParentID: "engram-2", TrackingID: tracking, IndexIDArray: []string{"i3", "i4"},
	}))
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.inserted) == 1
	}, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	assert.Equal(t, "prompt-1", c.inserted[0].ID)
	c.mu.Unlock()

	last, _ = c.lastUpdate()
	assert.Equal(t, 1.0, last.PercentComplete)

	// After root completion the entire subtree and tracking entry are gone.
	assert.Eventually(t, func() bool {
		return len(svc.nodes) == 0 && len(svc.parentOf) == 0 && len(svc.tracking) == 0
	}, time.Second, 5*time.Millisecond)
}

// TestPartialInsertDoesNotBubble verifies a node with remaining incomplete
// children stops the walk.
func TestPartialInsertDoesNotBubble(t *testing.T) {
	h, svc, c := startProgress(t)
	b := h.Bus()

	const tracking = "track-2"
	b.PublishAsync(bus.TopicDocumentCreated, bus.Encode(bus.NodeCreatedPayload{
		ID: "doc-1", TrackingID: tracking,
	}))
	b.PublishAsync(bus.TopicObservationCreated, bus.Encode(bus.NodeCreatedPayload{
		ID: "obs-1", ParentID: "doc-1", TrackingID: tracking,
	}))
	b.PublishAsync(bus.TopicEngramsCreated, bus.Encode(bus.EngramsCreatedPayload{
		ParentID: "obs-1", TrackingID: tracking, EngramIDArray: []string{"engram-1"},
	}))
	b.PublishAsync(bus.TopicIndicesCreated, bus.Encode(bus.IndexBatchPayload{
		ParentID: "engram-1", TrackingID: tracking, IndexIDArray: []string{"i1", "i2"},
	}))
	b.PublishAsync(bus.TopicIndicesInserted, bus.Encode(bus.IndexBatchPayload{
		ParentID: "engram-1", TrackingID: tracking, IndexIDArray: []string{"i1"},
	}))

	require.Eventually(t, func() bool {
		last, ok := c.lastUpdate()
		return ok && last.PercentComplete == 0.5 && last.ProgressType == ItemTypeDocument
	}, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	assert.Empty(t, c.inserted)
	c.mu.Unlock()
	assert.NotEmpty(t, svc.nodes)
}

func TestRootCreationReportsInitialProgress(t *testing.T) {
	h, _, c := startProgress(t)

	h.Bus().PublishAsync(bus.TopicLessonCreated, bus.Encode(bus.NodeCreatedPayload{
		ID: "lesson-1", TrackingID: "track-3", TargetID: "doc-9",
	}))

	require.Eventually(t, func() bool {
		last, ok := c.lastUpdate()
		return ok && last.ProgressType == ItemTypeLesson
	}, time.Second, 5*time.Millisecond)

	last, _ := c.lastUpdate()
	assert.Equal(t, initialPercent, last.PercentComplete)
	assert.Equal(t, "doc-9", last.TargetID)
}
