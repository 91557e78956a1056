package response

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/config"
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/service"
	_ "github.com/engramic/engramic/pkg/plugin/db/mock"
	_ "github.com/engramic/engramic/pkg/plugin/embedding/mock"
	_ "github.com/engramic/engramic/pkg/plugin/llm/mock"
	_ "github.com/engramic/engramic/pkg/plugin/vectordb/mock"
)

// chanSink collects streaming packets for assertions.
type chanSink struct {
	mu      sync.Mutex
	packets []plugin.StreamPacket
}

func (c *chanSink) Send(packet plugin.StreamPacket) {
	c.mu.Lock()
	c.packets = append(c.packets, packet)
	c.mu.Unlock()
}

func (c *chanSink) all() []plugin.StreamPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]plugin.StreamPacket, len(c.packets))
	copy(out, c.packets)
	return out
}

func TestRetrieveCompleteProducesStreamedResponse(t *testing.T) {
	profile, err := config.Builtin().Resolve("mock")
	require.NoError(t, err)
	registry := plugin.NewRegistry(profile, plugin.ModeReplay, nil)

	sink := &chanSink{}
	h := host.New(registry, func(h *host.Host) service.Service {
		return NewService(h, sink)
	})
	require.NoError(t, h.Run(context.Background()))
	defer func() { _ = h.Shutdown(context.Background()) }()

	completed := make(chan bus.MainPromptCompletePayload, 1)
	h.Bus().Subscribe(bus.TopicMainPromptComplete, func(p map[string]any) {
		var msg bus.MainPromptCompletePayload
		require.NoError(t, bus.Decode(p, &msg))
		completed <- msg
	})

	prompt, err := core.NewPrompt("Tell me about the All In podcast.",
		core.WithTrainingMode(true))
	require.NoError(t, err)

	h.Bus().PublishAsync(bus.TopicRetrieveComplete, bus.Encode(bus.RetrieveCompletePayload{
		AskID:      "ask-1",
		TrackingID: prompt.TrackingID,
		Prompt:     *prompt,
		Analysis:   core.PromptAnalysis{ResponseLength: "short"},
		RetrieveResult: core.RetrieveResult{
			AskID: "ask-1",
			ConversationDirection: core.ConversationDirection{
				UserIntent: "Learn what the All In podcast discusses.",
			},
		},
	}))

	var msg bus.MainPromptCompletePayload
	select {
	case msg = <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("main_prompt_complete never published")
	}

	assert.Equal(t, "The podcast is about politics.", msg.Response.Response)
	assert.Equal(t, core.HashContent(msg.Response.Response), msg.Response.Hash)
	assert.Equal(t, "ask-1", msg.Response.RetrieveResult.AskID)
	assert.True(t, msg.Prompt.TrainingMode)

	// The stream carried every fragment and a terminal marker, and the
	// concatenated fragments equal the full response.
	packets := sink.all()
	require.NotEmpty(t, packets)
	var full string
	for _, p := range packets {
		full += p.Text
	}
	assert.Equal(t, msg.Response.Response, full)
	last := packets[len(packets)-1]
	assert.True(t, last.IsTerminal)
	assert.Equal(t, "End", last.Marker)
}
