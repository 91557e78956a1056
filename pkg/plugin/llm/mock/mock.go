// Package mock provides the deterministic LLM backend used by the mock
// profile. Calls are answered from recorded data when a recording exists for
// the call's key, falling back to fixed canned responses per usage slot so
// the pipeline runs end to end without any recording on disk.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engramic/engramic/pkg/plugin"
)

func init() {
	plugin.RegisterLLM("mock", func(_ map[string]any, deps plugin.Deps) (plugin.LLM, error) {
		return &LLM{store: deps.Mock}, nil
	})
}

// LLM is the deterministic mock language model.
type LLM struct {
	store *plugin.MockStore
}

// responseTokens is the canned streaming answer, one packet per element.
var responseTokens = []string{"The", " podcast", " is", " about", " politics", "."}

// Submit answers from the recording when present, otherwise from the canned
// response for the call's usage slot.
func (m *LLM) Submit(_ context.Context, _ string, _ map[string]string, _ []string, args map[string]any) (string, error) {
	if key := plugin.MockKeyFromArgs(args); key != "" && m.store != nil {
		var recorded string
		found, err := m.store.Lookup(key, &recorded)
		if err != nil {
			return "", err
		}
		if found {
			return recorded, nil
		}
	}
	return canned(plugin.UsageTag(args))
}

// SubmitStreaming replays the canned answer token by token through the sink.
func (m *LLM) SubmitStreaming(_ context.Context, _ string, args map[string]any, sink plugin.StreamSink) (string, error) {
	if plugin.UsageTag(args) != "response_main" {
		return "", fmt.Errorf("mock llm: no streaming response for usage %q", plugin.UsageTag(args))
	}
	var full strings.Builder
	for i, token := range responseTokens {
		full.WriteString(token)
		terminal := i == len(responseTokens)-1
		marker := ""
		if terminal {
			marker = "End"
		}
		if sink != nil {
			sink.Send(plugin.StreamPacket{Text: token, IsTerminal: terminal, Marker: marker})
		}
	}
	return full.String(), nil
}

func canned(usage string) (string, error) {
	switch usage {
	case "retrieve_gen_conversation_direction":
		return marshal(map[string]any{
			"user_intent":      "Learn what the All In podcast discusses.",
			"working_memory":   "",
			"perform_research": false,
		})
	case "retrieve_prompt_analysis":
		return marshal(map[string]any{
			"response_length":  "short",
			"user_prompt_type": "engram",
			"thinking_steps":   []string{"Identify the podcast.", "Summarize its recurring topics."},
		})
	case "retrieve_gen_index", "consolidate_gen_indices":
		return marshal(map[string]any{
			"index_text_array": []string{
				"who hosts the All In podcast",
				"recurring topics covered by the podcast",
			},
		})
	case "response_main":
		return strings.Join(responseTokens, ""), nil
	case "codify_validate":
		return validateTOML, nil
	case "consolidate_summary":
		return "The podcast discusses markets, biotech, and government funding of venture capital.", nil
	case "sense_meta":
		return marshal(map[string]any{
			"file_path":       "resource",
			"file_name":       "IntroductiontoQuantumNetworking.pdf",
			"subject":         "quantum networking",
			"audience":        "graduate students",
			"document_title":  "Introduction to Quantum Networking",
			"document_format": "textbook",
			"document_type":   "pdf",
			"toc":             "1. Entanglement 2. Repeaters 3. Protocols",
			"summary_initial": "A survey of quantum networking fundamentals.",
			"author":          "R. Van Meter",
			"date":            "2014",
			"version":         "1.0",
		})
	case "sense_scan":
		return "<page><section>Entanglement</section><h1>Distributing Entanglement</h1>" +
			"<p>Quantum repeaters extend entanglement across long distances by swapping " +
			"entangled pairs at intermediate nodes.</p></page>", nil
	case "sense_full_summary":
		return marshal(map[string]any{
			"summary_full": "The document surveys quantum networking: entanglement distribution, repeaters, and network protocols.",
			"keywords":     []string{"quantum", "networking", "entanglement", "repeaters"},
		})
	default:
		return "", fmt.Errorf("mock llm: no canned response for usage %q", usage)
	}
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("mock llm: %w", err)
	}
	return string(data), nil
}

// validateTOML is the canned codify validation output: a meta table plus
// scored engrams. Two engrams clear the accuracy/relevancy gate; one does
// not.
const validateTOML = `
[meta]
keywords = ["inflation", "investors", "biotech", "medicine"]
summary_initial = "The All In podcast discusses the current state of the market, biotech, and the role of government in venture capital funding."
summary_full = "The All In podcast discusses the current state of the market, biotech, and the role of government in venture capital funding."

[[engram]]
accuracy = 4
relevancy = 4
content = "The podcast is about politics."
is_native_source = false
locations = ["file:///corpus/allin_podcast/episodes/167.csv", "file:///corpus/allin_podcast/episodes/169.csv"]
source_ids = ["770g0612-f4ab-63e5-d927-778877663333", "660f9511-e39b-52d5-c817-667766552222"]
meta_ids = ["a1b2c3d4-e5f6-4711-8097-92a8c3f6d5e7"]

[[engram]]
accuracy = 2
relevancy = 1
content = "The podcast is about tigers."
is_native_source = false
locations = ["file:///corpus/allin_podcast/episodes/168.csv"]
source_ids = ["660f9511-e39b-52d5-c817-667766552222"]
meta_ids = ["b2c3d4e5-f6a7-4811-8097-92a8c3f6d5e7"]

[[engram]]
accuracy = 4
relevancy = 4
content = "The podcast is about technology."
is_native_source = false
locations = ["file:///corpus/allin_podcast/episodes/169.csv"]
source_ids = ["770g0612-f4ab-63e5-d927-778877663333"]
meta_ids = ["c3d4e5f6-a7b8-5911-8097-92a8c3f6d5e7"]
`
