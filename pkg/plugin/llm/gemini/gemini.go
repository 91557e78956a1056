// Package gemini provides the Gemini-backed LLM plugin. One client is shared
// across usage slots; the model comes from the profile args of each slot.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	genai "google.golang.org/genai"

	"github.com/engramic/engramic/pkg/config"
	"github.com/engramic/engramic/pkg/plugin"
)

const defaultModel = "gemini-2.5-flash"

func init() {
	plugin.RegisterLLM("gemini", func(args map[string]any, _ plugin.Deps) (plugin.LLM, error) {
		apiKey := os.Getenv(config.EnvGeminiAPIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("%w: %s", config.ErrMissingEnv, config.EnvGeminiAPIKey)
		}
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		return &LLM{client: client, model: modelFromArgs(args)}, nil
	})
}

// LLM is the Gemini language-model backend.
type LLM struct {
	client *genai.Client
	model  string
}

// Submit runs one generation call. A non-nil schema constrains the response
// to a JSON object with the given field types; images are attached as inline
// PNG parts.
func (g *LLM) Submit(ctx context.Context, prompt string, schema map[string]string, images []string, args map[string]any) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	for _, img := range images {
		raw, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			return "", fmt.Errorf("decode page image: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(raw, "image/png"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{}
	if schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toSchema(schema)
	}

	resp, err := g.client.Models.GenerateContent(ctx, pickModel(args, g.model), contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return stripFences(resp.Text()), nil
}

// SubmitStreaming runs one streaming generation call, forwarding each chunk
// to the sink and returning the accumulated text. The terminal packet is
// sent after the stream drains.
func (g *LLM) SubmitStreaming(ctx context.Context, prompt string, args map[string]any, sink plugin.StreamSink) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(
		[]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser)}

	var full strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, pickModel(args, g.model), contents, nil) {
		if err != nil {
			return "", fmt.Errorf("gemini stream: %w", err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		if sink != nil {
			sink.Send(plugin.StreamPacket{Text: chunk})
		}
	}
	if sink != nil {
		sink.Send(plugin.StreamPacket{IsTerminal: true, Marker: "End"})
	}
	return full.String(), nil
}

func modelFromArgs(args map[string]any) string {
	if m, ok := args["model"].(string); ok && m != "" {
		return m
	}
	return defaultModel
}

func pickModel(args map[string]any, fallback string) string {
	if m, ok := args["model"].(string); ok && m != "" {
		return m
	}
	return fallback
}

// toSchema converts the engine's field-type map into a Gemini response
// schema. Unknown types decode as strings.
func toSchema(fields map[string]string) *genai.Schema {
	props := make(map[string]*genai.Schema, len(fields))
	required := make([]string, 0, len(fields))
	for name, kind := range fields {
		required = append(required, name)
		switch kind {
		case "bool":
			props[name] = &genai.Schema{Type: genai.TypeBoolean}
		case "int":
			props[name] = &genai.Schema{Type: genai.TypeInteger}
		case "string_array":
			props[name] = &genai.Schema{
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			}
		default:
			props[name] = &genai.Schema{Type: genai.TypeString}
		}
	}
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

// stripFences removes a markdown code-fence wrapper from a response, which
// Gemini adds around TOML output despite instructions not to.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		// Drop the language tag line (```toml).
		if lang := strings.TrimSpace(trimmed[:nl]); lang == "toml" || lang == "json" || lang == "" {
			trimmed = trimmed[nl+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
