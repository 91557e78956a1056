// Package openai provides the OpenAI-backed embedding plugin.
package openai

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/engramic/engramic/pkg/config"
	"github.com/engramic/engramic/pkg/plugin"
)

const defaultModel = "text-embedding-3-small"

func init() {
	plugin.RegisterEmbedding("openai", func(args map[string]any, _ plugin.Deps) (plugin.Embedding, error) {
		apiKey := os.Getenv(config.EnvOpenAIAPIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("%w: %s", config.ErrMissingEnv, config.EnvOpenAIAPIKey)
		}
		model := defaultModel
		if m, ok := args["model"].(string); ok && m != "" {
			model = m
		}
		client := openai.NewClient(option.WithAPIKey(apiKey))
		return &Embedding{client: client, model: model}, nil
	})
}

// Embedding is the OpenAI embedding backend.
type Embedding struct {
	client openai.Client
	model  string
}

// GenEmbed embeds every input in one API call, order preserved.
func (e *Embedding) GenEmbed(ctx context.Context, inputs []string, _ map[string]any) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		out[int(item.Index)] = vec
	}
	return out, nil
}
