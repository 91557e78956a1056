// Package plugin defines the uniform backend contracts of the engine — LLM,
// embedding, vector store, document store — and the registry that resolves a
// profile to concrete implementations. Backends register themselves by name;
// the active profile decides which one serves each usage slot.
package plugin

import (
	"context"

	"github.com/engramic/engramic/pkg/core"
)

// Table names the closed set of document-store tables.
type Table string

// Document-store tables.
const (
	TableEngram      Table = "engram"
	TableMeta        Table = "meta"
	TableObservation Table = "observation"
	TableHistory     Table = "history"
	TableDocument    Table = "document"
	TableProcess     Table = "process"
)

// Vector collections.
const (
	CollectionMain = "main"
	CollectionMeta = "meta"
)

// StreamPacket is one fragment of a streaming LLM response, relayed verbatim
// to the websocket surface.
type StreamPacket struct {
	Text       string `json:"text"`
	IsTerminal bool   `json:"is_terminal"`
	Marker     string `json:"marker,omitempty"`
}

// StreamSink receives streaming packets as they are produced.
type StreamSink interface {
	Send(packet StreamPacket)
}

// LLM is the language-model backend contract. Submit returns the full
// response text; a non-nil schema constrains the decode to a JSON object
// with the given field types, and implementations must strip code-fence
// wrappers from TOML responses. Images are base64-encoded PNGs.
type LLM interface {
	Submit(ctx context.Context, prompt string, schema map[string]string, images []string, args map[string]any) (string, error)
	SubmitStreaming(ctx context.Context, prompt string, args map[string]any, sink StreamSink) (string, error)
}

// Embedding is the embedding backend contract: one vector per input string,
// order preserved.
type Embedding interface {
	GenEmbed(ctx context.Context, inputs []string, args map[string]any) ([][]float32, error)
}

// VectorFilter scopes a vector operation to repos, entity types, and
// locations. Nil slices mean "no constraint" except RepoIDs, which the
// pipelines always populate (the reserved null repo when unfiltered).
type VectorFilter struct {
	RepoIDs   []string
	Types     []string
	Locations []string
}

// VectorDB is the vector-store backend contract. The distance metric is
// cosine; Query returns object ids whose distance is below args["threshold"],
// capped at args["n_results"].
type VectorDB interface {
	Insert(ctx context.Context, collection string, indices []core.Index, objID string, filter VectorFilter, args map[string]any) error
	Query(ctx context.Context, collection string, embedding []float32, filter VectorFilter, args map[string]any) ([]string, error)
}

// DocumentDB is the document-store backend contract. Documents are free-form
// maps with a required "id" field.
type DocumentDB interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Fetch(ctx context.Context, table Table, ids []string) ([]map[string]any, error)
	InsertDocuments(ctx context.Context, table Table, docs []map[string]any) error
}
