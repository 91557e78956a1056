package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/engramic/engramic/pkg/config"
	"github.com/engramic/engramic/pkg/core"
)

// Mode selects how the registry treats backend calls.
type Mode int

// Registry modes.
const (
	// ModeLive invokes backends directly.
	ModeLive Mode = iota
	// ModeReplay routes calls through recorded data (the mock profile).
	ModeReplay
	// ModeRecord invokes live backends and records every call's input key
	// and output value for later replay.
	ModeRecord
)

// LoadError indicates a backend could not be resolved or instantiated.
// Fatal at startup.
type LoadError struct {
	Category string
	Usage    string
	Backend  string
	Err      error
}

// Error returns the formatted error message.
func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin %s.%s (backend %q): %v", e.Category, e.Usage, e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error { return e.Err }

// Deps carries shared resources into backend factories.
type Deps struct {
	Mock *MockStore
}

// Backend factory signatures, one per category.
type (
	LLMFactory       func(args map[string]any, deps Deps) (LLM, error)
	EmbeddingFactory func(args map[string]any, deps Deps) (Embedding, error)
	VectorDBFactory  func(args map[string]any, deps Deps) (VectorDB, error)
	DocumentFactory  func(args map[string]any, deps Deps) (DocumentDB, error)
)

var (
	factoryMu          sync.RWMutex
	llmFactories       = make(map[string]LLMFactory)
	embeddingFactories = make(map[string]EmbeddingFactory)
	vectorFactories    = make(map[string]VectorDBFactory)
	documentFactories  = make(map[string]DocumentFactory)
)

// RegisterLLM makes an LLM backend available under the given profile name.
// Backends call this from init(); duplicate names panic.
func RegisterLLM(name string, f LLMFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := llmFactories[name]; dup {
		panic("plugin: duplicate llm backend " + name)
	}
	llmFactories[name] = f
}

// RegisterEmbedding makes an embedding backend available under the given name.
func RegisterEmbedding(name string, f EmbeddingFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := embeddingFactories[name]; dup {
		panic("plugin: duplicate embedding backend " + name)
	}
	embeddingFactories[name] = f
}

// RegisterVectorDB makes a vector-store backend available under the given name.
func RegisterVectorDB(name string, f VectorDBFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := vectorFactories[name]; dup {
		panic("plugin: duplicate vector_db backend " + name)
	}
	vectorFactories[name] = f
}

// RegisterDocumentDB makes a document-store backend available under the given name.
func RegisterDocumentDB(name string, f DocumentFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := documentFactories[name]; dup {
		panic("plugin: duplicate db backend " + name)
	}
	documentFactories[name] = f
}

// Registry resolves usage slots of the active profile to backend instances
// and exposes them through uniform handles. Instances are created once per
// (category, usage) and reused.
type Registry struct {
	profile config.Profile
	mode    Mode
	mock    *MockStore

	mu        sync.Mutex
	instances map[string]any
}

// NewRegistry builds a registry over a resolved profile. The mock store may
// be nil in live mode.
func NewRegistry(profile config.Profile, mode Mode, mock *MockStore) *Registry {
	if mock == nil {
		mock = NewMockStore()
	}
	return &Registry{
		profile:   profile,
		mode:      mode,
		mock:      mock,
		instances: make(map[string]any),
	}
}

// Mode returns the registry's call mode.
func (r *Registry) Mode() Mode { return r.mode }

// MockData returns the recorded-data store (populated in record mode, read
// in replay mode).
func (r *Registry) MockData() *MockStore { return r.mock }

func (r *Registry) spec(category, usage string) (config.PluginSpec, error) {
	usages, ok := r.profile[category]
	if !ok {
		return config.PluginSpec{}, &LoadError{Category: category, Usage: usage, Err: fmt.Errorf("category not in profile")}
	}
	spec, ok := usages[usage]
	if !ok {
		return config.PluginSpec{}, &LoadError{Category: category, Usage: usage, Err: fmt.Errorf("usage not in profile")}
	}
	return spec, nil
}

func (r *Registry) instance(category, usage string, build func(spec config.PluginSpec) (any, error)) (any, map[string]any, error) {
	spec, err := r.spec(category, usage)
	if err != nil {
		return nil, nil, err
	}

	key := category + "/" + usage
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[key]; ok {
		return inst, spec.Args, nil
	}
	inst, err := build(spec)
	if err != nil {
		return nil, nil, &LoadError{Category: category, Usage: usage, Backend: spec.Name, Err: err}
	}
	r.instances[key] = inst
	return inst, spec.Args, nil
}

// LLM resolves the LLM backend for a usage slot.
func (r *Registry) LLM(usage string) (*LLMHandle, error) {
	inst, args, err := r.instance(config.CategoryLLM, usage, func(spec config.PluginSpec) (any, error) {
		factoryMu.RLock()
		f, ok := llmFactories[spec.Name]
		factoryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown backend")
		}
		return f(spec.Args, Deps{Mock: r.mock})
	})
	if err != nil {
		return nil, err
	}
	return &LLMHandle{registry: r, backend: inst.(LLM), Usage: usage, Args: args}, nil
}

// Embedding resolves the embedding backend for a usage slot.
func (r *Registry) Embedding(usage string) (*EmbeddingHandle, error) {
	inst, args, err := r.instance(config.CategoryEmbedding, usage, func(spec config.PluginSpec) (any, error) {
		factoryMu.RLock()
		f, ok := embeddingFactories[spec.Name]
		factoryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown backend")
		}
		return f(spec.Args, Deps{Mock: r.mock})
	})
	if err != nil {
		return nil, err
	}
	return &EmbeddingHandle{registry: r, backend: inst.(Embedding), Usage: usage, Args: args}, nil
}

// VectorDB resolves the vector-store backend for a usage slot.
func (r *Registry) VectorDB(usage string) (*VectorDBHandle, error) {
	inst, args, err := r.instance(config.CategoryVectorDB, usage, func(spec config.PluginSpec) (any, error) {
		factoryMu.RLock()
		f, ok := vectorFactories[spec.Name]
		factoryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown backend")
		}
		return f(spec.Args, Deps{Mock: r.mock})
	})
	if err != nil {
		return nil, err
	}
	return &VectorDBHandle{registry: r, backend: inst.(VectorDB), Usage: usage, Args: args}, nil
}

// DocumentDB resolves the document-store backend for a usage slot.
func (r *Registry) DocumentDB(usage string) (*DocumentDBHandle, error) {
	inst, args, err := r.instance(config.CategoryDB, usage, func(spec config.PluginSpec) (any, error) {
		factoryMu.RLock()
		f, ok := documentFactories[spec.Name]
		factoryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown backend")
		}
		return f(spec.Args, Deps{Mock: r.mock})
	})
	if err != nil {
		return nil, err
	}
	return &DocumentDBHandle{backend: inst.(DocumentDB), Usage: usage, Args: args}, nil
}

// callArgs returns the handle args extended with the usage tag and, when the
// registry is not live, the mock lookup key for this call.
func (r *Registry) callArgs(base map[string]any, caller, usage string, index int) map[string]any {
	args := make(map[string]any, len(base)+2)
	for k, v := range base {
		args[k] = v
	}
	args[usageTagArg] = usage
	if r.mode != ModeLive {
		args[mockKeyArg] = MockKey(caller, usage, index)
	}
	return args
}

// record stores a live call's output when generating mock data.
func (r *Registry) record(caller, usage string, index int, value any) {
	if r.mode != ModeRecord {
		return
	}
	r.mock.Record(MockKey(caller, usage, index), value)
}

// LLMHandle is the uniform invocation handle for one LLM usage slot.
// Caller is the invoking pipeline function name and index its position
// within a batch; together they key the mock recording for the call.
type LLMHandle struct {
	registry *Registry
	backend  LLM

	Usage string
	Args  map[string]any
}

// Submit runs one LLM call.
func (h *LLMHandle) Submit(ctx context.Context, caller string, index int, prompt string, schema map[string]string, images []string) (string, error) {
	args := h.registry.callArgs(h.Args, caller, h.Usage, index)
	out, err := h.backend.Submit(ctx, prompt, schema, images, args)
	if err != nil {
		return "", fmt.Errorf("llm %s: %w", h.Usage, err)
	}
	h.registry.record(caller, h.Usage, index, out)
	return out, nil
}

// SubmitStreaming runs one streaming LLM call, forwarding every packet to
// the sink and returning the accumulated text.
func (h *LLMHandle) SubmitStreaming(ctx context.Context, caller string, prompt string, sink StreamSink) (string, error) {
	args := h.registry.callArgs(h.Args, caller, h.Usage, 0)
	out, err := h.backend.SubmitStreaming(ctx, prompt, args, sink)
	if err != nil {
		return "", fmt.Errorf("llm %s (streaming): %w", h.Usage, err)
	}
	h.registry.record(caller, h.Usage, 0, out)
	return out, nil
}

// Model returns the configured model name, if any.
func (h *LLMHandle) Model() string {
	if m, ok := h.Args["model"].(string); ok {
		return m
	}
	return "mock"
}

// EmbeddingHandle is the uniform invocation handle for the embedding slot.
type EmbeddingHandle struct {
	registry *Registry
	backend  Embedding

	Usage string
	Args  map[string]any
}

// GenEmbed embeds each input string, order preserved.
func (h *EmbeddingHandle) GenEmbed(ctx context.Context, caller string, index int, inputs []string) ([][]float32, error) {
	args := h.registry.callArgs(h.Args, caller, h.Usage, index)
	out, err := h.backend.GenEmbed(ctx, inputs, args)
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", h.Usage, err)
	}
	h.registry.record(caller, h.Usage, index, out)
	return out, nil
}

// VectorDBHandle is the uniform invocation handle for the vector store.
type VectorDBHandle struct {
	registry *Registry
	backend  VectorDB

	Usage string
	Args  map[string]any
}

// Insert adds an engram's or meta's indices to a collection.
func (h *VectorDBHandle) Insert(ctx context.Context, collection string, indices []core.Index, objID string, filter VectorFilter) error {
	if err := h.backend.Insert(ctx, collection, indices, objID, filter, h.Args); err != nil {
		return fmt.Errorf("vector_db insert (%s): %w", collection, err)
	}
	return nil
}

// Query returns object ids within the cosine-distance threshold.
func (h *VectorDBHandle) Query(ctx context.Context, caller string, index int, collection string, embedding []float32, filter VectorFilter) ([]string, error) {
	args := h.registry.callArgs(h.Args, caller, h.Usage, index)
	out, err := h.backend.Query(ctx, collection, embedding, filter, args)
	if err != nil {
		return nil, fmt.Errorf("vector_db query (%s): %w", collection, err)
	}
	h.registry.record(caller, h.Usage, index, out)
	return out, nil
}

// DocumentDBHandle is the uniform invocation handle for the document store.
type DocumentDBHandle struct {
	backend DocumentDB

	Usage string
	Args  map[string]any
}

// Connect opens the backing store.
func (h *DocumentDBHandle) Connect(ctx context.Context) error {
	return h.backend.Connect(ctx)
}

// Close releases the backing store.
func (h *DocumentDBHandle) Close(ctx context.Context) error {
	return h.backend.Close(ctx)
}

// Fetch loads documents by id from a table.
func (h *DocumentDBHandle) Fetch(ctx context.Context, table Table, ids []string) ([]map[string]any, error) {
	docs, err := h.backend.Fetch(ctx, table, ids)
	if err != nil {
		return nil, fmt.Errorf("db fetch %s: %w", table, err)
	}
	return docs, nil
}

// InsertDocuments writes documents to a table.
func (h *DocumentDBHandle) InsertDocuments(ctx context.Context, table Table, docs []map[string]any) error {
	if err := h.backend.InsertDocuments(ctx, table, docs); err != nil {
		return fmt.Errorf("db insert %s: %w", table, err)
	}
	return nil
}
