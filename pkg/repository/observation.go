package repository

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/plugin"
)

// ObservationRepository persists observations and builds them from the
// TOML-shaped payloads the validate LLM produces.
type ObservationRepository struct {
	db *plugin.DocumentDBHandle
}

// NewObservationRepository creates the repository over the document-store
// handle.
func NewObservationRepository(db *plugin.DocumentDBHandle) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// Save writes one observation.
func (r *ObservationRepository) Save(ctx context.Context, obs *core.Observation) error {
	doc, err := toDoc(obs)
	if err != nil {
		return err
	}
	return r.db.InsertDocuments(ctx, plugin.TableObservation, []map[string]any{doc})
}

// Load fetches one observation by id.
func (r *ObservationRepository) Load(ctx context.Context, id string) (*core.Observation, error) {
	docs, err := r.db.Fetch(ctx, plugin.TableObservation, []string{id})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("observation %s not found", id)
	}
	var obs core.Observation
	if err := fromDoc(docs[0], &obs); err != nil {
		return nil, err
	}
	return &obs, nil
}

// IsNotMemorable reports whether the validate response declined to extract
// anything ([not_memorable] table present). Not an error: it short-circuits
// codify without raising.
func IsNotMemorable(dict map[string]any) bool {
	_, ok := dict["not_memorable"]
	return ok
}

// ValidateTOMLDict enforces the shape of a validate response: "engram" must
// be a list; every engram needs a string content and a bool
// is_native_source; derived engrams additionally need locations, source_ids,
// and meta_ids lists plus integer accuracy and relevancy.
func ValidateTOMLDict(dict map[string]any) error {
	engrams, ok := dict["engram"].([]any)
	if !ok {
		return fmt.Errorf("%w: engram is not a list", core.ErrValidation)
	}
	for i, raw := range engrams {
		table, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: engram %d is not a table", core.ErrValidation, i)
		}
		if _, ok := table["content"].(string); !ok {
			return fmt.Errorf("%w: engram %d missing string content", core.ErrValidation, i)
		}
		native, ok := table["is_native_source"].(bool)
		if !ok {
			return fmt.Errorf("%w: engram %d missing bool is_native_source", core.ErrValidation, i)
		}
		if native {
			continue
		}
		for _, field := range []string{"locations", "source_ids", "meta_ids"} {
			if _, ok := table[field].([]any); !ok {
				return fmt.Errorf("%w: derived engram %d missing list %s", core.ErrValidation, i, field)
			}
		}
		for _, field := range []string{"accuracy", "relevancy"} {
			if !isInteger(table[field]) {
				return fmt.Errorf("%w: derived engram %d missing integer %s", core.ErrValidation, i, field)
			}
		}
	}
	return nil
}

// NormalizeTOMLDict fills the defaults a validate response may omit, anchored
// to the response it validates: a meta id, source ids equal to the response
// hash, a location naming the producing model, the summary wrapped as an
// unembedded Index, and per-engram ids and creation dates. Native engrams
// inherit the same source/location/meta triple.
func NormalizeTOMLDict(dict map[string]any, response *core.Response) {
	meta, ok := dict["meta"].(map[string]any)
	if !ok {
		meta = make(map[string]any)
		dict["meta"] = meta
	}

	if _, ok := meta["id"].(string); !ok {
		meta["id"] = uuid.NewString()
	}
	metaID := meta["id"].(string)
	meta["type"] = string(core.MetaTypePrompt)
	if _, ok := meta["source_ids"]; !ok {
		meta["source_ids"] = []any{response.Hash}
	}
	if _, ok := meta["locations"]; !ok {
		meta["locations"] = []any{"llm://" + response.Model}
	}
	if text, ok := meta["summary_full"].(string); ok {
		meta["summary_full"] = map[string]any{"text": text}
	}

	engrams, _ := dict["engram"].([]any)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, raw := range engrams {
		table, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := table["id"].(string); !ok {
			table["id"] = uuid.NewString()
		}
		table["created_date"] = now

		native, _ := table["is_native_source"].(bool)
		if native {
			table["source_ids"] = []any{response.Hash}
			table["locations"] = []any{"llm://" + response.Model}
			table["meta_ids"] = []any{metaID}
			continue
		}
		if _, ok := table["source_ids"]; !ok {
			table["source_ids"] = []any{response.Hash}
		}
		if _, ok := table["locations"]; !ok {
			table["locations"] = []any{"llm://" + response.Model}
		}
		if _, ok := table["meta_ids"]; !ok {
			table["meta_ids"] = []any{metaID}
		}
	}
}

// LoadTOMLDict builds an Observation from a validated, normalized TOML
// payload.
func (r *ObservationRepository) LoadTOMLDict(dict map[string]any) (*core.Observation, error) {
	metaTable, ok := dict["meta"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: meta is not a table", core.ErrValidation)
	}
	var meta core.Meta
	if err := fromDoc(metaTable, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	engramTables, _ := dict["engram"].([]any)
	engrams := make([]*core.Engram, 0, len(engramTables))
	for i, raw := range engramTables {
		table, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: engram %d is not a table", core.ErrValidation, i)
		}
		var engram core.Engram
		if err := fromDoc(table, &engram); err != nil {
			return nil, fmt.Errorf("%w: engram %d: %v", core.ErrValidation, i, err)
		}
		engrams = append(engrams, &engram)
	}

	return &core.Observation{
		ID:         uuid.NewString(),
		Meta:       &meta,
		EngramList: engrams,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// isInteger accepts the integer representations a TOML or JSON decoder may
// produce. A float is accepted only when it carries an integral value.
func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int64:
		return true
	case float64:
		return n == math.Trunc(n)
	default:
		return false
	}
}
