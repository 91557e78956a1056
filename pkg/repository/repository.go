// Package repository provides typed persistence facades over the
// document-store plugin, one per entity. Engram and meta batch reads go
// through bounded LRU caches; writes go straight to the backend and
// deliberately do not populate the cache (single-process operation needs no
// invalidation).
package repository

import (
	"encoding/json"
	"fmt"
)

// cacheSize bounds each repository's LRU cache.
const cacheSize = 1000

// toDoc converts an entity to the free-form document map the store accepts.
func toDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode %T as document: %w", v, err)
	}
	return doc, nil
}

// fromDoc converts a document map back into a typed entity.
func fromDoc(doc map[string]any, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode document into %T: %w", out, err)
	}
	return nil
}
