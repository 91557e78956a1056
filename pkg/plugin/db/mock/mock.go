// Package mock provides the in-memory document store for the mock profile:
// per-table maps keyed by document id, insert-or-replace semantics.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/engramic/engramic/pkg/plugin"
)

func init() {
	plugin.RegisterDocumentDB("mock", func(_ map[string]any, _ plugin.Deps) (plugin.DocumentDB, error) {
		return &DocumentDB{tables: make(map[plugin.Table]map[string]map[string]any)}, nil
	})
}

// DocumentDB is the in-memory mock document store.
type DocumentDB struct {
	mu     sync.RWMutex
	tables map[plugin.Table]map[string]map[string]any
}

// Connect is a no-op for the in-memory store.
func (m *DocumentDB) Connect(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *DocumentDB) Close(_ context.Context) error { return nil }

// Fetch returns the documents found for the given ids; missing ids are
// silently absent from the result.
func (m *DocumentDB) Fetch(_ context.Context, table plugin.Table, ids []string) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.tables[table]
	var out []map[string]any
	for _, id := range ids {
		if doc, ok := rows[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// InsertDocuments stores each document under its required "id" field,
// replacing any prior version.
func (m *DocumentDB) InsertDocuments(_ context.Context, table plugin.Table, docs []map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table]
	if rows == nil {
		rows = make(map[string]map[string]any)
		m.tables[table] = rows
	}
	for _, doc := range docs {
		id, ok := doc["id"].(string)
		if !ok || id == "" {
			return fmt.Errorf("document for table %s has no id", table)
		}
		rows[id] = doc
	}
	return nil
}
