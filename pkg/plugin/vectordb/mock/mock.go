// Package mock provides the in-memory vector store for the mock profile.
// Entries live in per-collection slices; Query runs an exact cosine scan
// honoring the same repo/type/location filters and threshold semantics as
// the live backend.
package mock

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/plugin"
)

func init() {
	plugin.RegisterVectorDB("mock", func(_ map[string]any, deps plugin.Deps) (plugin.VectorDB, error) {
		return &VectorDB{store: deps.Mock, collections: make(map[string][]entry)}, nil
	})
}

type entry struct {
	objID     string
	embedding []float32
	repoID    string
	entryType string
	location  string
}

// VectorDB is the in-memory mock vector store.
type VectorDB struct {
	store *plugin.MockStore

	mu          sync.RWMutex
	collections map[string][]entry
}

// Insert stores one entry per index under the object id.
func (m *VectorDB) Insert(_ context.Context, collection string, indices []core.Index, objID string, filter plugin.VectorFilter, _ map[string]any) error {
	repoID := core.ReservedNullRepo
	if len(filter.RepoIDs) > 0 {
		repoID = filter.RepoIDs[0]
	}
	var entryType, location string
	if len(filter.Types) > 0 {
		entryType = filter.Types[0]
	}
	if len(filter.Locations) > 0 {
		location = filter.Locations[0]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range indices {
		m.collections[collection] = append(m.collections[collection], entry{
			objID:     objID,
			embedding: idx.Embedding,
			repoID:    repoID,
			entryType: entryType,
			location:  location,
		})
	}
	return nil
}

// Query returns ids of entries within the cosine-distance threshold, ordered
// nearest first, deduplicated, capped at n_results. Recorded data takes
// precedence when present.
func (m *VectorDB) Query(_ context.Context, collection string, embedding []float32, filter plugin.VectorFilter, args map[string]any) ([]string, error) {
	if key := plugin.MockKeyFromArgs(args); key != "" && m.store != nil {
		var recorded []string
		found, err := m.store.Lookup(key, &recorded)
		if err != nil {
			return nil, err
		}
		if found {
			return recorded, nil
		}
	}

	threshold := 0.5
	if t, ok := args["threshold"].(float64); ok {
		threshold = t
	}
	nResults := 20
	if n, ok := args["n_results"].(int64); ok && n > 0 {
		nResults = int(n)
	}

	type hit struct {
		objID    string
		distance float64
	}

	m.mu.RLock()
	var hits []hit
	for _, e := range m.collections[collection] {
		if len(filter.RepoIDs) > 0 && !slices.Contains(filter.RepoIDs, e.repoID) {
			continue
		}
		if len(filter.Types) > 0 && !slices.Contains(filter.Types, e.entryType) {
			continue
		}
		if len(filter.Locations) > 0 && !slices.Contains(filter.Locations, e.location) {
			continue
		}
		d := cosineDistance(embedding, e.embedding)
		if d < threshold {
			hits = append(hits, hit{objID: e.objID, distance: d})
		}
	}
	m.mu.RUnlock()

	slices.SortStableFunc(hits, func(a, b hit) int {
		switch {
		case a.distance < b.distance:
			return -1
		case a.distance > b.distance:
			return 1
		default:
			return 0
		}
	})

	seen := make(map[string]bool)
	var ids []string
	for _, h := range hits {
		if seen[h.objID] {
			continue
		}
		seen[h.objID] = true
		ids = append(ids, h.objID)
		if len(ids) >= nResults {
			break
		}
	}
	return ids, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.MaxFloat64
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.MaxFloat64
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
