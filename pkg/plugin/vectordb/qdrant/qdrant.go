// Package qdrant provides the Qdrant-backed vector store plugin. Each index
// becomes one point whose payload carries the owning object id plus the
// repo/type/location attributes the pipelines filter on.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/plugin"
)

// Payload keys.
const (
	payloadObjID    = "obj_id"
	payloadRepoID   = "repo_id"
	payloadType     = "type"
	payloadLocation = "location"
)

func init() {
	plugin.RegisterVectorDB("qdrant", func(args map[string]any, _ plugin.Deps) (plugin.VectorDB, error) {
		host := "localhost"
		if h, ok := args["host"].(string); ok && h != "" {
			host = h
		}
		port := 6334
		if p, ok := args["port"].(int64); ok && p > 0 {
			port = int(p)
		}
		client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
		if err != nil {
			return nil, fmt.Errorf("init qdrant client: %w", err)
		}
		return &VectorDB{client: client}, nil
	})
}

// VectorDB is the Qdrant vector-store backend.
type VectorDB struct {
	client *qdrant.Client
}

// Insert upserts one point per index under the object id. The first repo id
// of the filter is the owning repo (reserved null repo when absent).
func (v *VectorDB) Insert(ctx context.Context, collection string, indices []core.Index, objID string, filter plugin.VectorFilter, _ map[string]any) error {
	repoID := core.ReservedNullRepo
	if len(filter.RepoIDs) > 0 {
		repoID = filter.RepoIDs[0]
	}
	payload := map[string]any{
		payloadObjID:  objID,
		payloadRepoID: repoID,
	}
	if len(filter.Types) > 0 {
		payload[payloadType] = filter.Types[0]
	}
	if len(filter.Locations) > 0 {
		payload[payloadLocation] = filter.Locations[0]
	}

	points := make([]*qdrant.PointStruct, 0, len(indices))
	for _, idx := range indices {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(idx.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := v.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert (%s): %w", collection, err)
	}
	return nil
}

// Query returns owning object ids of points above the similarity threshold,
// deduplicated, nearest first. The engine's distance threshold (results with
// cosine distance below it) converts to Qdrant's score threshold as
// 1 - threshold.
func (v *VectorDB) Query(ctx context.Context, collection string, embedding []float32, filter plugin.VectorFilter, args map[string]any) ([]string, error) {
	threshold := 0.5
	if t, ok := args["threshold"].(float64); ok {
		threshold = t
	}
	limit := uint64(20)
	if n, ok := args["n_results"].(int64); ok && n > 0 {
		limit = uint64(n)
	}

	query := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(embedding...),
		ScoreThreshold: qdrant.PtrOf(float32(1 - threshold)),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayloadInclude(payloadObjID),
		Filter:         buildFilter(filter),
	}

	scored, err := v.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant query (%s): %w", collection, err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, point := range scored {
		objID := point.GetPayload()[payloadObjID].GetStringValue()
		if objID == "" || seen[objID] {
			continue
		}
		seen[objID] = true
		ids = append(ids, objID)
	}
	return ids, nil
}

func buildFilter(filter plugin.VectorFilter) *qdrant.Filter {
	var must []*qdrant.Condition
	if len(filter.RepoIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords(payloadRepoID, filter.RepoIDs...))
	}
	if len(filter.Types) > 0 {
		must = append(must, qdrant.NewMatchKeywords(payloadType, filter.Types...))
	}
	if len(filter.Locations) > 0 {
		must = append(must, qdrant.NewMatchKeywords(payloadLocation, filter.Locations...))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}
