package repository

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/plugin"
)

// EngramRepository persists and loads engrams.
type EngramRepository struct {
	db    *plugin.DocumentDBHandle
	cache *lru.Cache[string, *core.Engram]
}

// NewEngramRepository creates the repository over the document-store handle.
func NewEngramRepository(db *plugin.DocumentDBHandle) *EngramRepository {
	cache, _ := lru.New[string, *core.Engram](cacheSize)
	return &EngramRepository{db: db, cache: cache}
}

// Save writes one engram.
func (r *EngramRepository) Save(ctx context.Context, engram *core.Engram) error {
	doc, err := toDoc(engram)
	if err != nil {
		return err
	}
	return r.db.InsertDocuments(ctx, plugin.TableEngram, []map[string]any{doc})
}

// Load fetches one engram by id.
func (r *EngramRepository) Load(ctx context.Context, id string) (*core.Engram, error) {
	batch, err := r.LoadBatch(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("engram %s not found", id)
	}
	return batch[0], nil
}

// LoadBatch returns the engrams for the given ids, serving hits from the
// cache and fetching only misses. Missing ids are absent from the result;
// set semantics, order not guaranteed.
func (r *EngramRepository) LoadBatch(ctx context.Context, ids []string) ([]*core.Engram, error) {
	var out []*core.Engram
	var missing []string
	for _, id := range ids {
		if engram, ok := r.cache.Get(id); ok {
			out = append(out, engram)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	docs, err := r.db.Fetch(ctx, plugin.TableEngram, missing)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		var engram core.Engram
		if err := fromDoc(doc, &engram); err != nil {
			return nil, err
		}
		r.cache.Add(engram.ID, &engram)
		out = append(out, &engram)
	}
	return out, nil
}

// LoadBatchRetrieveResult loads the engrams referenced by a retrieval.
func (r *EngramRepository) LoadBatchRetrieveResult(ctx context.Context, result core.RetrieveResult) ([]*core.Engram, error) {
	return r.LoadBatch(ctx, result.EngramIDArray)
}
