package repository

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/plugin"
)

// MetaRepository persists and loads meta summaries.
type MetaRepository struct {
	db    *plugin.DocumentDBHandle
	cache *lru.Cache[string, *core.Meta]
}

// NewMetaRepository creates the repository over the document-store handle.
func NewMetaRepository(db *plugin.DocumentDBHandle) *MetaRepository {
	cache, _ := lru.New[string, *core.Meta](cacheSize)
	return &MetaRepository{db: db, cache: cache}
}

// Save writes one meta.
func (r *MetaRepository) Save(ctx context.Context, meta *core.Meta) error {
	doc, err := toDoc(meta)
	if err != nil {
		return err
	}
	return r.db.InsertDocuments(ctx, plugin.TableMeta, []map[string]any{doc})
}

// LoadBatch returns the metas for the given ids, cache hits first, misses
// fetched. Missing ids are absent from the result.
func (r *MetaRepository) LoadBatch(ctx context.Context, ids []string) ([]*core.Meta, error) {
	var out []*core.Meta
	var missing []string
	for _, id := range ids {
		if meta, ok := r.cache.Get(id); ok {
			out = append(out, meta)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	docs, err := r.db.Fetch(ctx, plugin.TableMeta, missing)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		var meta core.Meta
		if err := fromDoc(doc, &meta); err != nil {
			return nil, err
		}
		r.cache.Add(meta.ID, &meta)
		out = append(out, &meta)
	}
	return out, nil
}
