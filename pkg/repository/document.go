package repository

import (
	"context"

	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/plugin"
)

// DocumentRepository persists the FileNode tree discovered by the repo
// scanner.
type DocumentRepository struct {
	db *plugin.DocumentDBHandle
}

// NewDocumentRepository creates the repository over the document-store
// handle.
func NewDocumentRepository(db *plugin.DocumentDBHandle) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Save writes one file node.
func (r *DocumentRepository) Save(ctx context.Context, node *core.FileNode) error {
	doc, err := toDoc(node)
	if err != nil {
		return err
	}
	return r.db.InsertDocuments(ctx, plugin.TableDocument, []map[string]any{doc})
}

// Load fetches file nodes by id; already-known nodes let a re-scan skip
// resubmission.
func (r *DocumentRepository) Load(ctx context.Context, ids []string) ([]*core.FileNode, error) {
	docs, err := r.db.Fetch(ctx, plugin.TableDocument, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*core.FileNode, 0, len(docs))
	for _, doc := range docs {
		var node core.FileNode
		if err := fromDoc(doc, &node); err != nil {
			return nil, err
		}
		out = append(out, &node)
	}
	return out, nil
}
