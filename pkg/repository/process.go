package repository

import (
	"context"
	"fmt"

	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/plugin"
)

// ProcessRepository persists multi-pass workflow records.
type ProcessRepository struct {
	db *plugin.DocumentDBHandle
}

// NewProcessRepository creates the repository over the document-store
// handle.
func NewProcessRepository(db *plugin.DocumentDBHandle) *ProcessRepository {
	return &ProcessRepository{db: db}
}

// Save writes one process record.
func (r *ProcessRepository) Save(ctx context.Context, process *core.Process) error {
	doc, err := toDoc(process)
	if err != nil {
		return err
	}
	return r.db.InsertDocuments(ctx, plugin.TableProcess, []map[string]any{doc})
}

// Load fetches one process by id.
func (r *ProcessRepository) Load(ctx context.Context, id string) (*core.Process, error) {
	docs, err := r.db.Fetch(ctx, plugin.TableProcess, []string{id})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("process %s not found", id)
	}
	var process core.Process
	if err := fromDoc(docs[0], &process); err != nil {
		return nil, err
	}
	return &process, nil
}
