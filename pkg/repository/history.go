package repository

import (
	"context"
	"sync"

	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/plugin"
)

// defaultHistoryLimit caps how many prior responses LoadRecent returns when
// the backend args carry no override.
const defaultHistoryLimit = 5

// HistoryRepository persists responses as conversation history and serves
// the recent window the response pipeline renders into its prompt. The
// backend-specific history_limit arg is consumed here and nowhere else.
type HistoryRepository struct {
	db    *plugin.DocumentDBHandle
	limit int

	mu     sync.Mutex
	recent []string // response ids, oldest first
}

// NewHistoryRepository creates the repository over the document-store
// handle, reading history_limit from its profile args.
func NewHistoryRepository(db *plugin.DocumentDBHandle) *HistoryRepository {
	limit := defaultHistoryLimit
	if n, ok := db.Args["history_limit"].(int64); ok && n > 0 {
		limit = int(n)
	}
	return &HistoryRepository{db: db, limit: limit}
}

// SaveHistory appends a response to the history table and the recent window.
func (r *HistoryRepository) SaveHistory(ctx context.Context, response *core.Response) error {
	doc, err := toDoc(response)
	if err != nil {
		return err
	}
	if err := r.db.InsertDocuments(ctx, plugin.TableHistory, []map[string]any{doc}); err != nil {
		return err
	}

	r.mu.Lock()
	r.recent = append(r.recent, response.ID)
	if len(r.recent) > r.limit {
		r.recent = r.recent[len(r.recent)-r.limit:]
	}
	r.mu.Unlock()
	return nil
}

// LoadRecent returns up to history_limit prior responses, oldest first.
func (r *HistoryRepository) LoadRecent(ctx context.Context) ([]*core.Response, error) {
	r.mu.Lock()
	ids := make([]string, len(r.recent))
	copy(ids, r.recent)
	r.mu.Unlock()
	if len(ids) == 0 {
		return nil, nil
	}

	docs, err := r.db.Fetch(ctx, plugin.TableHistory, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*core.Response, len(docs))
	for _, doc := range docs {
		var resp core.Response
		if err := fromDoc(doc, &resp); err != nil {
			return nil, err
		}
		byID[resp.ID] = &resp
	}

	out := make([]*core.Response, 0, len(ids))
	for _, id := range ids {
		if resp, ok := byID[id]; ok {
			out = append(out, resp)
		}
	}
	return out, nil
}
