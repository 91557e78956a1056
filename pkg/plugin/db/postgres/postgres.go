// Package postgres provides the PostgreSQL-backed document store plugin.
// Every table is a two-column JSONB table (id + doc) matching the
// schemaless document contract; Connect creates missing tables.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engramic/engramic/pkg/config"
	"github.com/engramic/engramic/pkg/plugin"
)

// defaultDSNEnv names the environment variable holding the connection
// string when the profile does not override it.
const defaultDSNEnv = "ENGRAMIC_DATABASE_URL"

// tables is the closed set created at connect time.
var tables = []plugin.Table{
	plugin.TableEngram,
	plugin.TableMeta,
	plugin.TableObservation,
	plugin.TableHistory,
	plugin.TableDocument,
	plugin.TableProcess,
}

func init() {
	plugin.RegisterDocumentDB("postgres", func(args map[string]any, _ plugin.Deps) (plugin.DocumentDB, error) {
		dsnEnv := defaultDSNEnv
		if e, ok := args["dsn_env"].(string); ok && e != "" {
			dsnEnv = e
		}
		dsn := os.Getenv(dsnEnv)
		if dsn == "" {
			return nil, fmt.Errorf("%w: %s", config.ErrMissingEnv, dsnEnv)
		}
		return &DocumentDB{dsn: dsn}, nil
	})
}

// DocumentDB is the PostgreSQL document store.
type DocumentDB struct {
	dsn string

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// Connect opens the pool and creates any missing document tables.
func (p *DocumentDB) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return nil
	}

	pool, err := pgxpool.New(ctx, p.dsn)
	if err != nil {
		return fmt.Errorf("connect document store: %w", err)
	}
	for _, table := range tables {
		ddl := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc JSONB NOT NULL)`, table)
		if _, err := pool.Exec(ctx, ddl); err != nil {
			pool.Close()
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}
	p.pool = pool
	return nil
}

// Close releases the pool.
func (p *DocumentDB) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

// Fetch loads documents by id; missing ids are absent from the result.
func (p *DocumentDB) Fetch(ctx context.Context, table plugin.Table, ids []string) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT doc FROM %s WHERE id = ANY($1)`, table), ids)
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", table, err)
	}
	defer rows.Close()

	var docs []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", table, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// InsertDocuments upserts each document under its required "id" field.
func (p *DocumentDB) InsertDocuments(ctx context.Context, table plugin.Table, docs []map[string]any) error {
	for _, doc := range docs {
		id, ok := doc["id"].(string)
		if !ok || id == "" {
			return fmt.Errorf("document for table %s has no id", table)
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s document %s: %w", table, id, err)
		}
		_, err = p.pool.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, table),
			id, raw)
		if err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}
