package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore is the pgvector-backed alternative to Index named in spec
// §4.3 ("a ChromaDB- or Postgres-backed implementation may replace HNSW").
// Grounded on the teacher's internal/database/supabase.go for the
// lib/pq-based connection and query conventions, narrowed to the single
// documents table this contract needs instead of the teacher's full
// marketplace schema.
type PostgresStore struct {
	db    *sql.DB
	table string
	dims  int
}

// NewPostgresStore opens a connection and ensures the backing table and
// pgvector extension exist. table is expected to already be a valid
// identifier (callers configure it, not end users).
func NewPostgresStore(ctx context.Context, dsn, table string, dims int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("vectorstore: ping postgres: %w", err)
	}

	ps := &PostgresStore{db: db, table: table, dims: dims}
	if err := ps.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := ps.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("vectorstore: create extension: %w", err)
	}
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB
		)`, ps.table, ps.dims)
	if _, err := ps.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("vectorstore: create table: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (ps *PostgresStore) Close() error { return ps.db.Close() }

// Add implements Store.
func (ps *PostgresStore) Add(ctx context.Context, doc Document) error {
	return ps.AddBatch(ctx, []Document{doc})
}

// AddBatch implements Store. Each row is a separate statement; no
// transaction spans the whole batch.
func (ps *PostgresStore) AddBatch(ctx context.Context, docs []Document) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, text, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET text = EXCLUDED.text, embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata
	`, ps.table)

	for _, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("vectorstore: marshal metadata: %w", err)
		}
		vec := toFloat32(d.Vector)
		if _, err := ps.db.ExecContext(ctx, stmt, d.ID, d.Text, pgvector.NewVector(vec), meta); err != nil {
			return fmt.Errorf("vectorstore: insert %s: %w", d.ID, err)
		}
	}
	return nil
}

// FindSimilar implements Store using pgvector's cosine-distance operator
// (<=>, which is 1 - cosine_similarity), ordering by distance ascending
// and filtering by the equivalent similarity threshold.
func (ps *PostgresStore) FindSimilar(ctx context.Context, queryVector []float64, k int, threshold float64) ([]SearchResult, error) {
	stmt := fmt.Sprintf(`
		SELECT id, text, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, ps.table)

	rows, err := ps.db.QueryContext(ctx, stmt, pgvector.NewVector(toFloat32(queryVector)), threshold, k)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var metaRaw []byte
		if err := rows.Scan(&r.ID, &r.Text, &metaRaw, &r.Score); err != nil {
			return nil, fmt.Errorf("vectorstore: scan: %w", err)
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &r.Metadata); err != nil {
				return nil, fmt.Errorf("vectorstore: unmarshal metadata: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Remove implements Store.
func (ps *PostgresStore) Remove(ctx context.Context, id string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, ps.table)
	_, err := ps.db.ExecContext(ctx, stmt, id)
	if err != nil {
		return fmt.Errorf("vectorstore: delete %s: %w", id, err)
	}
	return nil
}

// Count implements Store.
func (ps *PostgresStore) Count(ctx context.Context) (int, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, ps.table)
	var n int
	if err := ps.db.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, fmt.Errorf("vectorstore: count: %w", err)
	}
	return n, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
