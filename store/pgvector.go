package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"visionrag/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgVectorIndex keeps one table per index name. Rows are partitioned by a
// namespace column and keyed by (namespace, id).
type PgVectorIndex struct {
	pool      *pgxpool.Pool
	name      string
	namespace string
	batchSize int
	dimension atomic.Int64
	logger    *slog.Logger

	// iterativeScan is set when the server's pgvector (0.8+) can keep
	// scanning the HNSW graph until the doc_id filter yields top_k rows.
	iterativeScan atomic.Bool
}

func NewPgVectorIndex(pool *pgxpool.Pool, name, namespace string, batchSize int, logger *slog.Logger) *PgVectorIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgVectorIndex{
		pool:      pool,
		name:      name,
		namespace: namespace,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (p *PgVectorIndex) table() string {
	return pgx.Identifier{p.name}.Sanitize()
}

func (p *PgVectorIndex) CreateIndexIfNeeded(ctx context.Context, dimension int) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	var version string
	if err := p.pool.QueryRow(ctx, "SELECT extversion FROM pg_extension WHERE extname = 'vector'").Scan(&version); err != nil {
		return fmt.Errorf("read vector extension version: %w", err)
	}
	p.iterativeScan.Store(iterativeScanSupported(version))
	if !p.iterativeScan.Load() {
		p.logger.Warn("[PGVECTOR] extension predates iterative index scans, filtered queries may return fewer than top_k rows",
			"version", version)
	}

	var existing int
	err := p.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = to_regclass($1) AND attname = 'embedding'`,
		p.table(),
	).Scan(&existing)
	switch {
	case err == nil:
		if existing != dimension {
			return fmt.Errorf("%w: index %s has %d, requested %d", ErrDimensionMismatch, p.name, existing, dimension)
		}
		p.dimension.Store(int64(dimension))
		return nil
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return fmt.Errorf("inspect index %s: %w", p.name, err)
	}

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		namespace TEXT NOT NULL,
		id TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		bundle_id TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('text','figure','image')),
		content TEXT NOT NULL,
		caption TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		page INTEGER,
		embedding vector(%[2]d) NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		PRIMARY KEY (namespace, id)
	);

	CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s USING hnsw (embedding vector_cosine_ops);

	CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s(namespace, doc_id);
	`,
		p.table(),
		dimension,
		pgx.Identifier{p.name + "_embedding_idx"}.Sanitize(),
		pgx.Identifier{p.name + "_doc_idx"}.Sanitize(),
	)
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create index %s: %w", p.name, err)
	}

	p.dimension.Store(int64(dimension))
	p.logger.Info("[PGVECTOR] index ready", "index", p.name, "dimension", dimension)
	return nil
}

func (p *PgVectorIndex) UpsertBundles(ctx context.Context, docID string, bundles []types.Bundle, embeddings [][]float32) (int, error) {
	entries, err := buildEntries(docID, int(p.dimension.Load()), bundles, embeddings)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`INSERT INTO %s (namespace, id, doc_id, bundle_id, type, content, caption, description, page, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (namespace, id) DO UPDATE SET
			doc_id = EXCLUDED.doc_id,
			bundle_id = EXCLUDED.bundle_id,
			type = EXCLUDED.type,
			content = EXCLUDED.content,
			caption = EXCLUDED.caption,
			description = EXCLUDED.description,
			page = EXCLUDED.page,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at
	`, p.table())

	err = inBatches(len(entries), p.batchSize, func(lo, hi int) error {
		batch := &pgx.Batch{}
		for _, e := range entries[lo:hi] {
			batch.Queue(query,
				p.namespace, e.ID, e.DocID, e.BundleID, string(e.Type),
				e.Content, e.Caption, e.Description, e.Page, pgvector.NewVector(e.Vector),
			)
		}
		if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert entries [%d:%d]: %w", lo, hi, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (p *PgVectorIndex) Query(ctx context.Context, docID string, vector []float32, topK int) ([]types.Candidate, error) {
	if err := checkDimension(int(p.dimension.Load()), vector); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, doc_id, bundle_id, type, content, caption, description, page,
		       1 - (embedding <=> $1) AS score
		FROM %s
		WHERE namespace = $2 AND doc_id = $3
		ORDER BY embedding <=> $1, id
		LIMIT $4
	`, p.table())

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin query: %w", err)
	}
	defer tx.Rollback(ctx)

	if p.iterativeScan.Load() {
		if _, err := tx.Exec(ctx, "SET LOCAL hnsw.iterative_scan = strict_order"); err != nil {
			return nil, fmt.Errorf("enable iterative scan: %w", err)
		}
	}

	rows, err := tx.Query(ctx, query, pgvector.NewVector(vector), p.namespace, docID, topK)
	if err != nil {
		return nil, fmt.Errorf("query index %s: %w", p.name, err)
	}
	defer rows.Close()

	out := []types.Candidate{}
	for rows.Next() {
		var c types.Candidate
		var typ string
		if err := rows.Scan(
			&c.ID,
			&c.DocID,
			&c.BundleID,
			&typ,
			&c.Content,
			&c.Caption,
			&c.Description,
			&c.Page,
			&c.Score,
		); err != nil {
			return nil, err
		}
		c.Type = types.BundleType(typ)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	return out, tx.Commit(ctx)
}

func (p *PgVectorIndex) DeleteDocument(ctx context.Context, docID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1 AND doc_id = $2", p.table())
	if _, err := p.pool.Exec(ctx, query, p.namespace, docID); err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	return nil
}

func (p *PgVectorIndex) DeleteDocumentExcept(ctx context.Context, docID string, keep []string) error {
	if keep == nil {
		keep = []string{}
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1 AND doc_id = $2 AND NOT (id = ANY($3))", p.table())
	if _, err := p.pool.Exec(ctx, query, p.namespace, docID, keep); err != nil {
		return fmt.Errorf("delete stale entries of %s: %w", docID, err)
	}
	return nil
}

// iterativeScanSupported reports whether a pgvector extversion is 0.8 or newer.
func iterativeScanSupported(version string) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	return major > 0 || minor >= 8
}
