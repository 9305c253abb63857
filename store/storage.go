package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"visionrag/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentStore is the registry of ingested documents.
type DocumentStore interface {
	SaveDocument(context.Context, types.Document) error
	GetDocumentByID(context.Context, string) (*types.Document, error)
}

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// Pool is shared with the pgvector index so both use one set of connections.
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresStore) GetDocumentByID(ctx context.Context, docID string) (*types.Document, error) {
	doc := &types.Document{}
	var source string
	err := p.pool.QueryRow(ctx,
		"SELECT id, filename, locator, source, bundles, created_at, updated_at FROM documents WHERE id = $1",
		docID,
	).Scan(
		&doc.ID,
		&doc.Filename,
		&doc.Locator,
		&source,
		&doc.Bundles,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc.Source = types.DocumentSource(source)
	return doc, nil
}

func (p *PostgresStore) SaveDocument(ctx context.Context, doc types.Document) error {
	query := `INSERT INTO documents (id, filename, locator, source, bundles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			locator = EXCLUDED.locator,
			source = EXCLUDED.source,
			bundles = EXCLUDED.bundles,
			updated_at = EXCLUDED.updated_at
			`
	_, err := p.pool.Exec(
		ctx,
		query,
		doc.ID,
		doc.Filename,
		doc.Locator,
		string(doc.Source),
		doc.Bundles,
		doc.CreatedAt,
		doc.UpdatedAt,
	)

	return err
}

func (p *PostgresStore) createDocumentTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		locator TEXT NOT NULL,
		source TEXT CHECK (source IN ('pdf','image')),
		bundles INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE,
		updated_at TIMESTAMP WITH TIME ZONE
	);
	`
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createDocumentTables(ctx)
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("Postgres connection pool is closed")
	}
	return nil
}

type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]types.Document
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]types.Document)}
}

// SaveDocument keeps the first CreatedAt of a document across re-ingestion.
func (m *MemoryDocumentStore) SaveDocument(_ context.Context, doc types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.docs[doc.ID]; ok && !prev.CreatedAt.IsZero() {
		doc.CreatedAt = prev.CreatedAt
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	m.docs[doc.ID] = doc
	return nil
}

func (m *MemoryDocumentStore) GetDocumentByID(_ context.Context, docID string) (*types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[docID]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}
