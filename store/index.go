package store

import (
	"context"
	"errors"
	"fmt"

	"visionrag/types"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrLengthMismatch    = errors.New("bundles and embeddings length mismatch")
	ErrNotFound          = errors.New("not found")
)

const DefaultUpsertBatch = 50

// IndexGateway is the only component that talks to the vector index. Every
// backend partitions entries by a configured namespace and filters queries
// by doc_id.
type IndexGateway interface {
	CreateIndexIfNeeded(ctx context.Context, dimension int) error
	UpsertBundles(ctx context.Context, docID string, bundles []types.Bundle, embeddings [][]float32) (int, error)
	Query(ctx context.Context, docID string, vector []float32, topK int) ([]types.Candidate, error)
	DeleteDocument(ctx context.Context, docID string) error
	// DeleteDocumentExcept drops the document's entries whose id is not in
	// keep. An empty keep drops every entry of the document.
	DeleteDocumentExcept(ctx context.Context, docID string, keep []string) error
}

// buildEntries checks the upsert preconditions and denormalizes bundles.
// dimension <= 0 disables the vector length check.
func buildEntries(docID string, dimension int, bundles []types.Bundle, embeddings [][]float32) ([]types.IndexEntry, error) {
	if len(bundles) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d bundles, %d embeddings", ErrLengthMismatch, len(bundles), len(embeddings))
	}
	entries := make([]types.IndexEntry, len(bundles))
	for i, b := range bundles {
		if b.DocID != docID {
			return nil, fmt.Errorf("bundle %s belongs to document %q, not %q", b.ID, b.DocID, docID)
		}
		if err := checkDimension(dimension, embeddings[i]); err != nil {
			return nil, fmt.Errorf("bundle %s: %w", b.ID, err)
		}
		entries[i] = types.NewIndexEntry(b, embeddings[i])
	}
	return entries, nil
}

func checkDimension(dimension int, vector []float32) error {
	if dimension > 0 && len(vector) != dimension {
		return fmt.Errorf("%w: index has %d, vector has %d", ErrDimensionMismatch, dimension, len(vector))
	}
	return nil
}

// inBatches calls fn on consecutive [lo, hi) windows of at most size items.
func inBatches(n, size int, fn func(lo, hi int) error) error {
	if size <= 0 {
		size = DefaultUpsertBatch
	}
	for lo := 0; lo < n; lo += size {
		if err := fn(lo, min(lo+size, n)); err != nil {
			return err
		}
	}
	return nil
}
