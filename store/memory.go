package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"visionrag/types"
)

// MemoryIndex is a brute-force cosine index kept in process. It backs tests
// and single-node development setups.
type MemoryIndex struct {
	*memoryData
	namespace string
	batchSize int
}

// memoryData is shared by every namespace view of one index.
type memoryData struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]map[string]types.IndexEntry
	batches   int
}

func NewMemoryIndex(namespace string, batchSize int) *MemoryIndex {
	return &MemoryIndex{
		memoryData: &memoryData{entries: make(map[string]map[string]types.IndexEntry)},
		namespace:  namespace,
		batchSize:  batchSize,
	}
}

func (m *MemoryIndex) CreateIndexIfNeeded(_ context.Context, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension != 0 && m.dimension != dimension {
		return fmt.Errorf("%w: index has %d, requested %d", ErrDimensionMismatch, m.dimension, dimension)
	}
	m.dimension = dimension
	return nil
}

func (m *MemoryIndex) UpsertBundles(_ context.Context, docID string, bundles []types.Bundle, embeddings [][]float32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := buildEntries(docID, m.dimension, bundles, embeddings)
	if err != nil {
		return 0, err
	}

	ns := m.entries[m.namespace]
	if ns == nil {
		ns = make(map[string]types.IndexEntry)
		m.entries[m.namespace] = ns
	}
	err = inBatches(len(entries), m.batchSize, func(lo, hi int) error {
		for _, e := range entries[lo:hi] {
			e.Vector = append([]float32(nil), e.Vector...)
			ns[e.ID] = e
		}
		m.batches++
		return nil
	})
	return len(entries), err
}

func (m *MemoryIndex) Query(_ context.Context, docID string, vector []float32, topK int) ([]types.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := checkDimension(m.dimension, vector); err != nil {
		return nil, err
	}

	out := []types.Candidate{}
	for _, e := range m.entries[m.namespace] {
		if e.DocID != docID {
			continue
		}
		out = append(out, types.CandidateFromEntry(e, cosine(vector, e.Vector)))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if topK >= 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *MemoryIndex) DeleteDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries[m.namespace] {
		if e.DocID == docID {
			delete(m.entries[m.namespace], id)
		}
	}
	return nil
}

func (m *MemoryIndex) DeleteDocumentExcept(_ context.Context, docID string, keep []string) error {
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries[m.namespace] {
		if e.DocID == docID && !keepSet[id] {
			delete(m.entries[m.namespace], id)
		}
	}
	return nil
}

// WithNamespace returns a view of the same storage bound to another namespace.
func (m *MemoryIndex) WithNamespace(namespace string) *MemoryIndex {
	return &MemoryIndex{
		memoryData: m.memoryData,
		namespace:  namespace,
		batchSize:  m.batchSize,
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
