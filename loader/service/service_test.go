package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"visionrag/loader/internal"
	"visionrag/pipeline"
	"visionrag/store"
	"visionrag/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	mu      sync.Mutex
	uploads []pipeline.Upload
	err     error
}

func (f *fakeIngester) Ingest(_ context.Context, up pipeline.Upload) (*types.Ingested, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, up)
	if f.err != nil {
		return nil, f.err
	}
	return &types.Ingested{DocID: up.DocID, Filename: up.Filename, Bundles: 1}, nil
}

func (f *fakeIngester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func newTestService(t *testing.T, ing *fakeIngester, docs store.DocumentStore) (*Service, internal.WatcherConfig) {
	t.Helper()
	root := t.TempDir()
	cfg := internal.WatcherConfig{
		SourceDir:     filepath.Join(root, "source"),
		ArchiveDir:    filepath.Join(root, "archive"),
		BadDir:        filepath.Join(root, "bad"),
		CheckInterval: 10 * time.Millisecond,
	}
	w, err := internal.NewWatcher(cfg, nil)
	require.NoError(t, err)
	return New(ing, docs, w, nil), cfg
}

func TestIngestFileUsesStableDocID(t *testing.T) {
	ing := &fakeIngester{}
	s, cfg := newTestService(t, ing, store.NewMemoryDocumentStore())
	path := filepath.Join(cfg.SourceDir, "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0644))

	require.NoError(t, s.IngestFile(context.Background(), path))

	require.Len(t, ing.uploads, 1)
	up := ing.uploads[0]
	assert.Equal(t, "paper.pdf", up.Filename)
	assert.Equal(t, []byte("%PDF"), up.Data)
	assert.Equal(t, internal.DocumentID(path), up.DocID)
	assert.True(t, up.Replace)
}

func TestIngestFileSkipsUpToDateDocuments(t *testing.T) {
	ing := &fakeIngester{}
	docs := store.NewMemoryDocumentStore()
	s, cfg := newTestService(t, ing, docs)
	path := filepath.Join(cfg.SourceDir, "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0644))

	require.NoError(t, docs.SaveDocument(context.Background(), types.Document{
		ID:        internal.DocumentID(path),
		UpdatedAt: time.Now().Add(time.Hour),
	}))

	require.NoError(t, s.IngestFile(context.Background(), path))
	assert.Empty(t, ing.uploads)
}

func TestIngestFileMissing(t *testing.T) {
	s, cfg := newTestService(t, &fakeIngester{}, store.NewMemoryDocumentStore())

	err := s.IngestFile(context.Background(), filepath.Join(cfg.SourceDir, "missing.pdf"))
	assert.Error(t, err)
}

func TestStartArchivesIngestedFiles(t *testing.T) {
	ing := &fakeIngester{}
	s, cfg := newTestService(t, ing, store.NewMemoryDocumentStore())
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SourceDir, "a.pdf"), []byte("%PDF"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	done := s.Start(ctx)

	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(cfg.SourceDir)
		return ing.count() == 1 && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}

	archived, err := filepath.Glob(filepath.Join(cfg.ArchiveDir, "*", "a.pdf"))
	require.NoError(t, err)
	assert.Len(t, archived, 1)
}

func TestStartMovesFailedFilesToBad(t *testing.T) {
	ing := &fakeIngester{err: errors.New("corrupt")}
	s, cfg := newTestService(t, ing, store.NewMemoryDocumentStore())
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SourceDir, "b.pdf"), []byte("junk"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	done := s.Start(ctx)

	require.Eventually(t, func() bool {
		bad, _ := filepath.Glob(filepath.Join(cfg.BadDir, "*", "b.pdf"))
		return len(bad) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
