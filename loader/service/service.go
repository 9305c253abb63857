package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"visionrag/loader/internal"
	"visionrag/pipeline"
	"visionrag/store"
	"visionrag/types"
)

type Ingester interface {
	Ingest(ctx context.Context, up pipeline.Upload) (*types.Ingested, error)
}

// Service feeds files dropped into the source folder through ingestion.
type Service struct {
	logger   *slog.Logger
	ingester Ingester
	docs     store.DocumentStore
	watcher  *internal.Watcher
}

func New(ingester Ingester, docs store.DocumentStore, watcher *internal.Watcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:   logger,
		ingester: ingester,
		docs:     docs,
		watcher:  watcher,
	}
}

func (s *Service) Stop() {
	s.logger.Info("Loader Service stopped")
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := s.Start(ctx)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	s.logger.Info("Received shutdown signal, shutting down gracefully...")
	signal.Stop(sigch)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	select {
	case <-done:
		s.logger.Info("All goroutines stopped successfully")
	case <-shutdownCtx.Done():
		s.logger.Warn("Timeout waiting for goroutines to stop, forcing shutdown...")
	}
	s.Stop()
}

// Start launches the watcher and the processor. The returned channel is
// closed once both have returned after ctx is cancelled.
func (s *Service) Start(ctx context.Context) <-chan struct{} {
	fileChan := make(chan string, 10)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(fileChan)
		s.watcher.WatchFile(ctx, fileChan)
	}()
	go func() {
		defer wg.Done()
		s.watcher.ProcessFile(ctx, fileChan, s.IngestFile)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// IngestFile indexes the file unless the registry already holds a version
// at least as new.
func (s *Service) IngestFile(ctx context.Context, filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	docID := internal.DocumentID(filePath)
	if !s.ShouldUpdateFile(ctx, docID, info.ModTime()) {
		s.logger.Info("[LOADER] document is up to date", "file", filePath, "doc_id", docID)
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	res, err := s.ingester.Ingest(ctx, pipeline.Upload{
		Filename: filepath.Base(filePath),
		Data:     data,
		DocID:    docID,
		Replace:  true,
	})
	if err != nil {
		return err
	}
	s.logger.Info("[LOADER] document saved", "file", filePath, "doc_id", res.DocID, "bundles", res.Bundles)
	return nil
}

func (s *Service) ShouldUpdateFile(ctx context.Context, docID string, modTime time.Time) bool {
	doc, err := s.docs.GetDocumentByID(ctx, docID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("[LOADER] registry lookup failed", "doc_id", docID, "err", err)
		}
		return true
	}
	return modTime.After(doc.UpdatedAt)
}
