// Package bootstrap assembles the retrieval pipeline and its backends from
// configuration. Both the HTTP server and the folder loader use it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"visionrag/app/agent"
	"visionrag/blob"
	"visionrag/config"
	"visionrag/loader"
	"visionrag/model"
	"visionrag/pipeline"
	"visionrag/store"
)

// Stack owns the pipeline and everything that needs closing.
type Stack struct {
	Pipeline  *pipeline.Pipeline
	Documents store.DocumentStore
	Index     store.IndexGateway

	closers []func() error
}

func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from the server settings.
func NewLogger(cfg config.ServerConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	s := &Stack{}
	if err := s.build(ctx, cfg, logger); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stack) build(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var pg *store.PostgresStore
	if cfg.Index.Backend == "pgvector" || cfg.Index.Registry == "postgres" {
		var err error
		pg, err = store.NewPostgresStore(ctx, cfg.Postgres.ConnString(), logger)
		if err != nil {
			return fmt.Errorf("connect to Postgres: %w", err)
		}
		s.closers = append(s.closers, pg.Close)
		if err := pg.Init(ctx); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}

	if cfg.Index.Registry == "postgres" {
		s.Documents = pg
	} else {
		s.Documents = store.NewMemoryDocumentStore()
	}

	switch cfg.Index.Backend {
	case "pgvector":
		s.Index = store.NewPgVectorIndex(pg.Pool(), cfg.Index.Name, cfg.Index.Namespace, cfg.Index.BatchSize, logger)
	case "qdrant":
		q, err := store.NewQdrantIndex(cfg.Index.QdrantAddr, cfg.Index.Name, cfg.Index.Namespace, cfg.Index.BatchSize, logger)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, q.Close)
		s.Index = q
	default:
		s.Index = store.NewMemoryIndex(cfg.Index.Namespace, cfg.Index.BatchSize)
	}
	if err := s.Index.CreateIndexIfNeeded(ctx, cfg.Index.Dimension); err != nil {
		return fmt.Errorf("prepare index %s: %w", cfg.Index.Name, err)
	}

	blobs, err := newBlobStore(ctx, cfg.Blob, logger)
	if err != nil {
		return err
	}

	embedder := model.NewEmbedder(newEmbeddingService(cfg.Embedding), model.EmbedderConfig{
		BatchSize:  cfg.Embedding.BatchSize,
		MaxRetries: cfg.Embedding.MaxRetries,
		BaseDelay:  cfg.Embedding.BaseDelay,
		BatchDelay: cfg.Embedding.BatchDelay,
	}, logger)

	ag := agent.New(newLLM(cfg.LLM), logger)

	segmenter := loader.NewSegmenter(blobs, newVision(cfg.LLM), loader.SegmentConfig{
		ChunkSize:    cfg.Segment.ChunkSize,
		ChunkOverlap: cfg.Segment.ChunkOverlap,
		PresignTTL:   cfg.Blob.PresignTTL,
	}, logger)

	s.Pipeline = pipeline.New(pipeline.Deps{
		Segmenter:   segmenter,
		Embedder:    embedder,
		Index:       s.Index,
		Documents:   s.Documents,
		Blobs:       blobs,
		Generator:   ag,
		Paraphraser: ag,
	}, pipeline.Config{
		FigureTopK:       cfg.Retrieval.FigureTopK,
		GenericTopK:      cfg.Retrieval.GenericTopK,
		StructuralTopK:   cfg.Retrieval.StructuralTopK,
		SubQueryTopK:     cfg.Retrieval.SubQueryTopK,
		MaxParaphrases:   cfg.Retrieval.MaxParaphrases,
		ContextCharLimit: cfg.Retrieval.ContextCharLimit,
	}, logger)

	logger.Info("[BOOTSTRAP] pipeline ready",
		"index", cfg.Index.Backend,
		"registry", cfg.Index.Registry,
		"blob", cfg.Blob.Backend,
		"embedding", cfg.Embedding.Provider,
		"llm", cfg.LLM.Provider,
		"vision", cfg.LLM.VisionModel != "",
	)
	return nil
}

func newBlobStore(ctx context.Context, cfg config.BlobConfig, logger *slog.Logger) (blob.Store, error) {
	if cfg.Backend == "s3" {
		return blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
		}, logger)
	}
	return blob.NewLocalStore(cfg.LocalDir)
}

func newEmbeddingService(cfg config.EmbeddingConfig) model.EmbeddingService {
	if cfg.Provider == "ollama" {
		return model.NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Timeout)
	}
	return model.NewOpenAIEmbeddings(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimensions, cfg.Timeout)
}

func newLLM(cfg config.LLMConfig) agent.LLM {
	if cfg.Provider == "ollama" {
		return agent.NewOllama(cfg.BaseURL, cfg.Model, cfg.Timeout)
	}
	return agent.NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)
}

// newVision returns nil when no vision model is configured; images are then
// stored without descriptions.
func newVision(cfg config.LLMConfig) model.VisionModel {
	switch {
	case cfg.VisionModel == "":
		return nil
	case cfg.Provider == "ollama":
		return model.NewLLaVA(cfg.BaseURL, cfg.VisionModel, cfg.Timeout)
	default:
		return model.NewOpenAIVision(cfg.BaseURL, cfg.APIKey, cfg.VisionModel, cfg.Timeout)
	}
}
