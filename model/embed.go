package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited is returned by an EmbeddingService when the upstream
	// signals throttling. It is the only error the Embedder retries.
	ErrRateLimited = errors.New("embedding service rate limited")
	// ErrRetriesExhausted is returned once a batch stays rate limited past MaxRetries.
	ErrRetriesExhausted = errors.New("embedding retries exhausted")
)

// EmbeddingService is one round trip to the hosted embedding endpoint.
type EmbeddingService interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type EmbedderConfig struct {
	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration
	BatchDelay time.Duration
}

func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		BatchSize:  32,
		MaxRetries: 5,
		BaseDelay:  time.Second,
		BatchDelay: 200 * time.Millisecond,
	}
}

// Embedder turns strings into vectors in fixed-size batches, backing off
// exponentially when the service is rate limited.
type Embedder struct {
	service EmbeddingService
	cfg     EmbedderConfig
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

func NewEmbedder(service EmbeddingService, cfg EmbedderConfig, logger *slog.Logger) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbedderConfig().BatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		service: service,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// GetEmbeddings returns one vector per input, in input order. A batch that
// fails aborts the whole call; partial results are never returned.
func (e *Embedder) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var pacer *rate.Limiter
	if e.cfg.BatchDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(e.cfg.BatchDelay), 1)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))

		if pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vectors, err := e.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embed batch [%d:%d]: got %d vectors for %d inputs", start, end, len(vectors), end-start)
		}
		out = append(out, vectors...)
	}

	e.logger.Debug("[EMBEDDER] embedded texts", "count", len(texts))
	return out, nil
}

func (e *Embedder) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	for attempt := 0; ; attempt++ {
		vectors, err := e.service.EmbedBatch(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		if attempt >= e.cfg.MaxRetries {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, err)
		}

		delay := e.cfg.BaseDelay * time.Duration(1<<attempt)
		e.logger.Warn("[EMBEDDER] rate limited, backing off", "attempt", attempt+1, "delay", delay)
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
