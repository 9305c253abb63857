package model

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService encodes each numeric text as a one-element vector and fails
// with the queued errors before answering.
type fakeService struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	errs    []error
}

func (f *fakeService) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	f.batches = append(f.batches, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		n, _ := strconv.Atoi(t)
		out[i] = []float32{float32(n)}
	}
	return out, nil
}

func newTestEmbedder(svc EmbeddingService, cfg EmbedderConfig) (*Embedder, *[]time.Duration) {
	e := NewEmbedder(svc, cfg, nil)
	var slept []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func rateLimited(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = fmt.Errorf("%w: status 429", ErrRateLimited)
	}
	return errs
}

func TestGetEmbeddingsEmptyInput(t *testing.T) {
	svc := &fakeService{}
	e, _ := newTestEmbedder(svc, EmbedderConfig{BatchSize: 4, MaxRetries: 3})

	out, err := e.GetEmbeddings(context.Background(), nil)

	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Zero(t, svc.calls)
}

func TestGetEmbeddingsPreservesOrderAcrossBatches(t *testing.T) {
	svc := &fakeService{}
	e, _ := newTestEmbedder(svc, EmbedderConfig{BatchSize: 3, MaxRetries: 1})

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = strconv.Itoa(i)
	}

	out, err := e.GetEmbeddings(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	for i, v := range out {
		assert.Equal(t, []float32{float32(i)}, v)
	}

	require.Len(t, svc.batches, 4)
	assert.Len(t, svc.batches[0], 3)
	assert.Len(t, svc.batches[3], 1)
}

func TestGetEmbeddingsRetriesRateLimit(t *testing.T) {
	for k := 0; k <= 3; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			svc := &fakeService{errs: rateLimited(k)}
			e, slept := newTestEmbedder(svc, EmbedderConfig{BatchSize: 8, MaxRetries: 3, BaseDelay: time.Second})

			out, err := e.GetEmbeddings(context.Background(), []string{"1", "2"})
			require.NoError(t, err)
			assert.Len(t, out, 2)
			assert.Equal(t, k+1, svc.calls)

			require.Len(t, *slept, k)
			for i, d := range *slept {
				assert.Equal(t, time.Second*time.Duration(1<<i), d)
			}
		})
	}
}

func TestGetEmbeddingsRetriesExhausted(t *testing.T) {
	svc := &fakeService{errs: rateLimited(10)}
	e, _ := newTestEmbedder(svc, EmbedderConfig{BatchSize: 8, MaxRetries: 3, BaseDelay: time.Millisecond})

	out, err := e.GetEmbeddings(context.Background(), []string{"1"})

	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 4, svc.calls)
}

func TestGetEmbeddingsOtherErrorsAreNotRetried(t *testing.T) {
	boom := errors.New("bad request")
	svc := &fakeService{errs: []error{boom}}
	e, slept := newTestEmbedder(svc, EmbedderConfig{BatchSize: 8, MaxRetries: 5, BaseDelay: time.Second})

	_, err := e.GetEmbeddings(context.Background(), []string{"1"})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, svc.calls)
	assert.Empty(t, *slept)
}

func TestGetEmbeddingsFailingBatchAbortsCall(t *testing.T) {
	svc := &fakeService{}
	e, _ := newTestEmbedder(svc, EmbedderConfig{BatchSize: 1, MaxRetries: 0})

	calls := 0
	e.service = embedFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 2 {
			return nil, fmt.Errorf("%w: still throttled", ErrRateLimited)
		}
		return svc.EmbedBatch(ctx, texts)
	})

	out, err := e.GetEmbeddings(context.Background(), []string{"1", "2", "3"})

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Nil(t, out)
	assert.Equal(t, 2, calls)
}

func TestGetEmbeddingsWrongVectorCount(t *testing.T) {
	e, _ := newTestEmbedder(embedFunc(func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}), EmbedderConfig{BatchSize: 4})

	_, err := e.GetEmbeddings(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}

func TestGetEmbeddingsPacesBatches(t *testing.T) {
	svc := &fakeService{}
	e, _ := newTestEmbedder(svc, EmbedderConfig{BatchSize: 1, BatchDelay: 20 * time.Millisecond})

	start := time.Now()
	_, err := e.GetEmbeddings(context.Background(), []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f embedFunc) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
