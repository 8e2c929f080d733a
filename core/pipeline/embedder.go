package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
)

// BatchEmbedderOptions tunes the batching wrapper around a provider.
type BatchEmbedderOptions struct {
	// BatchSize caps the number of texts per provider call.
	BatchSize int
	// RatePerSecond throttles provider calls; zero disables the limiter.
	RatePerSecond float64
	// Timeout bounds each provider call.
	Timeout time.Duration
	// MaxRetries caps retries of transient provider failures.
	MaxRetries uint64
}

// BatchEmbedder wraps a provider with batching, a content-hash cache, rate
// limiting and capped exponential backoff on transient failures. An unchanged
// text is never re-embedded within the lifetime of the cache.
type BatchEmbedder struct {
	provider Embedder
	opts     BatchEmbedderOptions
	limiter  *rate.Limiter

	mu    sync.Mutex
	cache map[string][]float32
}

// NewBatchEmbedder creates the wrapper with sane defaults for unset options.
func NewBatchEmbedder(provider Embedder, opts BatchEmbedderOptions) *BatchEmbedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	return &BatchEmbedder{
		provider: provider,
		opts:     opts,
		limiter:  limiter,
		cache:    make(map[string][]float32),
	}
}

// Dimension returns the provider's embedding dimension.
func (b *BatchEmbedder) Dimension() int {
	return b.provider.Dimension()
}

// ModelID returns the provider's model identifier.
func (b *BatchEmbedder) ModelID() string {
	return b.provider.ModelID()
}

// Embed returns one vector per text in input order. Cached texts are served
// without a provider call; misses are embedded in batches.
func (b *BatchEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	// Deduplicated cache misses in first-seen order.
	var missTexts []string
	missIndex := make(map[string]int)
	b.mu.Lock()
	for i, text := range texts {
		key := model.HashText(text)
		if cached, ok := b.cache[key]; ok {
			vectors[i] = cached
			continue
		}
		if _, seen := missIndex[key]; !seen {
			missIndex[key] = len(missTexts)
			missTexts = append(missTexts, text)
		}
	}
	b.mu.Unlock()

	if len(missTexts) > 0 {
		missVectors := make([][]float32, len(missTexts))
		for start := 0; start < len(missTexts); start += b.opts.BatchSize {
			end := start + b.opts.BatchSize
			if end > len(missTexts) {
				end = len(missTexts)
			}
			batch := missTexts[start:end]

			result, err := b.embedBatch(ctx, batch)
			if err != nil {
				return nil, err
			}
			copy(missVectors[start:end], result)
		}

		b.mu.Lock()
		for i, text := range missTexts {
			b.cache[model.HashText(text)] = missVectors[i]
		}
		b.mu.Unlock()

		for i, text := range texts {
			if vectors[i] == nil {
				vectors[i] = missVectors[missIndex[model.HashText(text)]]
			}
		}
	}

	return vectors, nil
}

// embedBatch calls the provider once per retry attempt, honoring the rate
// limiter and the per-call timeout. Only transient failures are retried.
func (b *BatchEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var result [][]float32

	operation := func() error {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()

		vectors, err := b.provider.Embed(callCtx, batch)
		if err != nil {
			if helper.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(vectors) != len(batch) {
			return backoff.Permanent(helper.NewKindError(helper.KindEmbeddingService, "embed batch",
				fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(batch))))
		}
		if dim := b.provider.Dimension(); dim > 0 {
			for _, vector := range vectors {
				if len(vector) != dim {
					return backoff.Permanent(helper.NewKindError(helper.KindEmbeddingService, "embed batch",
						fmt.Errorf("provider returned %d-dimensional vector, expected %d", len(vector), dim)))
				}
			}
		}

		result = vectors
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), b.opts.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, helper.NewKindError(helper.KindEmbeddingService, "embed batch", err)
	}
	return result, nil
}
