package model

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"portfolio-rag/config"
)

// EmbedderInterface maps text to fixed-dimension vectors.
// EmbedBatch preserves input order and fails as a whole on any error.
type EmbedderInterface interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// NewEmbedder builds the embedding provider selected in the configuration.
func NewEmbedder(cfg config.EmbeddingConfig) (EmbedderInterface, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		e := NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.BatchSize, cfg.Timeout)
		e.limiter = newLimiter(cfg.RateLimit)
		return e, nil
	case config.ProviderOpenAI:
		e := NewOpenAIEmbedder(cfg.APIKey, cfg.URL, cfg.Model, cfg.BatchSize, cfg.Timeout)
		e.limiter = newLimiter(cfg.RateLimit)
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// newLimiter returns nil for a non-positive rate, meaning no limit.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// embedInBatches splits texts into request-sized groups and concatenates the
// results in input order. A non-nil limiter paces the requests.
func embedInBatches(ctx context.Context, texts []string, size int, limiter *rate.Limiter, fn batchFunc) ([][]float32, error) {
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vectors, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("batch %d-%d: got %d vectors for %d texts", start, end, len(vectors), end-start)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// normalize64 scales vec to unit length and converts it to float32.
func normalize64(vec []float64) []float32 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)

	embedding := make([]float32, len(vec))
	for i, x := range vec {
		if norm == 0 {
			embedding[i] = float32(x)
			continue
		}
		embedding[i] = float32(x / norm)
	}
	return embedding
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
