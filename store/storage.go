package store

import (
	"context"
	"fmt"
	"math"

	"portfolio-rag/config"
	"portfolio-rag/types"
)

// VectorStorer persists embedded chunks and answers nearest-neighbour queries.
// All records of one store share a single vector dimension. Replace swaps the
// whole collection atomically: either every chunk is stored or nothing changes.
type VectorStorer interface {
	Upsert(context.Context, []types.EmbeddedChunk) error
	Replace(context.Context, []types.EmbeddedChunk) error
	Search(context.Context, []float32, int) ([]types.SearchHit, error)
	Count(context.Context) (int, error)
	Reset(context.Context) error
	Close() error
}

// New opens the backend selected in cfg and prepares it for use.
func New(ctx context.Context, cfg config.StoreConfig) (VectorStorer, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		s, err := NewPostgresStore(ctx, cfg.DSN, cfg.Dimension)
		if err != nil {
			return nil, types.ConfigurationError("store.open", err)
		}
		if err := s.Init(ctx); err != nil {
			s.Close()
			return nil, types.ConfigurationError("store.init", err)
		}
		return s, nil
	case config.BackendLocal, "":
		s, err := NewLocalStore(cfg.Path, cfg.Dimension)
		if err != nil {
			return nil, types.ConfigurationError("store.open", err)
		}
		return s, nil
	default:
		return nil, types.ConfigurationError("store.open", fmt.Errorf("unknown store backend %q", cfg.Backend))
	}
}

func checkDimension(want int, chunks []types.EmbeddedChunk) error {
	for _, c := range chunks {
		if len(c.Embedding) != want {
			return types.ConfigurationError("store.upsert", fmt.Errorf("%w: store has %d, chunk %s/%d has %d",
				types.ErrDimensionMismatch, want, c.Chunk.SourceID, c.Chunk.SequenceIndex, len(c.Embedding)))
		}
	}
	return nil
}

func checkQueryDimension(want int, vec []float32) error {
	if want != 0 && len(vec) != want {
		return types.ConfigurationError("store.search", fmt.Errorf("%w: store has %d, query has %d",
			types.ErrDimensionMismatch, want, len(vec)))
	}
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
