// Package rag finds the chunks relevant to a query and assembles them into the
// context handed to the answer generator.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"portfolio-rag/model"
	"portfolio-rag/store"
	"portfolio-rag/types"
)

// ContextDelimiter separates chunks in the assembled context.
const ContextDelimiter = "\n\n"

type Retriever struct {
	embedder model.EmbedderInterface
	store    store.VectorStorer
	minScore float64
	logger   *slog.Logger
}

// NewRetriever needs the embedder that was used at ingestion time. Hits scoring
// below minScore are dropped; zero keeps everything.
func NewRetriever(embedder model.EmbedderInterface, storer store.VectorStorer, minScore float64) *Retriever {
	return &Retriever{
		embedder: embedder,
		store:    storer,
		minScore: minScore,
		logger:   slog.Default(),
	}
}

// Retrieve returns at most k chunks ranked by descending relevance.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]types.RetrievalResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", types.ErrInvalidInput, k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", types.ErrInvalidInput)
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, types.RetrievalError("retrieve.embed", err)
	}

	hits, err := r.store.Search(ctx, vec, k)
	if err != nil {
		return nil, types.RetrievalError("retrieve.search", err)
	}

	results := make([]types.RetrievalResult, 0, min(len(hits), k))
	for _, hit := range hits {
		if len(results) == k {
			break
		}
		if r.minScore != 0 && hit.Score < r.minScore {
			r.logger.Debug("chunk below score threshold", "source", hit.SourceID, "seq", hit.SequenceIndex, "score", hit.Score)
			continue
		}
		results = append(results, types.RetrievalResult{
			ChunkText: hit.Text,
			SourceID:  hit.SourceID,
			Score:     hit.Score,
			Rank:      len(results),
		})
	}

	r.logger.Debug("context retrieved", "k", k, "hits", len(hits), "results", len(results))
	return results, nil
}

// Assemble joins the chunk texts in rank order.
func Assemble(results []types.RetrievalResult) string {
	parts := make([]string, len(results))
	for i, res := range results {
		parts[i] = res.ChunkText
	}
	return strings.Join(parts, ContextDelimiter)
}

// Ground retrieves and assembles the context for query in one step.
func (r *Retriever) Ground(ctx context.Context, query string, k int) (types.GroundedQuery, []types.RetrievalResult, error) {
	results, err := r.Retrieve(ctx, query, k)
	if err != nil {
		return types.GroundedQuery{}, nil, err
	}
	return types.GroundedQuery{
		QueryText:      query,
		ContextText:    Assemble(results),
		RetrievedCount: len(results),
	}, results, nil
}
