package usecase

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"cmsrag/internal/domain"
	"cmsrag/internal/port"
)

// RetrieveUseCase turns a natural-language query into a ranked set of
// supporting guideline chunks. The path has no side effects.
type RetrieveUseCase struct {
	embedder      port.Embedder
	vectors       port.VectorStore
	chunks        port.ChunkStore
	minSimilarity float64
	log           *log.Logger
}

func NewRetrieveUseCase(
	embedder port.Embedder,
	vectors port.VectorStore,
	chunks port.ChunkStore,
	minSimilarity float64,
	logger *log.Logger,
) *RetrieveUseCase {
	return &RetrieveUseCase{
		embedder:      embedder,
		vectors:       vectors,
		chunks:        chunks,
		minSimilarity: minSimilarity,
		log:           logger,
	}
}

// Retrieve returns up to k chunks ranked by similarity, dropping results
// below the configured threshold. An unpopulated index yields
// domain.ErrIndexEmpty so callers can render an explicit empty state.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error) {
	count, err := u.vectors.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to check index: %w", err)
	}
	if count == 0 {
		return nil, domain.ErrIndexEmpty
	}

	embeddings, err := u.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedding returned empty result")
	}

	results, err := u.vectors.Search(embeddings[0], k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	retrieved := make([]domain.RetrievedChunk, 0, len(results))
	for _, result := range results {
		if u.minSimilarity > 0 && result.Score < u.minSimilarity {
			continue
		}
		chunk, err := u.chunks.GetChunk(result.ID)
		if err != nil {
			// A hit without a chunk record means the index is inconsistent;
			// surface it instead of silently shrinking the results.
			u.log.Warn("dropping search hit without a chunk record", "id", result.ID, "err", err)
			continue
		}
		retrieved = append(retrieved, domain.RetrievedChunk{
			Chunk: chunk,
			Score: result.Score,
		})
	}

	return retrieved, nil
}
