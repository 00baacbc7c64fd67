package port

import "cmsrag/internal/domain"

// VectorStore stores and searches embedding vectors. It must support
// concurrent readers; ReplaceAll swaps the whole population atomically so a
// reader sees either the pre-ingestion snapshot or the final state.
type VectorStore interface {
	// Upsert adds or updates vectors by id. Re-upserting an id replaces the
	// prior vector and metadata, never duplicates.
	Upsert(items []VectorItem) error

	// ReplaceAll clears the store and writes items in a single exclusive
	// write phase. Used by full re-ingestion.
	ReplaceAll(items []VectorItem) error

	// DeleteAll empties the store, leaving it immediately queryable.
	DeleteAll() error

	// Search returns the k nearest vectors by cosine similarity, ties broken
	// by ascending document position. k is clamped to the population.
	Search(query []float32, k int) ([]VectorResult, error)

	// Count returns the number of stored vectors.
	Count() (int, error)
}

// VectorItem is a vector to be stored alongside its chunk ordering.
type VectorItem struct {
	ID       string
	Vector   []float32
	Position int
}

// VectorResult is a single search hit.
type VectorResult struct {
	ID       string
	Score    float64
	Position int
}

// ChunkStore persists chunk text and metadata keyed by chunk id.
type ChunkStore interface {
	PutChunks(chunks []domain.Chunk) error

	GetChunk(id string) (domain.Chunk, error)

	DeleteAll() error

	Count() (int, error)
}
