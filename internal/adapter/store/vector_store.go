package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.etcd.io/bbolt"

	"cmsrag/internal/domain"
	"cmsrag/internal/port"
)

// BoltVectorStore persists vectors in bbolt and mirrors them in memory for
// search. Brute-force cosine over the corpus; at guideline-manual scale this
// is a few thousand vectors. Readers proceed concurrently; ReplaceAll swaps
// the whole population under one write lock so a query sees either the old
// snapshot or the new one, never a mix.
type BoltVectorStore struct {
	db        *bbolt.DB
	dimension int

	mu      sync.RWMutex
	vectors map[string]vectorEntry
}

type vectorEntry struct {
	vector   []float32
	position int
}

type storedVector struct {
	Vector   []float32 `json:"v"`
	Position int       `json:"p"`
}

func NewBoltVectorStore(s *BoltStore, dimension int) (*BoltVectorStore, error) {
	store := &BoltVectorStore{
		db:        s.db,
		dimension: dimension,
		vectors:   make(map[string]vectorEntry),
	}
	if err := store.loadVectors(); err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return store, nil
}

func (s *BoltVectorStore) loadVectors() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // skip corrupted entries
			}
			s.vectors[string(k)] = vectorEntry{vector: stored.Vector, position: stored.Position}
			return nil
		})
	})
}

// Upsert adds or replaces vectors by id.
func (s *BoltVectorStore) Upsert(items []port.VectorItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeItems(items)
}

// ReplaceAll clears the store and writes items as one exclusive write phase.
func (s *BoltVectorStore) ReplaceAll(items []port.VectorItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := recreateBucket(tx, bucketVectors)
		if err != nil {
			return err
		}
		return putItems(b, items, s.dimension)
	})
	if err != nil {
		return err
	}

	s.swapMirror(items)
	return nil
}

// ReplaceIndex swaps the vector population, the chunk records and the
// manifest in a single transaction. Readers see the previous index until the
// commit, then the complete new one; a failed swap rolls everything back, so
// the index never holds vectors without their chunk records or vice versa.
func (s *BoltVectorStore) ReplaceIndex(items []port.VectorItem, chunks []domain.Chunk, m Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		vb, err := recreateBucket(tx, bucketVectors)
		if err != nil {
			return err
		}
		if err := putItems(vb, items, s.dimension); err != nil {
			return err
		}
		for _, name := range [][]byte{bucketChunks, bucketBlobs} {
			if _, err := recreateBucket(tx, name); err != nil {
				return err
			}
		}
		if err := putChunkRecords(tx, chunks); err != nil {
			return err
		}
		return putManifest(tx, m)
	})
	if err != nil {
		return err
	}

	s.swapMirror(items)
	return nil
}

// swapMirror replaces the in-memory search mirror. Callers hold the write
// lock and have already committed the matching bolt transaction.
func (s *BoltVectorStore) swapMirror(items []port.VectorItem) {
	fresh := make(map[string]vectorEntry, len(items))
	for _, item := range items {
		fresh[item.ID] = vectorEntry{vector: item.Vector, position: item.Position}
	}
	s.vectors = fresh
}

// DeleteAll empties the store, leaving it immediately queryable.
func (s *BoltVectorStore) DeleteAll() error {
	return s.ReplaceAll(nil)
}

func (s *BoltVectorStore) writeItems(items []port.VectorItem) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return putItems(tx.Bucket(bucketVectors), items, s.dimension)
	})
	if err != nil {
		return err
	}
	for _, item := range items {
		s.vectors[item.ID] = vectorEntry{vector: item.Vector, position: item.Position}
	}
	return nil
}

func putItems(b *bbolt.Bucket, items []port.VectorItem, dimension int) error {
	for _, item := range items {
		if len(item.Vector) != dimension {
			return fmt.Errorf("vector dimension mismatch for %s: expected %d, got %d", item.ID, dimension, len(item.Vector))
		}
		data, err := json.Marshal(storedVector{Vector: item.Vector, Position: item.Position})
		if err != nil {
			return err
		}
		if err := b.Put([]byte(item.ID), data); err != nil {
			return err
		}
	}
	return nil
}

// Search returns the k nearest vectors by cosine similarity, descending,
// ties broken by ascending document position so the earlier chunk wins.
func (s *BoltVectorStore) Search(query []float32, k int) ([]port.VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(query))
	}
	if len(s.vectors) == 0 || k <= 0 {
		return nil, nil
	}

	scores := make([]port.VectorResult, 0, len(s.vectors))
	for id, entry := range s.vectors {
		scores = append(scores, port.VectorResult{
			ID:       id,
			Score:    cosineSimilarity(query, entry.vector),
			Position: entry.position,
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Position < scores[j].Position
	})

	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

func (s *BoltVectorStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
