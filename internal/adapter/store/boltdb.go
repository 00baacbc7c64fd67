package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"cmsrag/internal/domain"
)

var (
	bucketChunks   = []byte("chunks")
	bucketBlobs    = []byte("blobs")
	bucketVectors  = []byte("vectors")
	bucketMeta     = []byte("meta")
	keyManifest    = []byte("manifest")
	allBuckets     = [][]byte{bucketChunks, bucketBlobs, bucketVectors, bucketMeta}
)

// BoltStore owns the bbolt database shared by the chunk store and the
// vector store.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Manifest records what the index was built from. A mismatch against the
// current config forces a full re-ingest instead of serving vectors from a
// different embedding space.
type Manifest struct {
	Model       string `json:"model"`
	Dimension   int    `json:"dimension"`
	Pages       int    `json:"pages"`
	ChunkCount  int    `json:"chunk_count"`
	Fingerprint string `json:"fingerprint"`
	IngestedAt  int64  `json:"ingested_at"`
}

func (s *BoltStore) PutManifest(m Manifest) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putManifest(tx, m)
	})
}

func putManifest(tx *bbolt.Tx, m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketMeta).Put(keyManifest, data)
}

// recreateBucket drops and re-creates a bucket within the caller's
// transaction, leaving it empty.
func recreateBucket(tx *bbolt.Tx, name []byte) (*bbolt.Bucket, error) {
	if err := tx.DeleteBucket(name); err != nil {
		return nil, err
	}
	return tx.CreateBucket(name)
}

// GetManifest returns the stored manifest and whether one exists.
func (s *BoltStore) GetManifest() (Manifest, bool, error) {
	var m Manifest
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyManifest)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &m)
	})
	return m, found, err
}

// chunkMeta is the stored form of a chunk minus its text, which lives in the
// blobs bucket keyed by the same id.
type chunkMeta struct {
	TokenCount    int    `json:"token_count"`
	PageNumber    int    `json:"page_number"`
	SectionHeader string `json:"section_header,omitempty"`
	StartOffset   int    `json:"start_offset"`
	EndOffset     int    `json:"end_offset"`
	Position      int    `json:"position"`
}

// ChunkStore persists chunk text and metadata in bbolt.
type ChunkStore struct {
	db *bbolt.DB
}

func NewChunkStore(s *BoltStore) *ChunkStore {
	return &ChunkStore{db: s.db}
}

func (s *ChunkStore) PutChunks(chunks []domain.Chunk) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putChunkRecords(tx, chunks)
	})
}

func putChunkRecords(tx *bbolt.Tx, chunks []domain.Chunk) error {
	chunkBucket := tx.Bucket(bucketChunks)
	blobBucket := tx.Bucket(bucketBlobs)

	for _, chunk := range chunks {
		meta := chunkMeta{
			TokenCount:    chunk.TokenCount,
			PageNumber:    chunk.PageNumber,
			SectionHeader: chunk.SectionHeader,
			StartOffset:   chunk.StartOffset,
			EndOffset:     chunk.EndOffset,
			Position:      chunk.Position,
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := chunkBucket.Put([]byte(chunk.ID), data); err != nil {
			return err
		}
		if err := blobBucket.Put([]byte(chunk.ID), []byte(chunk.Text)); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChunkStore) GetChunk(id string) (domain.Chunk, error) {
	var chunk domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChunks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("chunk not found: %s", id)
		}
		var meta chunkMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}
		text := tx.Bucket(bucketBlobs).Get([]byte(id))
		chunk = domain.Chunk{
			ID:            id,
			Text:          string(text),
			TokenCount:    meta.TokenCount,
			PageNumber:    meta.PageNumber,
			SectionHeader: meta.SectionHeader,
			StartOffset:   meta.StartOffset,
			EndOffset:     meta.EndOffset,
			Position:      meta.Position,
		}
		return nil
	})
	return chunk, err
}

func (s *ChunkStore) DeleteAll() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChunks, bucketBlobs} {
			if _, err := recreateBucket(tx, name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *ChunkStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketChunks).Stats().KeyN
		return nil
	})
	return count, err
}
