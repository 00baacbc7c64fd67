package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"cmsrag/internal/adapter/store"
	"cmsrag/internal/domain"
	"cmsrag/internal/port"
)

// ChunkRecord is the persisted intermediate artifact of an ingestion run,
// consumed by re-ingestion idempotence checks and useful for auditing what
// the index was built from.
type ChunkRecord struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	TokenCount    int    `json:"token_count"`
	PageNumber    int    `json:"page_number"`
	SectionHeader string `json:"section_header,omitempty"`
}

// IngestUseCase rebuilds the index from extracted pages: chunk, persist the
// chunk artifact, embed, then swap vectors, chunk records and manifest in a
// single transaction. A failed run, at any point, leaves the previous index
// fully intact.
type IngestUseCase struct {
	chunker      port.Chunker
	embedder     port.Embedder
	index        *store.BoltVectorStore
	bolt         *store.BoltStore
	artifactPath string
	batchSize    int
	log          *log.Logger
}

func NewIngestUseCase(
	chunker port.Chunker,
	embedder port.Embedder,
	index *store.BoltVectorStore,
	bolt *store.BoltStore,
	artifactPath string,
	batchSize int,
	logger *log.Logger,
) *IngestUseCase {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &IngestUseCase{
		chunker:      chunker,
		embedder:     embedder,
		index:        index,
		bolt:         bolt,
		artifactPath: artifactPath,
		batchSize:    batchSize,
		log:          logger,
	}
}

// IngestResult summarizes an ingestion run.
type IngestResult struct {
	Pages         int
	ChunksCreated int
	Embedded      int
	Skipped       bool
}

// ProgressFunc reports embedding progress as (done, total) chunks.
type ProgressFunc func(done, total int)

// Ingest runs the full pipeline. When the chunk fingerprint and embedding
// model match the stored manifest the run is skipped unless force is set.
func (u *IngestUseCase) Ingest(ctx context.Context, pages []domain.Page, force bool, progress ProgressFunc) (*IngestResult, error) {
	chunks, err := u.chunker.Chunk(pages)
	if err != nil {
		return nil, err
	}

	fingerprint := chunkFingerprint(chunks)

	manifest, found, err := u.bolt.GetManifest()
	if err != nil {
		return nil, fmt.Errorf("failed to read index manifest: %w", err)
	}
	if found && !force &&
		manifest.Fingerprint == fingerprint &&
		manifest.Model == u.embedder.ModelName() &&
		manifest.Dimension == u.embedder.Dimension() {
		u.log.Info("corpus unchanged, skipping re-ingestion", "chunks", len(chunks))
		return &IngestResult{Pages: len(pages), ChunksCreated: len(chunks), Skipped: true}, nil
	}

	if err := u.writeArtifact(chunks); err != nil {
		return nil, err
	}

	items, err := u.embedChunks(ctx, chunks, progress)
	if err != nil {
		return nil, err
	}

	// Exclusive write phase: vectors, chunk records and manifest land in one
	// transaction, so a failure here rolls back to the previous index.
	err = u.index.ReplaceIndex(items, chunks, store.Manifest{
		Model:       u.embedder.ModelName(),
		Dimension:   u.embedder.Dimension(),
		Pages:       len(pages),
		ChunkCount:  len(chunks),
		Fingerprint: fingerprint,
		IngestedAt:  time.Now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace index: %w", err)
	}

	return &IngestResult{
		Pages:         len(pages),
		ChunksCreated: len(chunks),
		Embedded:      len(items),
	}, nil
}

func (u *IngestUseCase) embedChunks(ctx context.Context, chunks []domain.Chunk, progress ProgressFunc) ([]port.VectorItem, error) {
	items := make([]port.VectorItem, 0, len(chunks))

	for start := 0; start < len(chunks); start += u.batchSize {
		end := start + u.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := u.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}

		for i, c := range batch {
			items = append(items, port.VectorItem{
				ID:       c.ID,
				Vector:   vectors[i],
				Position: c.Position,
			})
		}
		if progress != nil {
			progress(end, len(chunks))
		}
	}

	return items, nil
}

func (u *IngestUseCase) writeArtifact(chunks []domain.Chunk) error {
	if u.artifactPath == "" {
		return nil
	}

	records := make([]ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = ChunkRecord{
			ID:            c.ID,
			Text:          c.Text,
			TokenCount:    c.TokenCount,
			PageNumber:    c.PageNumber,
			SectionHeader: c.SectionHeader,
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chunk records: %w", err)
	}
	if err := os.WriteFile(u.artifactPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write chunk artifact: %w", err)
	}
	return nil
}

// chunkFingerprint hashes the ordered chunk ids. Chunk ids derive from page
// and offsets, so an unchanged document yields an unchanged fingerprint.
func chunkFingerprint(chunks []domain.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.ID)
		b.WriteByte('\n')
	}
	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}
