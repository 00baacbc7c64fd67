package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"cmsrag/internal/domain"
	"cmsrag/internal/port"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

type fakeEmbedder struct {
	dimension int
	err       error
	calls     int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dimension)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return f.dimension }
func (f *fakeEmbedder) ModelName() string { return "fake-embedder" }

type fakeVectorStore struct {
	items   map[string]port.VectorItem
	results []port.VectorResult
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{items: make(map[string]port.VectorItem)}
}

func (f *fakeVectorStore) Upsert(items []port.VectorItem) error {
	for _, it := range items {
		f.items[it.ID] = it
	}
	return nil
}

func (f *fakeVectorStore) ReplaceAll(items []port.VectorItem) error {
	f.items = make(map[string]port.VectorItem, len(items))
	return f.Upsert(items)
}

func (f *fakeVectorStore) DeleteAll() error { return f.ReplaceAll(nil) }

func (f *fakeVectorStore) Search(_ []float32, k int) ([]port.VectorResult, error) {
	if k > len(f.results) {
		k = len(f.results)
	}
	return f.results[:k], nil
}

func (f *fakeVectorStore) Count() (int, error) {
	if len(f.results) > 0 {
		return len(f.results), nil
	}
	return len(f.items), nil
}

type fakeChunkStore struct {
	chunks map[string]domain.Chunk
}

func newFakeChunkStore(chunks ...domain.Chunk) *fakeChunkStore {
	s := &fakeChunkStore{chunks: make(map[string]domain.Chunk)}
	s.PutChunks(chunks)
	return s
}

func (f *fakeChunkStore) PutChunks(chunks []domain.Chunk) error {
	for _, c := range chunks {
		f.chunks[c.ID] = c
	}
	return nil
}

func (f *fakeChunkStore) GetChunk(id string) (domain.Chunk, error) {
	c, ok := f.chunks[id]
	if !ok {
		return domain.Chunk{}, fmt.Errorf("chunk not found: %s", id)
	}
	return c, nil
}

func (f *fakeChunkStore) DeleteAll() error {
	f.chunks = make(map[string]domain.Chunk)
	return nil
}

func (f *fakeChunkStore) Count() (int, error) { return len(f.chunks), nil }

type fakeLLM struct {
	response string
	err      error
	calls    int
	deltas   []port.StreamDelta
}

func (f *fakeLLM) Generate(_ context.Context, _, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) GenerateStream(_ context.Context, _, _ string) (<-chan port.StreamDelta, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan port.StreamDelta, len(f.deltas))
	for _, d := range f.deltas {
		out <- d
	}
	close(out)
	return out, nil
}

func (f *fakeLLM) ModelName() string { return "fake-llm" }

type fakeChunker struct {
	chunks []domain.Chunk
	err    error
}

func (f *fakeChunker) Chunk(_ []domain.Page) ([]domain.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}
