package store

import (
	"math"
	"path/filepath"
	"testing"

	"cmsrag/internal/domain"
	"cmsrag/internal/port"
)

func openTestStore(t *testing.T) (*BoltStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	st, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, path
}

func unitVector(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestVectorStoreUpsertReplacesByID(t *testing.T) {
	st, _ := openTestStore(t)
	vs, err := NewBoltVectorStore(st, 4)
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}

	if err := vs.Upsert([]port.VectorItem{{ID: "a", Vector: unitVector(4, 0), Position: 0}}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	// Re-upserting the same id replaces the vector, never duplicates.
	if err := vs.Upsert([]port.VectorItem{{ID: "a", Vector: unitVector(4, 1), Position: 0}}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if n, _ := vs.Count(); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	results, err := vs.Search(unitVector(4, 1), 1)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || math.Abs(results[0].Score-1.0) > 1e-6 {
		t.Errorf("replacement vector not searchable: %+v", results)
	}
}

func TestVectorStoreSearchRanking(t *testing.T) {
	st, _ := openTestStore(t)
	vs, err := NewBoltVectorStore(st, 4)
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}

	items := []port.VectorItem{
		{ID: "exact", Vector: []float32{1, 0, 0, 0}, Position: 2},
		{ID: "close", Vector: []float32{1, 0.5, 0, 0}, Position: 0},
		{ID: "far", Vector: []float32{0, 0, 1, 0}, Position: 1},
	}
	if err := vs.Upsert(items); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	results, err := vs.Search([]float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].ID != "exact" || math.Abs(results[0].Score-1.0) > 1e-6 {
		t.Errorf("top result = %+v, want exact match with similarity 1", results[0])
	}
	if results[1].ID != "close" || results[2].ID != "far" {
		t.Errorf("ranking = %s, %s", results[1].ID, results[2].ID)
	}
}

func TestVectorStoreSearchTieBreakByPosition(t *testing.T) {
	st, _ := openTestStore(t)
	vs, err := NewBoltVectorStore(st, 4)
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}

	// Identical vectors, identical scores: the earlier chunk wins.
	items := []port.VectorItem{
		{ID: "later", Vector: unitVector(4, 0), Position: 5},
		{ID: "earlier", Vector: unitVector(4, 0), Position: 1},
	}
	if err := vs.Upsert(items); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	results, err := vs.Search(unitVector(4, 0), 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if results[0].ID != "earlier" {
		t.Errorf("tie should go to the earlier position, got %s", results[0].ID)
	}
}

func TestVectorStoreSearchClampsK(t *testing.T) {
	st, _ := openTestStore(t)
	vs, err := NewBoltVectorStore(st, 4)
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}
	if err := vs.Upsert([]port.VectorItem{{ID: "a", Vector: unitVector(4, 0)}}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	results, err := vs.Search(unitVector(4, 0), 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want population size", len(results))
	}
}

func TestVectorStoreDimensionMismatch(t *testing.T) {
	st, _ := openTestStore(t)
	vs, err := NewBoltVectorStore(st, 4)
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}

	if err := vs.Upsert([]port.VectorItem{{ID: "bad", Vector: []float32{1, 2}}}); err == nil {
		t.Error("expected error storing a wrong-dimension vector")
	}
	if _, err := vs.Search([]float32{1, 2}, 1); err == nil {
		t.Error("expected error searching with a wrong-dimension query")
	}
}

func TestVectorStoreReplaceAll(t *testing.T) {
	st, _ := openTestStore(t)
	vs, err := NewBoltVectorStore(st, 4)
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}

	if err := vs.Upsert([]port.VectorItem{
		{ID: "old1", Vector: unitVector(4, 0)},
		{ID: "old2", Vector: unitVector(4, 1)},
	}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := vs.ReplaceAll([]port.VectorItem{{ID: "new", Vector: unitVector(4, 2)}}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	if n, _ := vs.Count(); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	results, _ := vs.Search(unitVector(4, 0), 5)
	for _, r := range results {
		if r.ID == "old1" || r.ID == "old2" {
			t.Errorf("stale vector %s survived ReplaceAll", r.ID)
		}
	}

	if err := vs.DeleteAll(); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n, _ := vs.Count(); n != 0 {
		t.Errorf("count = %d after DeleteAll", n)
	}
}

func TestReplaceIndexSwapsEverything(t *testing.T) {
	st, _ := openTestStore(t)
	vs, err := NewBoltVectorStore(st, 4)
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}
	cs := NewChunkStore(st)

	seed := Manifest{Model: "m", Dimension: 4, ChunkCount: 1, Fingerprint: "old"}
	err = vs.ReplaceIndex(
		[]port.VectorItem{{ID: "old1", Vector: unitVector(4, 0), Position: 0}},
		[]domain.Chunk{{ID: "old1", Text: "old text", Position: 0}},
		seed,
	)
	if err != nil {
		t.Fatalf("seed swap failed: %v", err)
	}

	err = vs.ReplaceIndex(
		[]port.VectorItem{
			{ID: "new1", Vector: unitVector(4, 1), Position: 0},
			{ID: "new2", Vector: unitVector(4, 2), Position: 1},
		},
		[]domain.Chunk{
			{ID: "new1", Text: "first", Position: 0},
			{ID: "new2", Text: "second", Position: 1},
		},
		Manifest{Model: "m", Dimension: 4, ChunkCount: 2, Fingerprint: "new"},
	)
	if err != nil {
		t.Fatalf("swap failed: %v", err)
	}

	if n, _ := vs.Count(); n != 2 {
		t.Errorf("vector count = %d, want 2", n)
	}
	if n, _ := cs.Count(); n != 2 {
		t.Errorf("chunk count = %d, want 2", n)
	}
	if _, err := cs.GetChunk("old1"); err == nil {
		t.Error("old chunk survived the swap")
	}
	if got, err := cs.GetChunk("new1"); err != nil || got.Text != "first" {
		t.Errorf("new chunk = %+v, err = %v", got, err)
	}
	manifest, found, err := st.GetManifest()
	if err != nil || !found {
		t.Fatalf("manifest missing: found=%v err=%v", found, err)
	}
	if manifest.Fingerprint != "new" || manifest.ChunkCount != 2 {
		t.Errorf("manifest = %+v", manifest)
	}
}

func TestReplaceIndexRollsBackOnFailure(t *testing.T) {
	st, _ := openTestStore(t)
	vs, err := NewBoltVectorStore(st, 4)
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}
	cs := NewChunkStore(st)

	err = vs.ReplaceIndex(
		[]port.VectorItem{{ID: "old1", Vector: unitVector(4, 0), Position: 0}},
		[]domain.Chunk{{ID: "old1", Text: "old text", Position: 0}},
		Manifest{Model: "m", Dimension: 4, ChunkCount: 1, Fingerprint: "old"},
	)
	if err != nil {
		t.Fatalf("seed swap failed: %v", err)
	}

	// A wrong-dimension vector aborts the transaction after the old
	// population has already been dropped inside it.
	err = vs.ReplaceIndex(
		[]port.VectorItem{{ID: "bad", Vector: []float32{1, 2}, Position: 0}},
		[]domain.Chunk{{ID: "bad", Text: "never stored", Position: 0}},
		Manifest{Model: "m", Dimension: 4, ChunkCount: 1, Fingerprint: "bad"},
	)
	if err == nil {
		t.Fatal("expected swap to fail on a dimension mismatch")
	}

	// Nothing from the failed swap is visible: not in memory, not on disk.
	if n, _ := vs.Count(); n != 1 {
		t.Errorf("vector count = %d, want 1", n)
	}
	results, err := vs.Search(unitVector(4, 0), 1)
	if err != nil || len(results) != 1 || results[0].ID != "old1" {
		t.Errorf("search after failed swap = %+v, err = %v", results, err)
	}
	if _, err := cs.GetChunk("old1"); err != nil {
		t.Errorf("old chunk should survive a failed swap: %v", err)
	}
	if _, err := cs.GetChunk("bad"); err == nil {
		t.Error("chunk from the failed swap must not be persisted")
	}
	manifest, _, err := st.GetManifest()
	if err != nil {
		t.Fatalf("failed to read manifest: %v", err)
	}
	if manifest.Fingerprint != "old" {
		t.Errorf("manifest fingerprint = %q, want old", manifest.Fingerprint)
	}
}

func TestVectorStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	st, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	vs, err := NewBoltVectorStore(st, 4)
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}
	if err := vs.Upsert([]port.VectorItem{{ID: "a", Vector: unitVector(4, 0), Position: 3}}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	st.Close()

	st2, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer st2.Close()
	vs2, err := NewBoltVectorStore(st2, 4)
	if err != nil {
		t.Fatalf("failed to reopen vector store: %v", err)
	}

	results, err := vs2.Search(unitVector(4, 0), 1)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" || results[0].Position != 3 {
		t.Errorf("reloaded results = %+v", results)
	}
}

func TestChunkStoreRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)
	cs := NewChunkStore(st)

	chunks := []domain.Chunk{
		{ID: "c1", Text: "Homebound means confined to the home.", TokenCount: 7, PageNumber: 12, SectionHeader: "30.1.1", StartOffset: 0, EndOffset: 37, Position: 0},
		{ID: "c2", Text: "Second chunk.", TokenCount: 2, PageNumber: 13, Position: 1},
	}
	if err := cs.PutChunks(chunks); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := cs.GetChunk("c1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != chunks[0] {
		t.Errorf("chunk round trip mismatch: %+v", got)
	}

	if n, _ := cs.Count(); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	if _, err := cs.GetChunk("missing"); err == nil {
		t.Error("expected error for unknown chunk id")
	}

	if err := cs.DeleteAll(); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n, _ := cs.Count(); n != 0 {
		t.Errorf("count = %d after DeleteAll", n)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)

	if _, found, err := st.GetManifest(); err != nil || found {
		t.Fatalf("fresh store should have no manifest: found=%v err=%v", found, err)
	}

	want := Manifest{
		Model:       "text-embedding-3-small",
		Dimension:   1536,
		Pages:       120,
		ChunkCount:  340,
		Fingerprint: "abc123",
		IngestedAt:  1735689600,
	}
	if err := st.PutManifest(want); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, found, err := st.GetManifest()
	if err != nil || !found {
		t.Fatalf("manifest missing: found=%v err=%v", found, err)
	}
	if got != want {
		t.Errorf("manifest = %+v, want %+v", got, want)
	}
}
