package chunker

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"cmsrag/internal/domain"
)

// byteTokenizer treats every byte as one token. Decoding a token slice
// always reproduces the exact bytes it was encoded from, which is the
// property the chunker relies on for offset arithmetic.
type byteTokenizer struct{}

func (byteTokenizer) CountTokens(text string) int { return len(text) }

func (byteTokenizer) Encode(text string) []int {
	toks := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		toks[i] = int(text[i])
	}
	return toks
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

func testPages() []domain.Page {
	return []domain.Page{
		{
			Number:        1,
			SectionHeader: "30.1.1 - Homebound Requirement",
			Text: "The patient must be confined to the home. Leaving home requires a considerable and taxing effort.\n\n" +
				"Absences from the home must be infrequent or of short duration. Attendance at religious services is permitted.\n\n" +
				"A physician must certify the homebound status at the start of care.",
		},
		{
			Number: 2,
			Text: "Skilled nursing services must be reasonable and necessary. The services require the skills of a registered nurse.\n\n" +
				"Documentation must support the medical necessity of every visit.",
		},
	}
}

func TestChunkEmptyDocument(t *testing.T) {
	c := NewSectionChunker(10, 50, 5, byteTokenizer{})

	_, err := c.Chunk([]domain.Page{{Number: 1, Text: "   \n  "}})
	var chunkErr *domain.ChunkingError
	if !errors.As(err, &chunkErr) {
		t.Fatalf("expected ChunkingError, got %v", err)
	}
}

func TestChunkInvalidBounds(t *testing.T) {
	tests := []struct {
		name                string
		min, max, overlap   int
	}{
		{"min above max", 100, 50, 5},
		{"overlap equals max", 10, 50, 50},
		{"overlap above max", 10, 50, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewSectionChunker(tt.min, tt.max, tt.overlap, byteTokenizer{})
			_, err := c.Chunk(testPages())
			var chunkErr *domain.ChunkingError
			if !errors.As(err, &chunkErr) {
				t.Fatalf("expected ChunkingError, got %v", err)
			}
		})
	}
}

func TestChunkCoreSpansTilePages(t *testing.T) {
	c := NewSectionChunker(20, 80, 10, byteTokenizer{})
	pages := testPages()

	chunks, err := c.Chunk(pages)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// Concatenating core spans per page must reconstruct the page exactly.
	for _, page := range pages {
		var b strings.Builder
		prev := 0
		for _, ch := range chunks {
			if ch.PageNumber != page.Number {
				continue
			}
			if ch.StartOffset != prev {
				t.Errorf("page %d: chunk core starts at %d, expected %d", page.Number, ch.StartOffset, prev)
			}
			b.WriteString(page.Text[ch.StartOffset:ch.EndOffset])
			prev = ch.EndOffset
		}
		if b.String() != page.Text {
			t.Errorf("page %d: core spans do not reconstruct the page text", page.Number)
		}
	}
}

func TestChunkOverlapPrefix(t *testing.T) {
	overlap := 10
	c := NewSectionChunker(20, 80, overlap, byteTokenizer{})
	pages := testPages()

	chunks, err := c.Chunk(pages)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	pageText := map[int]string{}
	for _, p := range pages {
		pageText[p.Number] = p.Text
	}

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		prevCore := pageText[prev.PageNumber][prev.StartOffset:prev.EndOffset]
		wantPrefix := prevCore
		if len(prevCore) > overlap {
			wantPrefix = prevCore[len(prevCore)-overlap:]
		}
		if !strings.HasPrefix(chunks[i].Text, wantPrefix) {
			t.Errorf("chunk %d: missing overlap prefix from previous chunk", i)
		}
	}
}

func TestChunkTokenBudget(t *testing.T) {
	maxTokens := 80
	c := NewSectionChunker(20, maxTokens, 10, byteTokenizer{})

	chunks, err := c.Chunk(testPages())
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	for _, ch := range chunks {
		if ch.TokenCount > maxTokens {
			t.Errorf("chunk %s: token count %d exceeds max %d", ch.ID, ch.TokenCount, maxTokens)
		}
		if ch.TokenCount != len(ch.Text) {
			t.Errorf("chunk %s: token count %d does not match text", ch.ID, ch.TokenCount)
		}
	}
}

func TestChunkDeterministic(t *testing.T) {
	c := NewSectionChunker(20, 80, 10, byteTokenizer{})

	first, err := c.Chunk(testPages())
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	second, err := c.Chunk(testPages())
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("chunking the same pages twice produced different results")
	}
}

func TestChunkSectionHeaderInheritance(t *testing.T) {
	c := NewSectionChunker(5, 200, 0, byteTokenizer{})
	pages := []domain.Page{
		{Number: 1, SectionHeader: "Section 40 - Covered Services", Text: "Skilled services are covered."},
		{Number: 2, Text: "Continuation text without its own heading."},
		{Number: 3, SectionHeader: "Section 50 - Excluded Services", Text: "Custodial care is excluded."},
	}

	chunks, err := c.Chunk(pages)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	byPage := map[int]string{}
	for _, ch := range chunks {
		byPage[ch.PageNumber] = ch.SectionHeader
	}
	if byPage[2] != "Section 40 - Covered Services" {
		t.Errorf("page 2 should inherit the preceding header, got %q", byPage[2])
	}
	if byPage[3] != "Section 50 - Excluded Services" {
		t.Errorf("page 3 header = %q", byPage[3])
	}
}

func TestChunkPositionsSequential(t *testing.T) {
	c := NewSectionChunker(20, 80, 10, byteTokenizer{})

	chunks, err := c.Chunk(testPages())
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	for i, ch := range chunks {
		if ch.Position != i {
			t.Errorf("chunk %d has position %d", i, ch.Position)
		}
		if ch.ID == "" {
			t.Errorf("chunk %d has empty id", i)
		}
	}
}

func TestChunkSinglePageSmallerThanBudget(t *testing.T) {
	c := NewSectionChunker(5, 500, 50, byteTokenizer{})
	pages := []domain.Page{{Number: 1, Text: "A short page that fits in one chunk."}}

	chunks, err := c.Chunk(pages)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != pages[0].Text {
		t.Errorf("chunk text = %q", chunks[0].Text)
	}
	if chunks[0].StartOffset != 0 || chunks[0].EndOffset != len(pages[0].Text) {
		t.Errorf("chunk offsets = [%d, %d)", chunks[0].StartOffset, chunks[0].EndOffset)
	}
}
