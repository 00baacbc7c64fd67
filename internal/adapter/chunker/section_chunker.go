package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"cmsrag/internal/domain"
	"cmsrag/internal/port"
)

var (
	paragraphSep = regexp.MustCompile(`\n[ \t]*\n+`)
	sentenceEnd  = regexp.MustCompile(`[.!?]+[ \t\n]+`)
)

// SectionChunker splits extracted pages into overlapping token-bounded
// chunks. Splits land on paragraph boundaries where possible, then sentence
// boundaries, then raw token boundaries. Core regions tile each page
// byte-for-byte; overlap text is the token tail of the previous core,
// prepended to the next chunk without affecting its offsets.
type SectionChunker struct {
	minTokens int
	maxTokens int
	overlap   int
	codec     port.Tokenizer
}

func NewSectionChunker(minTokens, maxTokens, overlap int, codec port.Tokenizer) *SectionChunker {
	return &SectionChunker{
		minTokens: minTokens,
		maxTokens: maxTokens,
		overlap:   overlap,
		codec:     codec,
	}
}

type span struct {
	start int
	end   int
}

func (c *SectionChunker) Chunk(pages []domain.Page) ([]domain.Chunk, error) {
	if c.minTokens > c.maxTokens {
		return nil, &domain.ChunkingError{Reason: fmt.Sprintf("min_tokens (%d) > max_tokens (%d)", c.minTokens, c.maxTokens)}
	}
	budget := c.maxTokens - c.overlap
	if budget <= 0 {
		return nil, &domain.ChunkingError{Reason: fmt.Sprintf("overlap_tokens (%d) must be smaller than max_tokens (%d)", c.overlap, c.maxTokens)}
	}

	total := 0
	for _, p := range pages {
		total += len(strings.TrimSpace(p.Text))
	}
	if total == 0 {
		return nil, &domain.ChunkingError{Reason: "document text is empty"}
	}

	var chunks []domain.Chunk
	var lastHeader string
	overlapText := ""

	for _, page := range pages {
		header := page.SectionHeader
		if header == "" {
			header = lastHeader
		} else {
			lastHeader = header
		}
		if strings.TrimSpace(page.Text) == "" {
			continue
		}

		for _, core := range c.splitPage(page.Text, budget) {
			coreText := page.Text[core.start:core.end]
			text := overlapText + coreText
			chunks = append(chunks, domain.Chunk{
				ID:            chunkID(page.Number, core.start, core.end),
				Text:          text,
				TokenCount:    c.codec.CountTokens(text),
				PageNumber:    page.Number,
				SectionHeader: header,
				StartOffset:   core.start,
				EndOffset:     core.end,
				Position:      len(chunks),
			})
			overlapText = c.tail(coreText)
		}
	}

	return chunks, nil
}

// splitPage partitions text into core spans of at most budget tokens,
// breaking at paragraph or sentence boundaries when the accumulated span has
// reached minTokens, and at raw token boundaries otherwise.
func (c *SectionChunker) splitPage(text string, budget int) []span {
	units := c.units(text, budget)

	var out []span
	cur := span{-1, -1}
	curTokens := 0

	flush := func() {
		if cur.start >= 0 && cur.end > cur.start {
			out = append(out, cur)
		}
		cur = span{-1, -1}
		curTokens = 0
	}

	for i := 0; i < len(units); i++ {
		u := units[i]
		uTokens := c.codec.CountTokens(text[u.start:u.end])

		if cur.start < 0 {
			cur = u
			curTokens = uTokens
			continue
		}

		if curTokens+uTokens <= budget {
			cur.end = u.end
			curTokens += uTokens
			continue
		}

		// The natural break would leave the chunk under min size: fill it to
		// the budget from the front of the next unit instead.
		if curTokens < c.minTokens {
			head, rest := c.splitAt(text, u, budget-curTokens)
			if head.end > head.start {
				cur.end = head.end
				flush()
				if rest.end > rest.start {
					units[i] = rest
					i--
				}
				continue
			}
		}

		flush()
		cur = u
		curTokens = uTokens
	}
	flush()

	return out
}

// units tiles text with paragraph spans, splitting oversized paragraphs at
// sentence boundaries and oversized sentences at token boundaries so every
// unit fits within budget. Separators stay attached to the preceding unit.
func (c *SectionChunker) units(text string, budget int) []span {
	var out []span
	for _, p := range boundarySpans(text, span{0, len(text)}, paragraphSep) {
		if c.codec.CountTokens(text[p.start:p.end]) <= budget {
			out = append(out, p)
			continue
		}
		for _, s := range boundarySpans(text, p, sentenceEnd) {
			if c.codec.CountTokens(text[s.start:s.end]) <= budget {
				out = append(out, s)
				continue
			}
			out = append(out, c.tokenSplit(text, s, budget)...)
		}
	}
	return out
}

// boundarySpans splits the region of text at each separator match, keeping
// the separator bytes with the preceding span so the spans tile the region.
func boundarySpans(text string, region span, sep *regexp.Regexp) []span {
	segment := text[region.start:region.end]
	matches := sep.FindAllStringIndex(segment, -1)

	var out []span
	prev := 0
	for _, m := range matches {
		if m[1] >= len(segment) {
			break
		}
		out = append(out, span{region.start + prev, region.start + m[1]})
		prev = m[1]
	}
	if prev < len(segment) {
		out = append(out, span{region.start + prev, region.end})
	}
	return out
}

// tokenSplit cuts the region into budget-sized token runs. Token ids decode
// back to the exact bytes they were encoded from, so byte offsets are
// recovered from decoded piece lengths.
func (c *SectionChunker) tokenSplit(text string, region span, budget int) []span {
	toks := c.codec.Encode(text[region.start:region.end])

	var out []span
	offset := region.start
	for i := 0; i < len(toks); i += budget {
		end := i + budget
		if end > len(toks) {
			end = len(toks)
		}
		piece := c.codec.Decode(toks[i:end])
		out = append(out, span{offset, offset + len(piece)})
		offset += len(piece)
	}
	return out
}

// splitAt cuts the region after n tokens.
func (c *SectionChunker) splitAt(text string, region span, n int) (span, span) {
	if n <= 0 {
		return span{region.start, region.start}, region
	}
	toks := c.codec.Encode(text[region.start:region.end])
	if n >= len(toks) {
		return region, span{region.end, region.end}
	}
	head := c.codec.Decode(toks[:n])
	mid := region.start + len(head)
	return span{region.start, mid}, span{mid, region.end}
}

// tail returns the last overlap tokens of core as text.
func (c *SectionChunker) tail(core string) string {
	if c.overlap <= 0 {
		return ""
	}
	toks := c.codec.Encode(core)
	if len(toks) <= c.overlap {
		return core
	}
	return c.codec.Decode(toks[len(toks)-c.overlap:])
}

func chunkID(page, start, end int) string {
	data := fmt.Sprintf("%d:%d-%d", page, start, end)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
