package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Tokenizer counts and splits text into model tokens using tiktoken.
// cl100k_base matches the tokenization of the embedding models used for the
// guideline corpus, so chunk budgets line up with provider limits.
type Tokenizer struct {
	encodingName string
	tke          *tiktoken.Tiktoken
}

// New creates a tokenizer for the given encoding, falling back to
// cl100k_base when the name is empty or unknown.
func New(encodingName string) (*Tokenizer, error) {
	if encodingName == "" {
		encodingName = defaultEncoding
	}

	tke, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		tke, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load encoding %q: %w", defaultEncoding, err)
		}
		encodingName = defaultEncoding
	}

	return &Tokenizer{encodingName: encodingName, tke: tke}, nil
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.tke.Encode(text, nil, nil))
}

// Encode splits text into token ids.
func (t *Tokenizer) Encode(text string) []int {
	return t.tke.Encode(text, nil, nil)
}

// Decode reassembles token ids into text. Decoding a contiguous slice of
// tokens produced by Encode yields the exact corresponding bytes, which the
// chunker relies on for overlap extraction.
func (t *Tokenizer) Decode(tokens []int) string {
	return t.tke.Decode(tokens)
}

// EncodingName returns the active encoding name.
func (t *Tokenizer) EncodingName() string {
	return t.encodingName
}
