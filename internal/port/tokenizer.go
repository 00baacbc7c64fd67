package port

// Tokenizer converts text to and from model tokens.
type Tokenizer interface {
	CountTokens(text string) int

	Encode(text string) []int

	// Decode of a contiguous token slice must yield the exact bytes those
	// tokens were encoded from.
	Decode(tokens []int) string
}
