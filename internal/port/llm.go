package port

import "context"

// StreamDelta is one fragment of a streamed generation. Err is non-nil only
// on the terminal delta of a failed stream; whatever content was delivered
// before it stands.
type StreamDelta struct {
	Content string
	Err     error
}

// LLM represents a text-generation provider.
type LLM interface {
	// Generate produces a completion for the given prompts.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// GenerateStream produces the completion as a lazy, finite sequence of
	// fragments. The channel is closed when generation finishes or the
	// context is cancelled; cancelling stops provider token consumption.
	// No retries are performed mid-stream.
	GenerateStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan StreamDelta, error)

	// ModelName returns the name of the model.
	ModelName() string
}
