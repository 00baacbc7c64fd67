package domain

import (
	"errors"
	"fmt"
)

// ErrIndexEmpty signals that the vector index has no entries yet. Queries
// map it to an explicit empty-state response, not a failure.
var ErrIndexEmpty = errors.New("vector index is empty; run ingest first")

// ChunkingError reports bad ingestion input. Fatal to the ingestion run.
type ChunkingError struct {
	Reason string
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunking failed: %s", e.Reason)
}

// EmbeddingError reports an embedding provider failure after retries are
// exhausted. Fatal to the enclosing operation.
type EmbeddingError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// ParseError reports malformed provider output. Swallowed at the call site
// and treated as empty findings.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse provider output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
