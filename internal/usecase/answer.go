package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"cmsrag/internal/domain"
	"cmsrag/internal/port"
)

// AnswerUseCase composes grounded answers with citations for the Q&A path.
type AnswerUseCase struct {
	retrieve *RetrieveUseCase
	llm      port.LLM
	log      *log.Logger
}

func NewAnswerUseCase(retrieve *RetrieveUseCase, llm port.LLM, logger *log.Logger) *AnswerUseCase {
	return &AnswerUseCase{retrieve: retrieve, llm: llm, log: logger}
}

// Answer retrieves supporting chunks and generates an answer grounded in
// them. When nothing clears the similarity threshold the fixed
// insufficient-information answer is returned without calling the provider.
func (u *AnswerUseCase) Answer(ctx context.Context, query string, k int) (domain.Answer, error) {
	results, err := u.retrieveContext(ctx, query, k)
	if err != nil {
		return domain.Answer{}, err
	}
	if len(results) == 0 {
		return domain.Answer{Text: insufficientInfoAnswer, Sources: []domain.Source{}, Query: query}, nil
	}

	system, user := qaPrompt(query, results)
	text, err := u.llm.Generate(ctx, system, user)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("answer generation failed: %w", err)
	}

	return domain.Answer{
		Text:    text,
		Sources: sourcesFrom(results),
		Query:   query,
	}, nil
}

// AnswerStream is the incremental-delivery variant. The returned sources
// describe the retrieved grounding but should be presented only after the
// stream completes; the stream itself only touches the generation call, so
// cancelling mid-stream leaves the index untouched.
func (u *AnswerUseCase) AnswerStream(ctx context.Context, query string, k int) ([]domain.Source, <-chan port.StreamDelta, error) {
	results, err := u.retrieveContext(ctx, query, k)
	if err != nil {
		return nil, nil, err
	}
	if len(results) == 0 {
		out := make(chan port.StreamDelta, 1)
		out <- port.StreamDelta{Content: insufficientInfoAnswer}
		close(out)
		return []domain.Source{}, out, nil
	}

	system, user := qaPrompt(query, results)
	stream, err := u.llm.GenerateStream(ctx, system, user)
	if err != nil {
		return nil, nil, fmt.Errorf("answer generation failed: %w", err)
	}
	return sourcesFrom(results), stream, nil
}

// retrieveContext maps an empty index to an empty result set so both answer
// paths fall through to the insufficient-information response.
func (u *AnswerUseCase) retrieveContext(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error) {
	results, err := u.retrieve.Retrieve(ctx, query, k)
	if err != nil {
		if errors.Is(err, domain.ErrIndexEmpty) {
			u.log.Warn("query against empty index", "query", query)
			return nil, nil
		}
		return nil, err
	}
	return results, nil
}

func sourcesFrom(results []domain.RetrievedChunk) []domain.Source {
	sources := make([]domain.Source, len(results))
	for i, r := range results {
		sources[i] = domain.Source{
			Text:          r.Chunk.Text,
			PageNumber:    r.Chunk.PageNumber,
			SectionHeader: r.Chunk.SectionHeader,
			Similarity:    r.Score,
		}
	}
	return sources
}
