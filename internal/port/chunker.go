package port

import "cmsrag/internal/domain"

type Chunker interface {
	Chunk(pages []domain.Page) ([]domain.Chunk, error)
}
