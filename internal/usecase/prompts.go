package usecase

import (
	"fmt"
	"strings"

	"cmsrag/internal/domain"
)

const qaSystemPrompt = `You are a CMS (Centers for Medicare & Medicaid Services) compliance expert specializing in home health care regulations. Your role is to provide accurate, helpful information about Medicare guidelines based on the provided context.

Guidelines:
- Answer questions based ONLY on the provided context from CMS guidelines
- If the answer is not in the context, clearly state that you don't have enough information
- Cite specific sections or requirements when possible, including page numbers from the sources
- Be precise and professional, using clear, accessible language`

const qaUserPromptTemplate = `Based on the following context from CMS Medicare guidelines, please answer the question.

CONTEXT:
%s

QUESTION: %s

Provide a clear, accurate answer based on the context above. If the context doesn't contain enough information to fully answer the question, state that clearly.`

const validationSystemPrompt = `You are a CMS compliance auditor specializing in home health care documentation. You review visit notes and identify compliance issues according to Medicare regulations.

Analyze the visit note against the provided CMS guideline excerpts and respond with ONLY a JSON object in exactly this shape:

{
  "violations": [
    {
      "category": "short_snake_case_category",
      "severity": "critical|major|minor",
      "description": "what is wrong",
      "recommendation": "how to fix it",
      "guideline_reference": "relevant CMS section, if known"
    }
  ],
  "strengths": ["well-documented aspect"]
}

Only report violations grounded in the provided guideline excerpts. Use an empty array when there is nothing to report. Do not include any text outside the JSON object.`

const validationUserPromptTemplate = `Review the following home health visit note for CMS compliance.

VISIT NOTE:
%s

RELEVANT CMS GUIDELINES:
%s`

// insufficientInfoAnswer is returned verbatim when no retrieved chunk clears
// the similarity threshold; the generation provider is never called in that
// case.
const insufficientInfoAnswer = "I don't have enough information in the indexed CMS guidelines to answer this question. Try rephrasing it, or ingest the relevant guideline document first."

// formatContext renders retrieved chunks into the prompt context block.
func formatContext(results []domain.RetrievedChunk) string {
	parts := make([]string, len(results))
	for i, r := range results {
		header := "General"
		if r.Chunk.SectionHeader != "" {
			header = r.Chunk.SectionHeader
		}
		parts[i] = fmt.Sprintf("[Section: %s - Page %d]\n%s", header, r.Chunk.PageNumber, r.Chunk.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func qaPrompt(question string, results []domain.RetrievedChunk) (string, string) {
	return qaSystemPrompt, fmt.Sprintf(qaUserPromptTemplate, formatContext(results), question)
}

func validationPrompt(noteText string, results []domain.RetrievedChunk) (string, string) {
	return validationSystemPrompt, fmt.Sprintf(validationUserPromptTemplate, noteText, formatContext(results))
}
