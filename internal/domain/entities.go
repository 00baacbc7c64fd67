package domain

// Page is a single extracted page of the source document.
type Page struct {
	Number        int
	Text          string
	SectionHeader string
}

// Chunk is a bounded, metadata-tagged span of document text used as the
// unit of retrieval. StartOffset/EndOffset describe the core byte range on
// the page; overlap text prepended from the previous chunk is part of Text
// but not of the offsets.
type Chunk struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	TokenCount    int    `json:"token_count"`
	PageNumber    int    `json:"page_number"`
	SectionHeader string `json:"section_header,omitempty"`
	StartOffset   int    `json:"start_offset"`
	EndOffset     int    `json:"end_offset"`
	Position      int    `json:"position"`
}

// RetrievedChunk is a read-only view of a chunk produced per query.
type RetrievedChunk struct {
	Chunk Chunk
	Score float64
}

// Source is a citation attached to a generated answer.
type Source struct {
	Text          string  `json:"text"`
	PageNumber    int     `json:"page_number"`
	SectionHeader string  `json:"section_header,omitempty"`
	Similarity    float64 `json:"similarity_score"`
}

// Answer is the result of the grounded Q&A path.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
	Query   string   `json:"query"`
}

// VisitNote is the validation input.
type VisitNote struct {
	PatientName string `json:"patient_name,omitempty"`
	Date        string `json:"date,omitempty"`
	VisitType   string `json:"visit_type,omitempty"`
	NoteText    string `json:"note_text"`
}

// Severity of a compliance violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// ValidSeverity reports whether s is one of the three known severities.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return true
	}
	return false
}

// Violation is a detected compliance issue with remediation text.
type Violation struct {
	Category           string   `json:"category"`
	Severity           Severity `json:"severity"`
	Description        string   `json:"description"`
	Recommendation     string   `json:"recommendation"`
	GuidelineReference string   `json:"guideline_reference,omitempty"`
}

// Status is the final compliance classification.
type Status string

const (
	StatusCompliant    Status = "compliant"
	StatusNeedsReview  Status = "needs_review"
	StatusNonCompliant Status = "non_compliant"
)

// GuidelineRef is a short excerpt of a guideline chunk that informed a
// validation verdict.
type GuidelineRef struct {
	Text          string `json:"text"`
	PageNumber    int    `json:"page_number"`
	SectionHeader string `json:"section_header,omitempty"`
}

// ValidationResult is derived deterministically from the violation set:
// Status and OverallScore are pure functions of the violation multiset.
type ValidationResult struct {
	Status        Status         `json:"status"`
	OverallScore  int            `json:"overall_score"`
	Violations    []Violation    `json:"violations"`
	Strengths     []string       `json:"strengths"`
	Summary       string         `json:"summary"`
	GuidelineRefs []GuidelineRef `json:"guideline_references,omitempty"`
	Degraded      bool           `json:"degraded,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// IndexStats describes the current state of the vector index.
type IndexStats struct {
	ChunkCount int    `json:"chunk_count"`
	Dimension  int    `json:"dimension"`
	Model      string `json:"model"`
	Pages      int    `json:"pages"`
}
