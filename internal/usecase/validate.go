package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"cmsrag/internal/adapter/rules"
	"cmsrag/internal/domain"
	"cmsrag/internal/port"
)

// Score deductions per violation severity. The overall score is
// 100 minus the summed deductions, clamped at zero.
const (
	criticalDeduction = 30
	majorDeduction    = 15
	minorDeduction    = 5
)

// Status thresholds over the computed score.
const (
	nonCompliantBelow = 60
	compliantFrom     = 80
)

const maxGuidelineRefs = 3
const guidelineExcerptLen = 200

// defaultStrengths is reported when a note passes every deterministic rule
// and the model contributed no strengths of its own.
var defaultStrengths = []string{
	"All required documentation elements are present",
	"Homebound status and medical necessity are documented",
}

// ValidateUseCase checks a visit note against CMS requirements. Deterministic
// rules always run; guideline retrieval and model review are best-effort and
// degrade to a rule-only verdict when unavailable.
type ValidateUseCase struct {
	checker       *rules.Checker
	retrieve      *RetrieveUseCase
	llm           port.LLM
	guidelineTopK int
	log           *log.Logger
}

func NewValidateUseCase(
	checker *rules.Checker,
	retrieve *RetrieveUseCase,
	llm port.LLM,
	guidelineTopK int,
	logger *log.Logger,
) *ValidateUseCase {
	if guidelineTopK <= 0 {
		guidelineTopK = 7
	}
	return &ValidateUseCase{
		checker:       checker,
		retrieve:      retrieve,
		llm:           llm,
		guidelineTopK: guidelineTopK,
		log:           logger,
	}
}

// Validate runs the full validation pipeline over a note.
func (u *ValidateUseCase) Validate(ctx context.Context, note domain.VisitNote) (domain.ValidationResult, error) {
	noteText := strings.TrimSpace(note.NoteText)
	if noteText == "" {
		return domain.ValidationResult{}, fmt.Errorf("visit note text is empty")
	}

	ruleViolations := u.checker.Check(noteText)

	var warnings []string
	degraded := false

	guidelines, err := u.retrieveGuidelines(ctx, noteText)
	if err != nil {
		u.log.Warn("guideline retrieval unavailable, falling back to rule-only validation", "err", err)
		warnings = append(warnings, "guideline retrieval unavailable; verdict is based on deterministic rules only")
		degraded = true
	}

	var modelViolations []domain.Violation
	var strengths []string
	if !degraded {
		findings, err := u.modelReview(ctx, noteText, guidelines)
		if err != nil {
			var parseErr *domain.ParseError
			if errors.As(err, &parseErr) {
				u.log.Warn("discarding unparseable model review", "err", err)
				warnings = append(warnings, "model review output could not be parsed and was discarded")
			} else {
				u.log.Warn("model review unavailable", "err", err)
				warnings = append(warnings, "model review unavailable; verdict is based on deterministic rules only")
				degraded = true
			}
		} else {
			modelViolations = findings.violations
			strengths = findings.strengths
		}
	}

	violations := mergeViolations(ruleViolations, modelViolations)
	score := overallScore(violations)
	status := statusFor(violations, score)

	if len(violations) == 0 && len(strengths) == 0 {
		strengths = append([]string(nil), defaultStrengths...)
	}
	if strengths == nil {
		strengths = []string{}
	}

	return domain.ValidationResult{
		Status:        status,
		OverallScore:  score,
		Violations:    violations,
		Strengths:     strengths,
		Summary:       summarize(status, score, violations),
		GuidelineRefs: guidelineRefs(guidelines),
		Degraded:      degraded,
		Warnings:      warnings,
	}, nil
}

// retrieveGuidelines searches the index with a query derived from the note
// content. An empty index is an error here: validation degrades instead of
// rendering an empty state.
func (u *ValidateUseCase) retrieveGuidelines(ctx context.Context, noteText string) ([]domain.RetrievedChunk, error) {
	query := deriveSearchQuery(noteText)
	return u.retrieve.Retrieve(ctx, query, u.guidelineTopK)
}

// deriveSearchQuery builds a retrieval query from the note's apparent service
// type so the fetched guidelines match the documentation being reviewed.
func deriveSearchQuery(noteText string) string {
	lower := strings.ToLower(noteText)

	var topics []string
	switch {
	case strings.Contains(lower, "skilled nursing"):
		topics = append(topics, "skilled nursing")
	case strings.Contains(lower, "physical therapy"):
		topics = append(topics, "physical therapy")
	case strings.Contains(lower, "occupational therapy"):
		topics = append(topics, "occupational therapy")
	}
	if strings.Contains(lower, "wound") {
		topics = append(topics, "wound care")
	}

	if len(topics) == 0 {
		return "home health services documentation requirements visit notes"
	}
	return strings.Join(topics, " ") + " requirements medical necessity homebound"
}

// modelFindings is the parsed model review.
type modelFindings struct {
	violations []domain.Violation
	strengths  []string
}

// modelResponse is the JSON contract the validation prompt demands.
type modelResponse struct {
	Violations []struct {
		Category           string `json:"category"`
		Severity           string `json:"severity"`
		Description        string `json:"description"`
		Recommendation     string `json:"recommendation"`
		GuidelineReference string `json:"guideline_reference"`
	} `json:"violations"`
	Strengths []string `json:"strengths"`
}

func (u *ValidateUseCase) modelReview(ctx context.Context, noteText string, guidelines []domain.RetrievedChunk) (modelFindings, error) {
	system, user := validationPrompt(noteText, guidelines)
	raw, err := u.llm.Generate(ctx, system, user)
	if err != nil {
		return modelFindings{}, err
	}
	return parseModelFindings(raw)
}

// parseModelFindings parses the model output strictly: the payload must be a
// single JSON object matching the documented shape with known severities.
// Anything else is a ParseError and the review contributes nothing.
func parseModelFindings(raw string) (modelFindings, error) {
	payload := stripCodeFence(strings.TrimSpace(raw))

	var resp modelResponse
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&resp); err != nil {
		return modelFindings{}, &domain.ParseError{Err: err}
	}

	findings := modelFindings{strengths: resp.Strengths}
	for _, v := range resp.Violations {
		sev := domain.Severity(strings.ToLower(v.Severity))
		if !domain.ValidSeverity(sev) {
			return modelFindings{}, &domain.ParseError{
				Err: fmt.Errorf("unknown severity %q", v.Severity),
			}
		}
		if strings.TrimSpace(v.Description) == "" {
			return modelFindings{}, &domain.ParseError{
				Err: errors.New("violation with empty description"),
			}
		}
		findings.violations = append(findings.violations, domain.Violation{
			Category:           v.Category,
			Severity:           sev,
			Description:        v.Description,
			Recommendation:     v.Recommendation,
			GuidelineReference: v.GuidelineReference,
		})
	}
	return findings, nil
}

// stripCodeFence unwraps a ```json ... ``` block if the model wrapped its
// output in one despite instructions.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// mergeViolations concatenates rule and model violations, dropping model
// findings that duplicate a rule finding. Identity is the (category,
// case-insensitive description) pair; rule findings win.
func mergeViolations(ruleFound, modelFound []domain.Violation) []domain.Violation {
	merged := make([]domain.Violation, 0, len(ruleFound)+len(modelFound))
	seen := make(map[string]bool, len(ruleFound)+len(modelFound))

	for _, v := range append(append([]domain.Violation(nil), ruleFound...), modelFound...) {
		key := v.Category + "\x00" + strings.ToLower(v.Description)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, v)
	}
	return merged
}

// overallScore deducts per-severity penalties from 100, clamped at zero.
func overallScore(violations []domain.Violation) int {
	score := 100
	for _, v := range violations {
		switch v.Severity {
		case domain.SeverityCritical:
			score -= criticalDeduction
		case domain.SeverityMajor:
			score -= majorDeduction
		case domain.SeverityMinor:
			score -= minorDeduction
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// statusFor classifies a verdict. Any critical violation or a score below 60
// is non-compliant; a score below 80 or one-to-two major violations needs
// review; otherwise the note is compliant.
func statusFor(violations []domain.Violation, score int) domain.Status {
	majors := 0
	for _, v := range violations {
		switch v.Severity {
		case domain.SeverityCritical:
			return domain.StatusNonCompliant
		case domain.SeverityMajor:
			majors++
		}
	}
	if score < nonCompliantBelow {
		return domain.StatusNonCompliant
	}
	if score < compliantFrom || (majors >= 1 && majors <= 2) {
		return domain.StatusNeedsReview
	}
	return domain.StatusCompliant
}

func summarize(status domain.Status, score int, violations []domain.Violation) string {
	counts := map[domain.Severity]int{}
	for _, v := range violations {
		counts[v.Severity]++
	}

	var parts []string
	for _, sev := range []domain.Severity{domain.SeverityCritical, domain.SeverityMajor, domain.SeverityMinor} {
		if n := counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}

	switch status {
	case domain.StatusCompliant:
		return fmt.Sprintf("Visit note is compliant with CMS documentation requirements (score %d/100).", score)
	case domain.StatusNeedsReview:
		return fmt.Sprintf("Visit note needs review: %s violation(s) found (score %d/100).", strings.Join(parts, ", "), score)
	default:
		return fmt.Sprintf("Visit note is non-compliant: %s violation(s) found (score %d/100).", strings.Join(parts, ", "), score)
	}
}

// guidelineRefs returns short excerpts of the top-ranked guideline chunks
// that informed the review.
func guidelineRefs(guidelines []domain.RetrievedChunk) []domain.GuidelineRef {
	if len(guidelines) == 0 {
		return nil
	}

	ranked := append([]domain.RetrievedChunk(nil), guidelines...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	n := len(ranked)
	if n > maxGuidelineRefs {
		n = maxGuidelineRefs
	}

	refs := make([]domain.GuidelineRef, 0, n)
	for _, r := range ranked[:n] {
		refs = append(refs, domain.GuidelineRef{
			Text:          excerpt(r.Chunk.Text, guidelineExcerptLen),
			PageNumber:    r.Chunk.PageNumber,
			SectionHeader: r.Chunk.SectionHeader,
		})
	}
	return refs
}

// excerpt truncates text to at most limit bytes on a rune boundary, marking
// the cut with an ellipsis.
func excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return strings.TrimSpace(text[:cut]) + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
