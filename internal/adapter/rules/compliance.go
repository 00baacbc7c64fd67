// Package rules applies deterministic compliance checks to visit-note text.
// Every check is a pure predicate over the lowercased note: identical input
// always yields the identical violation set, and nothing here touches the
// network or a model.
package rules

import (
	"regexp"
	"strings"

	"cmsrag/internal/domain"
)

// timeToken matches clock times like "9:05 AM" or "14:30".
var timeToken = regexp.MustCompile(`\d{1,2}:\d{2}\s*(?:AM|PM|am|pm)?`)

// dateToken matches common date shapes like "01/15/2025" or "2025-01-15".
var dateToken = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2}`)

// sectionCheck is a required documentation element detected by keyword
// presence. A failed check emits exactly one fixed violation.
type sectionCheck struct {
	category       string
	severity       domain.Severity
	keywords       []string
	description    string
	recommendation string
	reference      string
}

var requiredSections = []sectionCheck{
	{
		category:       "patient_identification",
		severity:       domain.SeverityMinor,
		keywords:       []string{"patient", "name", "dob", "age"},
		description:    "Missing required element: patient identification",
		recommendation: "Include the patient's name and identifying information in the visit note",
		reference:      "CMS Medicare Benefit Policy Manual",
	},
	{
		category:       "visit_date",
		severity:       domain.SeverityMinor,
		keywords:       []string{"visit date", "date of visit", "date:"},
		description:    "Missing required element: visit date",
		recommendation: "Document the date of the visit",
		reference:      "CMS Medicare Benefit Policy Manual",
	},
	{
		category:       "visit_type",
		severity:       domain.SeverityMinor,
		keywords:       []string{"visit type", "skilled nursing", "physical therapy", "occupational therapy", "home health aide"},
		description:    "Missing required element: visit type",
		recommendation: "Document the type of visit performed",
		reference:      "CMS Medicare Benefit Policy Manual",
	},
	{
		category:       "assessment",
		severity:       domain.SeverityMajor,
		keywords:       []string{"assessment", "evaluation", "clinical status"},
		description:    "Missing required element: patient assessment",
		recommendation: "Document the clinical assessment performed during the visit",
		reference:      "CMS Medicare Benefit Policy Manual",
	},
	{
		category:       "vital_signs",
		severity:       domain.SeverityMinor,
		keywords:       []string{"vital signs", "blood pressure", "bp ", "temperature", "pulse", "heart rate"},
		description:    "Missing required element: vital signs",
		recommendation: "Record vital signs taken during the visit",
		reference:      "CMS Medicare Benefit Policy Manual",
	},
	{
		category:       "interventions",
		severity:       domain.SeverityMajor,
		keywords:       []string{"intervention", "treatment", "care provided"},
		description:    "Missing required element: interventions",
		recommendation: "Document the interventions and treatment provided",
		reference:      "CMS Medicare Benefit Policy Manual",
	},
	{
		category:       "plan_of_care",
		severity:       domain.SeverityMajor,
		keywords:       []string{"plan of care", "plan:", "continuing"},
		description:    "Missing required element: plan of care",
		recommendation: "Document the plan of care and next steps",
		reference:      "CMS Medicare Benefit Policy Manual",
	},
	{
		category:       "signature",
		severity:       domain.SeverityMajor,
		keywords:       []string{"signature", "signed", "electronically signed"},
		description:    "Missing required element: clinician signature",
		recommendation: "Sign the note with the clinician's name and credentials",
		reference:      "Documentation Requirements",
	},
}

// homeboundKeywords indicate homebound status documentation.
var homeboundKeywords = []string{
	"homebound",
	"unable to leave home",
	"confined to home",
	"wheelchair bound",
	"walker",
	"assistance to leave",
	"taxing effort",
}

// necessityKeywords indicate skilled, medically necessary services. At
// least two must appear.
var necessityKeywords = []string{
	"skilled",
	"assessment",
	"evaluation",
	"teaching",
	"monitoring",
	"wound care",
	"medication management",
	"observation",
}

// Checker evaluates the ordered rule list against a note.
type Checker struct{}

func NewChecker() *Checker {
	return &Checker{}
}

// Check runs every rule in order and returns one violation per failed check.
func (c *Checker) Check(noteText string) []domain.Violation {
	lower := strings.ToLower(noteText)

	var violations []domain.Violation

	for _, check := range requiredSections {
		if check.category == "visit_date" && dateToken.MatchString(noteText) {
			continue
		}
		if containsAny(lower, check.keywords) {
			continue
		}
		violations = append(violations, domain.Violation{
			Category:           check.category,
			Severity:           check.severity,
			Description:        check.description,
			Recommendation:     check.recommendation,
			GuidelineReference: check.reference,
		})
	}

	if len(timeToken.FindAllString(noteText, 3)) < 2 {
		violations = append(violations, domain.Violation{
			Category:           "visit_times",
			Severity:           domain.SeverityMinor,
			Description:        "Visit start and end times not clearly documented",
			Recommendation:     "Document specific time in and time out for the visit",
			GuidelineReference: "Documentation Requirements",
		})
	}

	if !containsAny(lower, homeboundKeywords) {
		violations = append(violations, domain.Violation{
			Category:           "homebound_status",
			Severity:           domain.SeverityCritical,
			Description:        "Missing homebound status documentation",
			Recommendation:     "Document why the patient cannot leave home or requires taxing effort to leave",
			GuidelineReference: "Section 30.1.1 - Homebound Requirement",
		})
	}

	if countMatches(lower, necessityKeywords) < 2 {
		violations = append(violations, domain.Violation{
			Category:           "medical_necessity",
			Severity:           domain.SeverityCritical,
			Description:        "Insufficient medical necessity documentation",
			Recommendation:     "Clearly document the skilled services provided and why they are medically necessary",
			GuidelineReference: "Section 40 - Covered Services",
		})
	}

	return violations
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}
