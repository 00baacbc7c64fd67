// Package extract turns source documents into ordered (text, page) pairs.
// PDF parsing stays behind this boundary; the rest of the pipeline only ever
// sees domain.Page values.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ledongthuc/pdf"

	"cmsrag/internal/domain"
)

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
	bareNumber  = regexp.MustCompile(`(?m)^\s*\d+\s*$`)

	// Header shapes common in CMS manuals: "30.1.1 - Homebound Requirement",
	// "Section 40: Covered Services", or a standalone ALL-CAPS line.
	headerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^(\d+(?:\.\d+)*\s*-\s*[A-Z][^\n]{10,80})`),
		regexp.MustCompile(`(?m)^(Section\s+\d+[:\-]\s*[A-Z][^\n]{10,80})`),
		regexp.MustCompile(`(?m)^([A-Z][A-Z ]{5,50})\n`),
	}
)

// FromPath extracts pages from a PDF file, a plain-text file, or a directory
// of either, matched against the given doublestar include patterns. Page
// numbers run consecutively across files.
func FromPath(path string, includes []string) ([]domain.Page, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("document path: %w", err)
	}

	if !info.IsDir() {
		return fromFile(path, 1)
	}

	files, err := listFiles(path, includes)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no documents matched under %s", path)
	}

	var pages []domain.Page
	for _, f := range files {
		filePages, err := fromFile(f, len(pages)+1)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", f, err)
		}
		pages = append(pages, filePages...)
	}
	return pages, nil
}

func fromFile(path string, firstPage int) ([]domain.Page, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return FromPDF(path, firstPage)
	}
	return FromText(path, firstPage)
}

// FromPDF extracts one domain.Page per PDF page, cleaned, with a detected
// section header when the page starts a new section.
func FromPDF(path string, firstPage int) ([]domain.Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var pages []domain.Page
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = CleanText(text)
		if text == "" {
			continue
		}
		pages = append(pages, domain.Page{
			Number:        firstPage + len(pages),
			Text:          text,
			SectionHeader: SectionHeader(text),
		})
	}
	return pages, nil
}

// FromText reads a plain-text file. Form feeds mark page boundaries; a file
// without them is a single page.
func FromText(path string, firstPage int) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var pages []domain.Page
	for _, raw := range strings.Split(string(data), "\f") {
		text := CleanText(raw)
		if text == "" {
			continue
		}
		pages = append(pages, domain.Page{
			Number:        firstPage + len(pages),
			Text:          text,
			SectionHeader: SectionHeader(text),
		})
	}
	return pages, nil
}

// CleanText normalizes extracted text: NULs dropped, horizontal whitespace
// runs collapsed, page-number-only lines removed, paragraph breaks kept.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = bareNumber.ReplaceAllString(text, "")
	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// SectionHeader returns the first header-shaped line of the page, or "".
func SectionHeader(text string) string {
	for _, pattern := range headerPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func listFiles(root string, includes []string) ([]string, error) {
	if len(includes) == 0 {
		includes = []string{"**/*.pdf", "**/*.txt", "**/*.md"}
	}

	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		for _, pattern := range includes {
			if ok, err := doublestar.Match(pattern, filepath.ToSlash(rel)); err == nil && ok {
				files = append(files, path)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
