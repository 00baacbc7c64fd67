package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cmsrag/internal/adapter/rules"
	"cmsrag/internal/domain"
	"cmsrag/internal/usecase"
)

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:   "validate [note-file]",
	Short: "Validate a visit note against CMS documentation requirements",
	Long: `Validate runs deterministic documentation checks over a home health visit
note, retrieves the relevant guideline passages and asks the model for a
second review, then combines both into a scored compliance verdict. When
retrieval or the model is unavailable the verdict falls back to the
deterministic checks alone and is marked degraded.

The note is read from the given file, or from stdin when no file is given.

Examples:
  cmsrag validate note.txt
  cat note.txt | cmsrag validate --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "output as JSON")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := GetLogger()

	note, err := readNote(args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(note.NoteText) == "" {
		return fmt.Errorf("visit note is empty")
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	llmClient, err := buildLLM(cfg)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}

	st, vectors, chunks, err := openIndex(embedder.Dimension())
	if err != nil {
		return err
	}
	defer st.Close()

	retrieveUC := usecase.NewRetrieveUseCase(embedder, vectors, chunks, cfg.Retrieval.MinSimilarity, logger)
	validateUC := usecase.NewValidateUseCase(
		rules.NewChecker(),
		retrieveUC,
		llmClient,
		cfg.Retrieval.GuidelineTopK,
		logger,
	)

	result, err := validateUC.Validate(cmd.Context(), note)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if validateJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	printResult(result)
	return nil
}

// readNote reads the visit note from the given file or stdin. A JSON payload
// with a note_text field is accepted as-is; anything else is treated as the
// raw note text.
func readNote(args []string) (domain.VisitNote, error) {
	var data []byte
	var err error
	if len(args) > 0 {
		data, err = os.ReadFile(args[0])
		if err != nil {
			return domain.VisitNote{}, fmt.Errorf("failed to read note file: %w", err)
		}
	} else {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return domain.VisitNote{}, fmt.Errorf("failed to read note from stdin: %w", err)
		}
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var note domain.VisitNote
		if err := json.Unmarshal([]byte(trimmed), &note); err == nil && note.NoteText != "" {
			return note, nil
		}
	}
	return domain.VisitNote{NoteText: string(data)}, nil
}

func printResult(result domain.ValidationResult) {
	fmt.Printf("Status: %s (score %d/100)\n", result.Status, result.OverallScore)
	fmt.Printf("\n%s\n", result.Summary)

	if len(result.Violations) > 0 {
		fmt.Printf("\nViolations:\n")
		for _, v := range result.Violations {
			fmt.Printf("  [%s] %s: %s\n", strings.ToUpper(string(v.Severity)), v.Category, v.Description)
			fmt.Printf("      Fix: %s\n", v.Recommendation)
			if v.GuidelineReference != "" {
				fmt.Printf("      Ref: %s\n", v.GuidelineReference)
			}
		}
	}

	if len(result.Strengths) > 0 {
		fmt.Printf("\nStrengths:\n")
		for _, s := range result.Strengths {
			fmt.Printf("  + %s\n", s)
		}
	}

	if len(result.GuidelineRefs) > 0 {
		fmt.Printf("\nGuidelines consulted:\n")
		for _, ref := range result.GuidelineRefs {
			header := ref.SectionHeader
			if header == "" {
				header = "General"
			}
			fmt.Printf("  - %s (page %d): %s\n", header, ref.PageNumber, ref.Text)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, w := range result.Warnings {
			fmt.Printf("  ! %s\n", w)
		}
	}
}
