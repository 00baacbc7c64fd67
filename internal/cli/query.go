package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cmsrag/config"
	"cmsrag/internal/domain"
	"cmsrag/internal/usecase"
)

var (
	queryText   string
	queryTopK   int
	queryJSON   bool
	queryStream bool
)

const (
	minTopK = 1
	maxTopK = 10
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Ask a question grounded in the indexed guidelines",
	Long: `Query embeds the question, retrieves the most similar guideline chunks and
generates an answer citing them. Results are limited to chunks above the
configured similarity threshold.

Examples:
  cmsrag query -q "What are the homebound criteria?"
  cmsrag query -q "skilled nursing frequency" -k 8 --json
  cmsrag query -q "plan of care requirements" --stream`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question to answer (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "stream the answer as it is generated")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	if _, err := os.Stat(config.IndexDBPath(GetDataDir())); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'cmsrag ingest' first")
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

	retrieveUC := usecase.NewRetrieveUseCase(embedder, vectors, chunks, cfg.Retrieval.MinSimilarity, GetLogger())
	answerUC := usecase.NewAnswerUseCase(retrieveUC, llmClient, GetLogger())

	topK := cfg.Retrieval.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}
	topK = clampTopK(topK)

	if queryStream && !queryJSON {
		return streamAnswer(cmd, answerUC, topK)
	}

	answer, err := answerUC.Answer(cmd.Context(), queryText, topK)
	if err != nil {
		if errors.Is(err, domain.ErrIndexEmpty) {
			return fmt.Errorf("the index is empty. Run 'cmsrag ingest' first")
		}
		return err
	}

	if queryJSON {
		output, _ := json.MarshalIndent(answer, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(answer.Text)
	printSources(answer.Sources)
	return nil
}

func streamAnswer(cmd *cobra.Command, answerUC *usecase.AnswerUseCase, topK int) error {
	sources, stream, err := answerUC.AnswerStream(cmd.Context(), queryText, topK)
	if err != nil {
		if errors.Is(err, domain.ErrIndexEmpty) {
			return fmt.Errorf("the index is empty. Run 'cmsrag ingest' first")
		}
		return err
	}

	for delta := range stream {
		if delta.Err != nil {
			fmt.Println()
			return fmt.Errorf("stream interrupted: %w", delta.Err)
		}
		fmt.Print(delta.Content)
	}
	fmt.Println()
	printSources(sources)
	return nil
}

func printSources(sources []domain.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Printf("\nSources:\n")
	for i, s := range sources {
		header := s.SectionHeader
		if header == "" {
			header = "General"
		}
		fmt.Printf("  [%d] %s - Page %d (similarity: %.2f)\n", i+1, header, s.PageNumber, s.Similarity)
	}
}

func clampTopK(k int) int {
	if k < minTopK {
		return minTopK
	}
	if k > maxTopK {
		return maxTopK
	}
	return k
}
