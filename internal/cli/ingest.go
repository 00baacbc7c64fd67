package cli

import (
	"fmt"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"cmsrag/config"
	"cmsrag/internal/adapter/chunker"
	"cmsrag/internal/adapter/extract"
	"cmsrag/internal/adapter/tokenizer"
	"cmsrag/internal/usecase"
)

var ingestForce bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Extract, chunk, embed and index guideline documents",
	Long: `Ingest builds the retrieval index from guideline documents. The path may
be a single PDF/text file or a directory; when omitted the configured
document path is used. Re-running over an unchanged corpus is a no-op
unless --force is given.

Examples:
  cmsrag ingest guidelines.pdf
  cmsrag ingest ./docs --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "rebuild the index even if the corpus is unchanged")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := GetLogger()

	docPath := cfg.Document.Path
	if len(args) > 0 {
		var err error
		docPath, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	pages, err := extract.FromPath(docPath, cfg.Document.Includes)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("no pages extracted from %s", docPath)
	}
	logger.Info("extracted document", "path", docPath, "pages", len(pages))

	codec, err := tokenizer.New(cfg.Chunking.Encoding)
	if err != nil {
		return fmt.Errorf("failed to load tokenizer: %w", err)
	}
	chk := chunker.NewSectionChunker(
		cfg.Chunking.MinTokens,
		cfg.Chunking.MaxTokens,
		cfg.Chunking.OverlapTokens,
		codec,
	)

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	if err := config.EnsureDataDir(GetDataDir()); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	st, vectors, _, err := openIndex(embedder.Dimension())
	if err != nil {
		return err
	}
	defer st.Close()

	ingestUC := usecase.NewIngestUseCase(
		chk,
		embedder,
		vectors,
		st,
		config.ChunkArtifactPath(GetDataDir()),
		cfg.Embedding.BatchSize,
		logger,
	)

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}
		bar.Set(done)
	}

	result, err := ingestUC.Ingest(cmd.Context(), pages, ingestForce, progress)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	if result.Skipped {
		fmt.Println("Corpus unchanged, index left as-is. Use --force to rebuild.")
		return nil
	}

	fmt.Printf("\nIngestion complete:\n")
	fmt.Printf("  Pages:          %d\n", result.Pages)
	fmt.Printf("  Chunks created: %d\n", result.ChunksCreated)
	fmt.Printf("  Embedded:       %d\n", result.Embedded)
	fmt.Printf("\nIndex stored at: %s\n", config.IndexDBPath(GetDataDir()))
	return nil
}
