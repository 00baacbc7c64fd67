package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"cmsrag/config"
	"cmsrag/internal/adapter/embedding"
	"cmsrag/internal/adapter/llm"
	"cmsrag/internal/adapter/store"
	"cmsrag/internal/port"
)

var (
	cfgFile  string
	cfg      *config.Config
	dataDir  string
	logLevel string
	logger   *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cmsrag",
	Short: "CMS guideline assistant - grounded Q&A and visit note validation",
	Long: `cmsrag indexes CMS home health guideline documents for semantic retrieval,
answers questions grounded in the indexed text, and validates clinical visit
notes against Medicare documentation requirements.

Example usage:
  cmsrag ingest guidelines.pdf            # Build the index
  cmsrag query -q "homebound criteria"    # Ask a grounded question
  cmsrag validate note.txt                # Check a visit note for compliance`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			wd, werr := os.Getwd()
			if werr != nil {
				return fmt.Errorf("failed to get working directory: %w", werr)
			}
			cfg, err = config.LoadFromDir(wd)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Level:           parsed,
		})

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./cmsrag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "./data", "directory holding the index and artifacts")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default from config)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetDataDir() string {
	return dataDir
}

func GetLogger() *log.Logger {
	return logger
}

// openIndex opens the bolt-backed index under the data directory and wires
// the vector and chunk stores over it. Callers own the Close.
func openIndex(dimension int) (*store.BoltStore, *store.BoltVectorStore, *store.ChunkStore, error) {
	st, err := store.NewBoltStore(config.IndexDBPath(dataDir))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open index store: %w", err)
	}
	vectors, err := store.NewBoltVectorStore(st, dimension)
	if err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	return st, vectors, store.NewChunkStore(st), nil
}

// buildEmbedder constructs the configured embedding provider.
func buildEmbedder(cfg *config.Config) (port.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAIEmbedder(
			cfg.Embedding.APIKeyEnv,
			cfg.Embedding.Model,
			cfg.Embedding.BaseURL,
			cfg.Embedding.Dimension,
			embedding.WithBatchSize(cfg.Embedding.BatchSize),
			embedding.WithMaxRetries(cfg.Embedding.MaxRetries),
		)
	case "mock":
		return embedding.NewMockEmbedder(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

// buildLLM constructs the configured generation provider.
func buildLLM(cfg *config.Config) (port.LLM, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIClient(
			cfg.LLM.APIKeyEnv,
			cfg.LLM.Model,
			cfg.LLM.BaseURL,
			llm.WithTemperature(cfg.LLM.Temperature),
			llm.WithMaxTokens(cfg.LLM.MaxTokens),
		)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}
