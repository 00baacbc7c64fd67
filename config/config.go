package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the guideline RAG service.
type Config struct {
	Document  DocumentConfig  `yaml:"document"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DocumentConfig describes the source corpus.
type DocumentConfig struct {
	Path     string   `yaml:"path"`     // file or directory of guideline documents
	Includes []string `yaml:"includes"` // doublestar patterns when path is a directory
}

// ChunkingConfig bounds chunk sizes in tokens.
type ChunkingConfig struct {
	MinTokens     int    `yaml:"min_tokens"`
	MaxTokens     int    `yaml:"max_tokens"`
	OverlapTokens int    `yaml:"overlap_tokens"`
	Encoding      string `yaml:"encoding"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "openai" or "mock"
	Model      string `yaml:"model"`
	APIKeyEnv  string `yaml:"api_key_env"`
	BaseURL    string `yaml:"base_url"`
	Dimension  int    `yaml:"dimension"`
	BatchSize  int    `yaml:"batch_size"`
	MaxRetries int    `yaml:"max_retries"`
}

// RetrievalConfig holds search settings.
type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	GuidelineTopK int     `yaml:"guideline_top_k"` // chunks fetched for note validation
	MinSimilarity float64 `yaml:"min_similarity"`  // drop results below this score (0 = disabled)
}

// LLMConfig holds generation provider settings.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Document: DocumentConfig{
			Path:     "./data/guidelines",
			Includes: []string{"**/*.pdf", "**/*.txt", "**/*.md"},
		},
		Chunking: ChunkingConfig{
			MinTokens:     200,
			MaxTokens:     1000,
			OverlapTokens: 200,
			Encoding:      "cl100k_base",
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			APIKeyEnv:  "OPENAI_API_KEY",
			Dimension:  1536,
			BatchSize:  100,
			MaxRetries: 3,
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			GuidelineTopK: 7,
			MinSimilarity: 0.25,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.3,
			MaxTokens:   2000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Chunking.MinTokens > c.Chunking.MaxTokens {
		return fmt.Errorf("chunking: min_tokens (%d) > max_tokens (%d)", c.Chunking.MinTokens, c.Chunking.MaxTokens)
	}
	if c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		return fmt.Errorf("chunking: overlap_tokens (%d) must be smaller than max_tokens (%d)", c.Chunking.OverlapTokens, c.Chunking.MaxTokens)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding: dimension must be positive")
	}
	return nil
}

// Load loads configuration from a YAML file, starting from defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for cmsrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "cmsrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".cmsrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IndexDBPath returns the path to the index database under dataDir.
func IndexDBPath(dataDir string) string {
	return filepath.Join(dataDir, "index.db")
}

// ChunkArtifactPath returns the path of the persisted chunk records written
// during ingestion.
func ChunkArtifactPath(dataDir string) string {
	return filepath.Join(dataDir, "chunks.json")
}

// EnsureDataDir creates the data directory if needed.
func EnsureDataDir(dataDir string) error {
	return os.MkdirAll(dataDir, 0755)
}
