// Package config provides configuration management for Engram.
// It loads settings from environment variables with the ENGRAM_ prefix,
// optionally overlaid by a YAML file, and provides sensible defaults for
// every option. Only the extraction API key has no default; extraction is
// disabled when it is absent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for Engram.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Security   SecurityConfig   `yaml:"security"`
	LogLevel   string           `yaml:"log_level"`
}

// StorageConfig contains on-disk layout configuration.
type StorageConfig struct {
	// DataPath is the root directory for bucket files,
	// laid out as <DataPath>/<agent_id>/<user_id>.{db,vec}.
	DataPath string `yaml:"data_path"`
}

// EmbeddingConfig contains embedding model configuration.
type EmbeddingConfig struct {
	// Provider selects the embedder: "ollama" or "hash" (offline, deterministic).
	Provider string `yaml:"provider"`
	// OllamaURL is the Ollama API base URL.
	OllamaURL string `yaml:"ollama_url"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimension is the fixed vector dimension for the hash provider.
	// The ollama provider probes the dimension from the model instead.
	Dimension int `yaml:"dimension"`
}

// ExtractionConfig contains fact-extraction configuration.
type ExtractionConfig struct {
	// Model is the Gemini model used for extraction.
	Model string `yaml:"model"`
	// APIKey authenticates against the Gemini API. Extraction is
	// disabled when empty.
	APIKey string `yaml:"api_key"`
	// WindowSize caps the buffered conversation window (turns).
	WindowSize int `yaml:"window_size"`
	// TriggerInterval is the number of new user messages required
	// before another extraction attempt is made.
	TriggerInterval int `yaml:"trigger_interval"`
	// TimeoutSeconds bounds one extraction call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// RetrievalConfig contains retrieval defaults.
type RetrievalConfig struct {
	// TopK is the default number of results returned by a query.
	TopK int `yaml:"top_k"`
	// MinSimilarity is the default cosine similarity cutoff.
	MinSimilarity float64 `yaml:"min_similarity"`
}

// SecurityConfig contains at-rest encryption settings.
type SecurityConfig struct {
	// Passphrase enables at-rest encryption when non-empty. The
	// symmetric key is derived from it; losing the passphrase loses
	// access to encrypted content.
	Passphrase string `yaml:"passphrase"`
}

// Load builds a Config from environment variables and defaults.
func Load() *Config {
	return &Config{
		Storage: StorageConfig{
			DataPath: getEnv("ENGRAM_DATA_PATH", defaultDataPath()),
		},
		Embedding: EmbeddingConfig{
			Provider:  getEnv("ENGRAM_EMBEDDING_PROVIDER", "ollama"),
			OllamaURL: getEnv("ENGRAM_OLLAMA_URL", "http://localhost:11434"),
			Model:     getEnv("ENGRAM_EMBEDDING_MODEL", "nomic-embed-text"),
			Dimension: getEnvInt("ENGRAM_EMBEDDING_DIMENSION", 384),
		},
		Extraction: ExtractionConfig{
			Model:           getEnv("ENGRAM_GEMINI_MODEL", "gemini-2.0-flash"),
			APIKey:          getEnv("ENGRAM_GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
			WindowSize:      getEnvInt("ENGRAM_EXTRACTION_WINDOW", 10),
			TriggerInterval: getEnvInt("ENGRAM_EXTRACTION_INTERVAL", 5),
			TimeoutSeconds:  getEnvInt("ENGRAM_EXTRACTION_TIMEOUT", 30),
		},
		Retrieval: RetrievalConfig{
			TopK:          getEnvInt("ENGRAM_TOP_K", 5),
			MinSimilarity: getEnvFloat("ENGRAM_MIN_SIMILARITY", 0.3),
		},
		Security: SecurityConfig{
			Passphrase: getEnv("ENGRAM_PASSPHRASE", ""),
		},
		LogLevel: getEnv("ENGRAM_LOG_LEVEL", "info"),
	}
}

// LoadFile loads the env-based config and overlays any non-zero values
// from the YAML file at path. A missing file is not an error; a malformed
// one is.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	cfg.merge(&overlay)
	return cfg, nil
}

// Validate checks internal consistency of the loaded configuration.
func (c *Config) Validate() error {
	if c.Storage.DataPath == "" {
		return fmt.Errorf("config: storage data path is required")
	}
	if c.Extraction.WindowSize <= 0 {
		return fmt.Errorf("config: extraction window size must be positive, got %d", c.Extraction.WindowSize)
	}
	if c.Extraction.TriggerInterval <= 0 {
		return fmt.Errorf("config: extraction trigger interval must be positive, got %d", c.Extraction.TriggerInterval)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("config: retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MinSimilarity < -1 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("config: min_similarity must be in [-1,1], got %f", c.Retrieval.MinSimilarity)
	}
	return nil
}

// ExtractionEnabled reports whether an extraction credential is configured.
func (c *Config) ExtractionEnabled() bool {
	return strings.TrimSpace(c.Extraction.APIKey) != ""
}

// merge overlays non-zero fields from o onto c.
func (c *Config) merge(o *Config) {
	if o.Storage.DataPath != "" {
		c.Storage.DataPath = o.Storage.DataPath
	}
	if o.Embedding.Provider != "" {
		c.Embedding.Provider = o.Embedding.Provider
	}
	if o.Embedding.OllamaURL != "" {
		c.Embedding.OllamaURL = o.Embedding.OllamaURL
	}
	if o.Embedding.Model != "" {
		c.Embedding.Model = o.Embedding.Model
	}
	if o.Embedding.Dimension != 0 {
		c.Embedding.Dimension = o.Embedding.Dimension
	}
	if o.Extraction.Model != "" {
		c.Extraction.Model = o.Extraction.Model
	}
	if o.Extraction.APIKey != "" {
		c.Extraction.APIKey = o.Extraction.APIKey
	}
	if o.Extraction.WindowSize != 0 {
		c.Extraction.WindowSize = o.Extraction.WindowSize
	}
	if o.Extraction.TriggerInterval != 0 {
		c.Extraction.TriggerInterval = o.Extraction.TriggerInterval
	}
	if o.Extraction.TimeoutSeconds != 0 {
		c.Extraction.TimeoutSeconds = o.Extraction.TimeoutSeconds
	}
	if o.Retrieval.TopK != 0 {
		c.Retrieval.TopK = o.Retrieval.TopK
	}
	if o.Retrieval.MinSimilarity != 0 {
		c.Retrieval.MinSimilarity = o.Retrieval.MinSimilarity
	}
	if o.Security.Passphrase != "" {
		c.Security.Passphrase = o.Security.Passphrase
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
}

// defaultDataPath places bucket files under the user's home directory.
func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return home + "/.engram"
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
