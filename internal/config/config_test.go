package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("Embedding.Provider: got %q, want %q", cfg.Embedding.Provider, "ollama")
	}
	if cfg.Extraction.WindowSize != 10 {
		t.Errorf("Extraction.WindowSize: got %d, want 10", cfg.Extraction.WindowSize)
	}
	if cfg.Extraction.TriggerInterval != 5 {
		t.Errorf("Extraction.TriggerInterval: got %d, want 5", cfg.Extraction.TriggerInterval)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK: got %d, want 5", cfg.Retrieval.TopK)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults failed: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENGRAM_DATA_PATH", "/tmp/engram-test")
	t.Setenv("ENGRAM_EXTRACTION_INTERVAL", "7")
	t.Setenv("ENGRAM_MIN_SIMILARITY", "0.55")
	t.Setenv("ENGRAM_GEMINI_API_KEY", "test-key")

	cfg := Load()

	if cfg.Storage.DataPath != "/tmp/engram-test" {
		t.Errorf("Storage.DataPath: got %q", cfg.Storage.DataPath)
	}
	if cfg.Extraction.TriggerInterval != 7 {
		t.Errorf("Extraction.TriggerInterval: got %d, want 7", cfg.Extraction.TriggerInterval)
	}
	if cfg.Retrieval.MinSimilarity != 0.55 {
		t.Errorf("Retrieval.MinSimilarity: got %f, want 0.55", cfg.Retrieval.MinSimilarity)
	}
	if !cfg.ExtractionEnabled() {
		t.Error("ExtractionEnabled() = false with API key set")
	}
}

func TestLoadEnvUnparseableFallsBack(t *testing.T) {
	t.Setenv("ENGRAM_TOP_K", "not-a-number")

	cfg := Load()
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK: got %d, want default 5", cfg.Retrieval.TopK)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engram.yaml")
	yaml := `
storage:
  data_path: /var/lib/engram
extraction:
  trigger_interval: 3
retrieval:
  min_similarity: 0.6
security:
  passphrase: hunter2
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Storage.DataPath != "/var/lib/engram" {
		t.Errorf("Storage.DataPath: got %q", cfg.Storage.DataPath)
	}
	if cfg.Extraction.TriggerInterval != 3 {
		t.Errorf("Extraction.TriggerInterval: got %d, want 3", cfg.Extraction.TriggerInterval)
	}
	if cfg.Retrieval.MinSimilarity != 0.6 {
		t.Errorf("Retrieval.MinSimilarity: got %f, want 0.6", cfg.Retrieval.MinSimilarity)
	}
	if cfg.Security.Passphrase != "hunter2" {
		t.Errorf("Security.Passphrase: got %q", cfg.Security.Passphrase)
	}
	// Fields absent from the file keep env/default values.
	if cfg.Extraction.WindowSize != 10 {
		t.Errorf("Extraction.WindowSize: got %d, want default 10", cfg.Extraction.WindowSize)
	}
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() on missing file: %v", err)
	}
	if cfg == nil {
		t.Fatal("LoadFile() returned nil config")
	}
}

func TestLoadFileMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("storage: [not a map"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile() on malformed YAML: expected error, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"empty data path", func(c *Config) { c.Storage.DataPath = "" }, true},
		{"zero window", func(c *Config) { c.Extraction.WindowSize = 0 }, true},
		{"negative interval", func(c *Config) { c.Extraction.TriggerInterval = -1 }, true},
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }, true},
		{"similarity out of range", func(c *Config) { c.Retrieval.MinSimilarity = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
