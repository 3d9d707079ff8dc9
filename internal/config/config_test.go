package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	log := slog.Default()
	cfg, path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
	if cfg.Model.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %q", cfg.Model.Provider)
	}
	if cfg.Retrieval.SingleTopK != 20 {
		t.Errorf("expected default single_top_k 20, got %d", cfg.Retrieval.SingleTopK)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: openai
  max_tokens: 8192
  temperature: 0.3
  openai:
    model: gpt-4o-mini
embedding:
  provider: ollama
  model: nomic-embed-text
qdrant:
  host: qdrant.internal
  port: 6334
  collection: my-docs
retrieval:
  rerank_top_n: 3
plans:
  free: 10
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that would override the YAML values.
	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"OPENAI_MODEL", "EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	cfg, loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	if cfg.Model.Provider != "openai" {
		t.Errorf("provider: got %q, want openai", cfg.Model.Provider)
	}
	if cfg.Model.MaxTokens != 8192 {
		t.Errorf("max_tokens: got %d, want 8192", cfg.Model.MaxTokens)
	}
	if cfg.Model.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("openai model: got %q, want gpt-4o-mini", cfg.Model.OpenAI.Model)
	}
	if cfg.Qdrant.Host != "qdrant.internal" {
		t.Errorf("qdrant host: got %q, want qdrant.internal", cfg.Qdrant.Host)
	}
	if cfg.Retrieval.RerankTopN != 3 {
		t.Errorf("rerank_top_n: got %d, want 3", cfg.Retrieval.RerankTopN)
	}
	// Keys the YAML omits keep their defaults.
	if cfg.Retrieval.SingleTopK != 20 {
		t.Errorf("single_top_k: got %d, want default 20", cfg.Retrieval.SingleTopK)
	}
	if cfg.Plans["free"] != 10 {
		t.Errorf("free plan ceiling: got %d, want 10", cfg.Plans["free"])
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level: got %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
server:
  port: 8080
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("PAPYR_PORT", "9090")

	log := slog.Default()
	cfg, _, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Model.Provider != "openai" {
		t.Errorf("MODEL_PROVIDER: expected env override openai, got %q", cfg.Model.Provider)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("PAPYR_PORT: expected env override 9090, got %d", cfg.Server.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, _, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_UnknownProvider(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("model:\n  provider: bedrock\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MODEL_PROVIDER", "")
	os.Unsetenv("MODEL_PROVIDER")

	log := slog.Default()
	_, _, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for unknown model provider")
	}
}

func TestPageCeiling(t *testing.T) {
	t.Parallel()
	cfg := Default()

	if got := cfg.PageCeiling("free"); got != 15 {
		t.Errorf("free: got %d, want 15", got)
	}
	if got := cfg.PageCeiling("pro"); got != 120 {
		t.Errorf("pro: got %d, want 120", got)
	}
	// Unknown plans fall back to the most restrictive ceiling.
	if got := cfg.PageCeiling("enterprise"); got != 15 {
		t.Errorf("unknown plan: got %d, want 15", got)
	}
}
