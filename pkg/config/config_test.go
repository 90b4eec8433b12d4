package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	data := `
provider: openai
model: gpt-4o-mini
openai_key: test-key
store:
  backend: redis
  redis:
    addr: localhost:6379
    ttl_minutes: 120
content:
  backend: dir
  dir: ./docs
quiz:
  max_questions: 3
answer:
  fidelity_sample_rate: 0.25
llm:
  rate_limit: 2.5
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Provider != "openai" {
		t.Errorf("expected provider openai, got %s", cfg.Provider)
	}
	if cfg.Store.Backend != "redis" {
		t.Errorf("expected redis backend, got %s", cfg.Store.Backend)
	}
	if cfg.Store.Redis.TTLMinutes != 120 {
		t.Errorf("expected ttl 120, got %d", cfg.Store.Redis.TTLMinutes)
	}
	if cfg.Quiz.MaxQuestions != 3 {
		t.Errorf("expected max_questions 3, got %d", cfg.Quiz.MaxQuestions)
	}
	if cfg.Answer.FidelitySampleRate != 0.25 {
		t.Errorf("expected fidelity rate 0.25, got %f", cfg.Answer.FidelitySampleRate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got: %v", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefault_AppliesDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Provider != "gemini" {
		t.Errorf("expected default provider gemini, got %s", cfg.Provider)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected default store memory, got %s", cfg.Store.Backend)
	}
	if cfg.Quiz.MaxQuestions != 5 {
		t.Errorf("expected default max_questions 5, got %d", cfg.Quiz.MaxQuestions)
	}
	if cfg.Answer.FidelitySampleRate != 0.10 {
		t.Errorf("expected default fidelity rate 0.10, got %f", cfg.Answer.FidelitySampleRate)
	}
	if cfg.LLM.RequestTimeoutSeconds != 60 {
		t.Errorf("expected default timeout 60, got %d", cfg.LLM.RequestTimeoutSeconds)
	}
	if cfg.MetricsPort != 9090 {
		t.Errorf("expected default metrics port 9090, got %d", cfg.MetricsPort)
	}
}

func TestValidate_ProviderCredentials(t *testing.T) {
	cfg := &Config{Provider: "gemini"}
	cfg.applyDefaults()
	cfg.GeminiKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for gemini without key")
	}

	cfg.Provider = "mock"
	if err := cfg.Validate(); err != nil {
		t.Errorf("mock provider should need no credentials, got: %v", err)
	}

	cfg.Provider = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestValidate_StoreBackend(t *testing.T) {
	cfg := &Config{Provider: "mock"}
	cfg.applyDefaults()

	cfg.Store.Backend = "redis"
	cfg.Store.Redis.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for redis store without addr")
	}

	cfg.Store.Backend = "firestore"
	cfg.GCPProject = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for firestore store without project")
	}

	cfg.Store.Backend = "filing-cabinet"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestValidate_FidelityRate(t *testing.T) {
	cfg := &Config{Provider: "mock"}
	cfg.applyDefaults()
	cfg.Answer.FidelitySampleRate = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for fidelity rate above 1")
	}
}

func TestApplyEnv_CredentialFallback(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "env-gemini-key")
	t.Setenv("REDIS_ADDR", "env-redis:6379")

	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()

	if cfg.GeminiKey != "env-gemini-key" {
		t.Errorf("expected env gemini key, got %q", cfg.GeminiKey)
	}
	if cfg.Store.Redis.Addr != "env-redis:6379" {
		t.Errorf("expected env redis addr, got %q", cfg.Store.Redis.Addr)
	}
}
