// Package config loads TutorGo configuration from YAML with environment
// variable fallback for credentials.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// LLM provider selection
	Provider string `yaml:"provider"` // gemini, openai, mock
	Model    string `yaml:"model"`

	// API Keys
	GeminiKey string `yaml:"gemini_key"`
	OpenAIKey string `yaml:"openai_key"`

	// GCP Configuration
	GCPProject     string `yaml:"gcp_project"`
	GCPDatabase    string `yaml:"gcp_database"`
	GCPCredentials string `yaml:"gcp_credentials"`

	// Session store
	Store StoreConfig `yaml:"store"`

	// Document content source
	Content ContentConfig `yaml:"content"`

	// Workflow tuning
	Quiz   QuizConfig   `yaml:"quiz"`
	Answer AnswerConfig `yaml:"answer"`

	// LLM call limits
	LLM LLMConfig `yaml:"llm"`

	// MetricsPort is the ops HTTP server port (health + metrics)
	MetricsPort int `yaml:"metrics_port"`
}

// StoreConfig selects and configures the session store backend
type StoreConfig struct {
	Backend   string          `yaml:"backend"` // memory, file, redis, firestore
	Dir       string          `yaml:"dir"`
	Redis     RedisConfig     `yaml:"redis"`
	Firestore FirestoreConfig `yaml:"firestore"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Prefix     string `yaml:"prefix"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

// FirestoreConfig holds Firestore collection settings
type FirestoreConfig struct {
	Collection string `yaml:"collection"`
}

// ContentConfig selects the document content provider
type ContentConfig struct {
	Backend    string `yaml:"backend"` // dir, firestore
	Dir        string `yaml:"dir"`
	Collection string `yaml:"collection"`
}

// QuizConfig holds quiz workflow tuning
type QuizConfig struct {
	MaxQuestions int `yaml:"max_questions"`
}

// AnswerConfig holds answer-formulation workflow tuning
type AnswerConfig struct {
	FidelitySampleRate float64 `yaml:"fidelity_sample_rate"`
}

// LLMConfig holds gateway-level limits applied to every provider call
type LLMConfig struct {
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	RateLimit             float64 `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst                 int     `yaml:"burst"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, no file needed.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.Dir == "" {
		c.Store.Dir = "data/sessions"
	}
	if c.Store.Firestore.Collection == "" {
		c.Store.Firestore.Collection = "tutor_sessions"
	}
	if c.Content.Backend == "" {
		c.Content.Backend = "dir"
	}
	if c.Content.Dir == "" {
		c.Content.Dir = "data/documents"
	}
	if c.Content.Collection == "" {
		c.Content.Collection = "documents"
	}
	if c.Quiz.MaxQuestions == 0 {
		c.Quiz.MaxQuestions = 5
	}
	if c.Answer.FidelitySampleRate == 0 {
		c.Answer.FidelitySampleRate = 0.10
	}
	if c.LLM.RequestTimeoutSeconds == 0 {
		c.LLM.RequestTimeoutSeconds = 60
	}
	if c.LLM.Burst == 0 {
		c.LLM.Burst = 4
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}
}

// applyEnv loads credentials from environment if not in config
func (c *Config) applyEnv() {
	if c.GeminiKey == "" {
		c.GeminiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if c.OpenAIKey == "" {
		c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.GCPProject == "" {
		c.GCPProject = os.Getenv("GCP_PROJECT")
	}
	if c.GCPCredentials == "" {
		c.GCPCredentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Provider {
	case "gemini":
		if c.GeminiKey == "" {
			return fmt.Errorf("gemini provider requires gemini_key or GOOGLE_API_KEY")
		}
	case "openai":
		if c.OpenAIKey == "" {
			return fmt.Errorf("openai provider requires openai_key or OPENAI_API_KEY")
		}
	case "mock":
		// no credentials needed
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}

	switch c.Store.Backend {
	case "memory", "file":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("redis store requires store.redis.addr")
		}
	case "firestore":
		if c.GCPProject == "" {
			return fmt.Errorf("firestore store requires gcp_project")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	if c.Answer.FidelitySampleRate < 0 || c.Answer.FidelitySampleRate > 1 {
		return fmt.Errorf("fidelity_sample_rate must be in [0,1]")
	}

	return nil
}
