// Package config loads docledger.yaml with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/docledger/internal/llm"
	"github.com/dvloznov/docledger/internal/prompt"
)

// Model providers.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Config is the top-level docledger.yaml configuration.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Prompts  PromptsConfig  `yaml:"prompts"`
	Context  ContextConfig  `yaml:"context"`
	Storage  StorageConfig  `yaml:"storage"`
	BigQuery BigQueryConfig `yaml:"bigquery"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// ModelConfig selects the hosted model. An empty Name or APIKeyEnv takes the
// provider's default.
type ModelConfig struct {
	Provider string `yaml:"provider"`
	Name     string `yaml:"name"`
	// OCRName is the Gemini vision model used for image text.
	OCRName   string `yaml:"ocr_name"`
	APIKeyEnv string `yaml:"api_key_env"`
	// OCRAPIKeyEnv names the Gemini key variable used for OCR, which is
	// needed even when Provider is anthropic.
	OCRAPIKeyEnv string `yaml:"ocr_api_key_env"`
}

// WithProviderDefaults fills an empty Name and APIKeyEnv from Provider.
func (m ModelConfig) WithProviderDefaults() ModelConfig {
	switch m.Provider {
	case ProviderGemini:
		if m.Name == "" {
			m.Name = llm.DefaultGeminiModel
		}
		if m.APIKeyEnv == "" {
			m.APIKeyEnv = "GOOGLE_API_KEY"
		}
	case ProviderAnthropic:
		if m.Name == "" {
			m.Name = llm.DefaultAnthropicModel
		}
		if m.APIKeyEnv == "" {
			m.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
	return m
}

// APIKey reads the key from the configured environment variable.
func (m ModelConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}

// OCRAPIKey reads the OCR key from its environment variable.
func (m ModelConfig) OCRAPIKey() string {
	if m.OCRAPIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.OCRAPIKeyEnv)
}

// SamplingConfig overrides one use case's sampling parameters.
type SamplingConfig struct {
	Temperature float32 `yaml:"temperature"`
	TopP        float32 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// PromptsConfig holds per use case sampling.
type PromptsConfig struct {
	Categorize SamplingConfig `yaml:"categorize"`
	Validate   SamplingConfig `yaml:"validate"`
	Chat       SamplingConfig `yaml:"chat"`
}

// Sampling converts the section into composer overrides.
func (p PromptsConfig) Sampling() map[prompt.UseCase]prompt.Sampling {
	conv := func(s SamplingConfig) prompt.Sampling {
		return prompt.Sampling{Temperature: s.Temperature, TopP: s.TopP, MaxTokens: s.MaxTokens}
	}
	return map[prompt.UseCase]prompt.Sampling{
		prompt.Categorize: conv(p.Categorize),
		prompt.Validate:   conv(p.Validate),
		prompt.Chat:       conv(p.Chat),
	}
}

// ContextConfig bounds chat memory.
type ContextConfig struct {
	TokenBudget int           `yaml:"token_budget"`
	KeyTTL      time.Duration `yaml:"key_ttl"`
}

// StorageConfig names the document bucket.
type StorageConfig struct {
	Bucket string `yaml:"bucket"`
}

// BigQueryConfig locates the ledger dataset.
type BigQueryConfig struct {
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
}

// SQLiteConfig points at the local ledger database.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	s := prompt.DefaultSampling()
	conv := func(uc prompt.UseCase) SamplingConfig {
		return SamplingConfig{Temperature: s[uc].Temperature, TopP: s[uc].TopP, MaxTokens: s[uc].MaxTokens}
	}
	return &Config{
		Model: ModelConfig{
			Provider:     ProviderGemini,
			OCRName:      llm.DefaultGeminiModel,
			OCRAPIKeyEnv: "GOOGLE_API_KEY",
		},
		Prompts: PromptsConfig{
			Categorize: conv(prompt.Categorize),
			Validate:   conv(prompt.Validate),
			Chat:       conv(prompt.Chat),
		},
		Context: ContextConfig{
			TokenBudget: 4000,
			KeyTTL:      time.Hour,
		},
		BigQuery: BigQueryConfig{Dataset: "docledger"},
		SQLite:   SQLiteConfig{Path: "docledger.db"},
		Server:   ServerConfig{Port: "8080"},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides. A missing path is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Model = cfg.Model.WithProviderDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DOCLEDGER_MODEL_PROVIDER": &c.Model.Provider,
		"DOCLEDGER_MODEL_NAME":     &c.Model.Name,
		"GCS_BUCKET":               &c.Storage.Bucket,
		"GOOGLE_CLOUD_PROJECT":     &c.BigQuery.Project,
		"DOCLEDGER_BQ_DATASET":     &c.BigQuery.Dataset,
		"DOCLEDGER_SQLITE_PATH":    &c.SQLite.Path,
		"PORT":                     &c.Server.Port,
		"LOG_LEVEL":                &c.Log.Level,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("DOCLEDGER_TOKEN_BUDGET"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing DOCLEDGER_TOKEN_BUDGET: %w", err)
		}
		c.Context.TokenBudget = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderGemini, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	if c.Context.TokenBudget <= 0 {
		return fmt.Errorf("context token budget must be positive, got %d", c.Context.TokenBudget)
	}
	for uc, s := range c.Prompts.Sampling() {
		if s.MaxTokens <= 0 {
			return fmt.Errorf("prompts.%s.max_tokens must be positive, got %d", uc, s.MaxTokens)
		}
	}
	return nil
}
