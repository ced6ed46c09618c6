package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/formai-apps/kyuyoagent/internal/consts"
)

// AzureConfig holds Azure OpenAI endpoint settings. The API key itself is
// never persisted; it is resolved from the environment at client creation.
type AzureConfig struct {
	Endpoint   string `json:"endpoint"`
	Deployment string `json:"deployment,omitempty"`
	APIVersion string `json:"api_version"`
}

// LLMConfig selects the completion provider shared by code generation,
// analysis chat and intent classification.
type LLMConfig struct {
	Provider    string      `json:"provider"` // "azure", "anthropic", "google"
	Model       string      `json:"model"`
	Temperature float64     `json:"temperature"`
	MaxTokens   int         `json:"max_tokens"`
	APIKeyEnv   string      `json:"api_key_env,omitempty"`
	Azure       AzureConfig `json:"azure"`
}

// Config represents application configuration
type Config struct {
	BaseDir       string    `json:"base_dir"`
	CatalogPath   string    `json:"catalog_path,omitempty"`
	DataDir       string    `json:"data_dir,omitempty"`
	RuleDir       string    `json:"rule_dir,omitempty"`
	OutputDir     string    `json:"output_dir,omitempty"`
	DBPath        string    `json:"db_path,omitempty"`
	TinyGoPath    string    `json:"tinygo_path,omitempty"`
	RetentionDays int       `json:"retention_days"`
	LogLevel      string    `json:"log_level"` // debug, info, warn, error, none
	LogPath       string    `json:"log_path,omitempty"`
	LLM           LLMConfig `json:"llm"`
}

// DefaultBaseDir resolves the data root. KYUYOAGENT_BASE_PATH wins;
// LLM_EXCEL_BASE_PATH is honored for installations migrated from the
// previous deployment.
func DefaultBaseDir() string {
	if dir := strings.TrimSpace(os.Getenv("KYUYOAGENT_BASE_PATH")); dir != "" {
		return dir
	}
	if dir := strings.TrimSpace(os.Getenv("LLM_EXCEL_BASE_PATH")); dir != "" {
		return dir
	}
	return "."
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		BaseDir:       DefaultBaseDir(),
		RetentionDays: consts.DefaultFileRetentionDays,
		LogLevel:      "info",
		TinyGoPath:    "tinygo",
		LLM: LLMConfig{
			Provider:    "azure",
			Model:       "gptest",
			Temperature: consts.DefaultTemperature,
			MaxTokens:   consts.DefaultMaxTokens,
			Azure: AzureConfig{
				Endpoint:   "https://formaigpt.openai.azure.com",
				APIVersion: "2024-02-15-preview",
			},
		},
	}
}

// Load loads configuration from file, layering it over defaults. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			config.normalize()
			return config, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	config.normalize()
	return config, nil
}

// normalize fills derived paths that were not set explicitly. All of them
// hang off BaseDir the way the deployment lays out its data.
func (c *Config) normalize() {
	if c.BaseDir == "" {
		c.BaseDir = DefaultBaseDir()
	}
	if c.CatalogPath == "" {
		c.CatalogPath = filepath.Join(c.BaseDir, "config.json")
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.BaseDir, "data")
	}
	if c.RuleDir == "" {
		c.RuleDir = filepath.Join(c.BaseDir, "rule")
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.BaseDir, "output")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "files.db")
	}
	if c.TinyGoPath == "" {
		c.TinyGoPath = "tinygo"
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = consts.DefaultFileRetentionDays
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "azure"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = consts.DefaultMaxTokens
	}
	if c.LLM.Azure.Deployment == "" {
		c.LLM.Azure.Deployment = c.LLM.Model
	}
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("KYUYOAGENT_CONFIG")); path != "" {
		return path
	}
	return filepath.Join(DefaultBaseDir(), "kyuyoagent.json")
}

// APIKey resolves the provider API key from the environment. APIKeyEnv
// overrides the per-provider default variable name.
func (l *LLMConfig) APIKey() string {
	if l.APIKeyEnv != "" {
		return os.Getenv(l.APIKeyEnv)
	}
	switch l.Provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "google":
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GEMINI_API_KEY")
	default:
		return os.Getenv("AZURE_OPENAI_API_KEY")
	}
}
