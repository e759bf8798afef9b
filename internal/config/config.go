// Package config provides configuration loading and validation for the CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jonathan/brigade/internal/llm"
	"gopkg.in/yaml.v3"
)

// Defaults applied by MergeWithDefaults
const (
	DefaultStore          = "file"
	DefaultDataDir        = ".brigade"
	DefaultEstimator      = "heuristic"
	DefaultCostPerMillion = 0.50
	DefaultAddr           = ":8080"
	DefaultRateLimitRPS   = 2.0
	DefaultRateLimitBurst = 5
)

// Config represents the configuration that can be loaded from a JSON or YAML file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	// Backend
	Provider      string  `json:"provider,omitempty" yaml:"provider,omitempty" validate:"omitempty,oneof=gemini openai"`
	APIKey        string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL       string  `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	ModelLite     string  `json:"model_lite,omitempty" yaml:"model_lite,omitempty"`
	ModelStandard string  `json:"model_standard,omitempty" yaml:"model_standard,omitempty"`
	ModelAdvanced string  `json:"model_advanced,omitempty" yaml:"model_advanced,omitempty"`
	Temperature   float32 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"gte=0,lte=2"`

	// Pipeline
	RegistryPath       string  `json:"registry,omitempty" yaml:"registry,omitempty"`                 // YAML role registry
	CompetitorAnalysis bool    `json:"competitor_analysis,omitempty" yaml:"competitor_analysis,omitempty"` // Add the CompetitorAnalyzer fan-out role
	ParallelLimit      int     `json:"parallel_limit,omitempty" yaml:"parallel_limit,omitempty" validate:"gte=0"`
	Estimator          string  `json:"estimator,omitempty" yaml:"estimator,omitempty" validate:"omitempty,oneof=heuristic tiktoken"`
	CostPerMillion     float64 `json:"cost_per_million,omitempty" yaml:"cost_per_million,omitempty" validate:"gte=0"` // USD per million tokens

	// Storage
	Store       string `json:"store,omitempty" yaml:"store,omitempty" validate:"omitempty,oneof=file sqlite postgres memory"`
	DataDir     string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"` // PostgreSQL connection URL
	Namespace   string `json:"namespace,omitempty" yaml:"namespace,omitempty" validate:"omitempty,max=128"`

	// Server
	Addr           string   `json:"addr,omitempty" yaml:"addr,omitempty"`
	RateLimitRPS   float64  `json:"rate_limit_rps,omitempty" yaml:"rate_limit_rps,omitempty" validate:"gte=0"`
	RateLimitBurst int      `json:"rate_limit_burst,omitempty" yaml:"rate_limit_burst,omitempty" validate:"gte=0"`
	CORSOrigins    []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// Behavior
	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"` // Print detailed progress
}

// LoadConfig loads configuration from a JSON file, or YAML when the extension is
// .yaml or .yml. Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by CLI flag validation after merging.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.Store == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("config error: 'database_url' is required for the postgres store")
	}

	if c.RegistryPath != "" {
		if _, err := os.Stat(c.RegistryPath); os.IsNotExist(err) {
			return fmt.Errorf("config error: registry file not found: %s", c.RegistryPath)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults, then
// from the built-in defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	mergeString(&result.Provider, defaults.Provider, "")
	mergeString(&result.APIKey, defaults.APIKey, "")
	mergeString(&result.BaseURL, defaults.BaseURL, "")
	mergeString(&result.ModelLite, defaults.ModelLite, "")
	mergeString(&result.ModelStandard, defaults.ModelStandard, "")
	mergeString(&result.ModelAdvanced, defaults.ModelAdvanced, "")
	mergeString(&result.RegistryPath, defaults.RegistryPath, "")
	mergeString(&result.Estimator, defaults.Estimator, DefaultEstimator)
	mergeString(&result.Store, defaults.Store, DefaultStore)
	mergeString(&result.DataDir, defaults.DataDir, DefaultDataDir)
	mergeString(&result.DatabaseURL, defaults.DatabaseURL, "")
	mergeString(&result.Namespace, defaults.Namespace, "")
	mergeString(&result.Addr, defaults.Addr, DefaultAddr)

	// Numeric fields: use default if zero
	if result.Temperature == 0 {
		result.Temperature = defaults.Temperature
	}
	if result.ParallelLimit == 0 {
		result.ParallelLimit = defaults.ParallelLimit
	}
	if result.CostPerMillion == 0 {
		result.CostPerMillion = defaults.CostPerMillion
		if result.CostPerMillion == 0 {
			result.CostPerMillion = DefaultCostPerMillion
		}
	}
	if result.RateLimitRPS == 0 {
		result.RateLimitRPS = defaults.RateLimitRPS
		if result.RateLimitRPS == 0 {
			result.RateLimitRPS = DefaultRateLimitRPS
		}
	}
	if result.RateLimitBurst == 0 {
		result.RateLimitBurst = defaults.RateLimitBurst
		if result.RateLimitBurst == 0 {
			result.RateLimitBurst = DefaultRateLimitBurst
		}
	}
	if len(result.CORSOrigins) == 0 {
		result.CORSOrigins = defaults.CORSOrigins
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

func mergeString(dst *string, fallback, builtin string) {
	if *dst == "" {
		*dst = fallback
	}
	if *dst == "" {
		*dst = builtin
	}
}

// FromEnv returns a Config populated from environment variables. It is used as the
// defaults layer under a config file.
func FromEnv() Config {
	cfg := Config{
		Provider:    os.Getenv("BRIGADE_PROVIDER"),
		Store:       os.Getenv("BRIGADE_STORE"),
		DataDir:     os.Getenv("BRIGADE_DATA_DIR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}
	cfg.APIKey = APIKeyFromEnv(cfg.Provider)
	if v, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64); err == nil {
		cfg.RateLimitRPS = v
	}
	if v, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST")); err == nil {
		cfg.RateLimitBurst = v
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	return cfg
}

// APIKeyFromEnv returns the backend key for provider from OPENAI_API_KEY or
// GEMINI_API_KEY. An empty provider falls back to BRIGADE_PROVIDER, then Gemini.
func APIKeyFromEnv(provider string) string {
	if provider == "" {
		provider = os.Getenv("BRIGADE_PROVIDER")
	}
	if p, err := llm.ParseProvider(provider); err == nil && p == llm.ProviderOpenAI {
		return os.Getenv("OPENAI_API_KEY")
	}
	return os.Getenv("GEMINI_API_KEY")
}

// LLMConfig builds the backend model configuration
func (c *Config) LLMConfig() (*llm.Config, error) {
	provider, err := llm.ParseProvider(c.Provider)
	if err != nil {
		return nil, err
	}
	cfg := llm.ConfigFor(provider)
	if c.ModelLite != "" {
		cfg = cfg.WithModel(llm.TierLite, c.ModelLite)
	}
	if c.ModelStandard != "" {
		cfg = cfg.WithModel(llm.TierStandard, c.ModelStandard)
	}
	if c.ModelAdvanced != "" {
		cfg = cfg.WithModel(llm.TierAdvanced, c.ModelAdvanced)
	}
	if c.BaseURL != "" {
		cfg.BaseURL = c.BaseURL
	}
	if c.Temperature > 0 {
		cfg.Temperature = c.Temperature
	}
	return cfg, nil
}
