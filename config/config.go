// Package config loads service settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Search   SearchConfig   `yaml:"search"`
	Trends   TrendsConfig   `yaml:"trends"`
	Agent    AgentConfig    `yaml:"agent"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ModelConfig selects and configures the inference provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // openai or anthropic
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"` // optional OpenAI-compatible endpoint
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
}

// SearchConfig configures the web-search capability adapter. An empty APIKey
// leaves the capability unavailable.
type SearchConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	MaxResults     int           `yaml:"max_results"`
	Depth          string        `yaml:"depth"` // basic or advanced
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TrendsConfig configures the trends capability adapter reached over the
// remote tool-call protocol. An empty URL leaves the capability unavailable.
type TrendsConfig struct {
	URL            string        `yaml:"url"`
	AuthHeader     string        `yaml:"auth_header"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	DefaultRegion  string        `yaml:"default_region"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	MaxIterations     int           `yaml:"max_iterations"`
	Timeout           time.Duration `yaml:"timeout"`
	HistoryLimit      int           `yaml:"history_limit"`
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	ModelCallsPerSec  float64       `yaml:"model_calls_per_sec"`
	TitleMaxLength    int           `yaml:"title_max_length"`
	PersistRetryDelay time.Duration `yaml:"persist_retry_delay"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig configures access token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// Default returns a configuration mirroring the service defaults. Credentials
// are intentionally empty so the matching capabilities stay unavailable until
// configured.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8000"},
		Model: ModelConfig{
			Provider:    "openai",
			Name:        "gpt-4o-mini",
			Temperature: 0.2,
		},
		Search: SearchConfig{
			BaseURL:        "https://api.tavily.com",
			MaxResults:     5,
			Depth:          "basic",
			RequestTimeout: 15 * time.Second,
		},
		Trends: TrendsConfig{
			RequestTimeout: 30 * time.Second,
			MaxRetries:     2,
			DefaultRegion:  "US",
		},
		Agent: AgentConfig{
			MaxIterations:     10,
			Timeout:           60 * time.Second,
			HistoryLimit:      20,
			MaxConcurrentRuns: 16,
			ModelCallsPerSec:  5,
			TitleMaxLength:    200,
			PersistRetryDelay: 200 * time.Millisecond,
		},
		Database: DatabaseConfig{Path: "trendchat.db"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from an optional YAML file then applies
// environment variable overrides. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "TRENDCHAT_ADDR")
	setString(&c.Model.Provider, "MODEL_PROVIDER")
	setString(&c.Model.APIKey, "MODEL_API_KEY")
	setString(&c.Model.BaseURL, "MODEL_BASE_URL")
	setString(&c.Model.Name, "MODEL_NAME")
	setString(&c.Search.APIKey, "SEARCH_API_KEY")
	setString(&c.Search.Depth, "SEARCH_DEPTH")
	setInt(&c.Search.MaxResults, "SEARCH_MAX_RESULTS")
	setString(&c.Trends.URL, "TRENDS_URL")
	setString(&c.Trends.AuthHeader, "TRENDS_AUTH_HEADER")
	setInt(&c.Trends.MaxRetries, "TRENDS_MAX_RETRIES")
	setString(&c.Trends.DefaultRegion, "TRENDS_DEFAULT_REGION")
	setInt(&c.Agent.MaxIterations, "AGENT_MAX_ITERATIONS")
	setDuration(&c.Agent.Timeout, "AGENT_TIMEOUT")
	setInt(&c.Agent.HistoryLimit, "AGENT_HISTORY_LIMIT")
	setString(&c.Database.Path, "DATABASE_PATH")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Model.Provider != "openai" && c.Model.Provider != "anthropic" {
		return fmt.Errorf("model.provider must be 'openai' or 'anthropic'")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive")
	}
	if c.Agent.HistoryLimit < 1 {
		return fmt.Errorf("agent.history_limit must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
