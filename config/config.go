// Package config loads yana's settings. Sources, lowest precedence first:
// built-in defaults, the YAML settings file, then environment variables
// (including those set by .env and ~/.yana/config).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/0324wy/yana/internal/llm"
)

const (
	SessionBackendFile   = "file"
	SessionBackendSQLite = "sqlite"
)

type Config struct {
	Provider         string        `yaml:"provider" env:"LLM_PROVIDER"` // anthropic, openai, openrouter, ollama
	AnthropicKey     string        `yaml:"anthropic-api-key" env:"ANTHROPIC_API_KEY"`
	AnthropicToken   string        `yaml:"anthropic-auth-token" env:"ANTHROPIC_AUTH_TOKEN"` // OAuth token (Authorization: Bearer header)
	OpenAIKey        string        `yaml:"openai-api-key" env:"OPENAI_API_KEY"`
	OpenRouterKey    string        `yaml:"openrouter-api-key" env:"OPENROUTER_API_KEY"`
	Model            string        `yaml:"model" env:"LLM_MODEL"`
	BaseURL          string        `yaml:"base-url" env:"LLM_BASE_URL"`
	OllamaBaseURL    string        `yaml:"ollama-base-url" env:"OLLAMA_BASE_URL"`
	AppURL           string        `yaml:"app-url" env:"OPENROUTER_APP_URL"`
	AppName          string        `yaml:"app-name" env:"OPENROUTER_APP_NAME"`
	RequestTimeout   time.Duration `yaml:"request-timeout" env:"LLM_TIMEOUT"`
	MaxRetries       int           `yaml:"max-retries" env:"LLM_MAX_RETRIES"`
	RetryBaseDelay   time.Duration `yaml:"retry-base-delay" env:"LLM_RETRY_BASE_DELAY"`
	RetryMaxDelay    time.Duration `yaml:"retry-max-delay" env:"LLM_RETRY_MAX_DELAY"`
	MaxIterations    int           `yaml:"max-iterations" env:"MAX_ITERATIONS"`
	MaxContextTokens int           `yaml:"max-context-tokens" env:"MAX_CONTEXT_TOKENS"`
	SystemPrompt     string        `yaml:"system-prompt" env:"SYSTEM_PROMPT"`
	Stream           bool          `yaml:"stream" env:"YANA_STREAM"`
	SessionBackend   string        `yaml:"session-backend" env:"SESSION_BACKEND"`
	SessionDir       string        `yaml:"session-dir" env:"SESSION_DIR"`
	DatabasePath     string        `yaml:"database-path" env:"DATABASE_PATH"`
	AllowedPaths     []string      `yaml:"allowed-paths" env:"ALLOWED_PATHS" envSeparator:":"`
	DiscordToken     string        `yaml:"discord-token" env:"DISCORD_BOT_TOKEN"`
	DiscordWebhook   string        `yaml:"discord-webhook" env:"DISCORD_WEBHOOK_URL"`
	CheckInCron      string        `yaml:"check-in-cron" env:"CHECK_IN_CRON"`
	LogLevel         string        `yaml:"log-level" env:"LOG_LEVEL"`
}

// ConfigDir returns ~/.yana.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".yana")
}

// ConfigFile returns ~/.yana/config, a dotenv file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config")
}

// Default returns the built-in settings.
func Default() *Config {
	dir := ConfigDir()
	return &Config{
		Provider:         "anthropic",
		OllamaBaseURL:    "http://localhost:11434/v1",
		AppName:          "yana",
		RequestTimeout:   60 * time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   time.Second,
		RetryMaxDelay:    30 * time.Second,
		MaxIterations:    4,
		MaxContextTokens: 100000,
		SessionBackend:   SessionBackendFile,
		SessionDir:       filepath.Join(dir, "sessions"),
		DatabasePath:     filepath.Join(dir, "yana.db"),
		CheckInCron:      "0 9 * * *",
		LogLevel:         "info",
	}
}

// Load reads .env from the working directory and ~/.yana/config into the
// environment (existing variables win), then builds the configuration.
func Load() (*Config, error) {
	_ = godotenv.Load() // ignore error if no .env
	_ = godotenv.Load(ConfigFile())

	return Parse(os.Getenv("YANA_CONFIG"))
}

// Parse builds the configuration from defaults, the optional YAML file at
// path, and the process environment.
func Parse(path string) (*Config, error) {
	c := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading settings file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(content, c); err != nil {
				return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.SessionBackend {
	case SessionBackendFile, SessionBackendSQLite:
	default:
		return fmt.Errorf("unknown session backend %q (want %q or %q)", c.SessionBackend, SessionBackendFile, SessionBackendSQLite)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

// ProviderConfig returns the settings for llm.NewClient.
func (c *Config) ProviderConfig(logger *slog.Logger) llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider: c.Provider,
		Model:    c.Model,
		BaseURL:  c.BaseURL,
		Timeout:  c.RequestTimeout,
		Retry: llm.RetryPolicy{
			MaxRetries: c.MaxRetries,
			BaseDelay:  c.RetryBaseDelay,
			MaxDelay:   c.RetryMaxDelay,
		},
		Logger:  logger,
		AppURL:  c.AppURL,
		AppName: c.AppName,
	}
	switch c.Provider {
	case "anthropic":
		pc.APIKey = c.AnthropicKey
		pc.AuthToken = c.AnthropicToken
	case "openai":
		pc.APIKey = c.OpenAIKey
	case "openrouter":
		pc.APIKey = c.OpenRouterKey
	case "ollama":
		if pc.BaseURL == "" {
			pc.BaseURL = c.OllamaBaseURL
		}
	}
	return pc
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
