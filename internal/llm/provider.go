package llm

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	ollamaBaseURL     = "http://localhost:11434/v1"
)

// ClientOptions configures one adapter instance.
type ClientOptions struct {
	APIKey     string
	AuthToken  string // OAuth bearer token (Anthropic)
	BaseURL    string
	Model      string
	Headers    map[string]string
	MaxTokens  int
	Timeout    time.Duration
	Retry      RetryPolicy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type ProviderConfig struct {
	Provider  string // anthropic, openai, openrouter, ollama
	APIKey    string
	AuthToken string // OAuth token (Bearer auth)
	Model     string
	BaseURL   string
	Timeout   time.Duration
	Retry     RetryPolicy
	Logger    *slog.Logger

	// OpenRouter attribution headers.
	AppURL  string
	AppName string
}

func (cfg ProviderConfig) options() ClientOptions {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return ClientOptions{
		APIKey:    cfg.APIKey,
		AuthToken: cfg.AuthToken,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		Timeout:   timeout,
		Retry:     cfg.Retry,
		Logger:    cfg.Logger,
	}
}

func NewClient(cfg ProviderConfig) (Provider, error) {
	opts := cfg.options()
	switch cfg.Provider {
	case "anthropic":
		if opts.APIKey == "" && opts.AuthToken == "" {
			return nil, fmt.Errorf("anthropic: missing API key or auth token")
		}
		return NewAnthropicClient(opts), nil
	case "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai: missing API key")
		}
		return NewOpenAIClient("openai", opts), nil
	case "openrouter":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openrouter: missing API key")
		}
		return NewOpenRouterClient(opts, cfg.AppURL, cfg.AppName), nil
	case "ollama":
		if opts.Model == "" {
			opts.Model = "llama3.1"
		}
		if opts.BaseURL == "" {
			opts.BaseURL = ollamaBaseURL
		}
		opts.APIKey = "ollama"
		return NewOpenAIClient("ollama", opts), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}
