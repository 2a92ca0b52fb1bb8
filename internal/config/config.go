package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tom-doerr/perplexity_search/internal/llm"
	"github.com/tom-doerr/perplexity_search/internal/prompt"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultTimeout     = 60 * time.Second

	// aiderAppName is the OR_APP_NAME value under which output must not be
	// streamed.
	aiderAppName = "Aider"
)

// ConfigurationError reports a missing or invalid setting. It is never
// retried.
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

type Config struct {
	Model string `mapstructure:"model"`
	// APIKey comes from --api-key and overrides the provider key.
	APIKey           string `mapstructure:"api_key"`
	PerplexityAPIKey string `mapstructure:"perplexity_api_key"`
	OpenRouterAPIKey string `mapstructure:"openrouter_api_key"`
	OllamaHost       string `mapstructure:"ollama_host"`
	// BaseURL overrides the provider endpoint, e.g. for a proxy.
	BaseURL string `mapstructure:"base_url"`
	AppName string `mapstructure:"app_name"`

	Stream     bool   `mapstructure:"stream"`
	Citations  bool   `mapstructure:"citations"`
	ResultType string `mapstructure:"result_type"`
	MaxResults int    `mapstructure:"max_results"`

	MarkdownFile string `mapstructure:"markdown_file"`
	LogFile      string `mapstructure:"log_file"`
	Debug        bool   `mapstructure:"debug"`

	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	// RetryDelay is the first backoff interval between attempts.
	RetryDelay  time.Duration `mapstructure:"retry_delay"`

	Update UpdateConfig `mapstructure:"update"`
}

type UpdateConfig struct {
	Check    bool          `mapstructure:"check"`
	Interval time.Duration `mapstructure:"interval"`
	URL      string        `mapstructure:"url"`
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model", DefaultModel)
	v.SetDefault("stream", true)
	v.SetDefault("citations", true)
	v.SetDefault("max_results", prompt.DefaultMaxResults)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("max_attempts", DefaultMaxAttempts)
	v.SetDefault("retry_delay", DefaultRetryDelay)
	v.SetDefault("update.check", true)
	v.SetDefault("update.interval", 24*time.Hour)
	// Keys without a meaningful default are still registered so AutomaticEnv
	// picks them up during Unmarshal.
	for _, key := range []string{"api_key", "base_url", "result_type", "markdown_file", "log_file", "update.url"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("debug", false)

	_ = v.BindEnv("perplexity_api_key", "PLEXSEARCH_PERPLEXITY_API_KEY", "PERPLEXITY_API_KEY")
	_ = v.BindEnv("openrouter_api_key", "PLEXSEARCH_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("ollama_host", "PLEXSEARCH_OLLAMA_HOST", "OLLAMA_HOST")
	_ = v.BindEnv("app_name", "PLEXSEARCH_APP_NAME", "OR_APP_NAME")
}

func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if strings.EqualFold(strings.TrimSpace(cfg.AppName), aiderAppName) {
		cfg.Stream = false
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks everything that can be checked without a network call,
// including the presence of the key the selected provider needs.
func (c Config) Validate() error {
	selector, err := ParseModel(c.Model)
	if err != nil {
		return err
	}
	if c.ResultType != "" && !prompt.ValidResultType(c.ResultType) {
		return &ConfigurationError{
			Key:     "result_type",
			Message: fmt.Sprintf("invalid result type: %s (want code, docs or mixed)", c.ResultType),
		}
	}
	if c.MaxAttempts <= 0 {
		return &ConfigurationError{Key: "max_attempts", Message: "max_attempts must be positive"}
	}
	if c.RetryDelay < 0 {
		return &ConfigurationError{Key: "retry_delay", Message: "retry_delay must not be negative"}
	}
	if c.Timeout <= 0 {
		return &ConfigurationError{Key: "timeout", Message: "timeout must be positive"}
	}
	switch selector.Provider {
	case llm.ProviderPerplexity:
		if c.KeyFor(selector.Provider) == "" {
			return &ConfigurationError{
				Key:     "api_key",
				Message: "API key must be provided either directly or via PERPLEXITY_API_KEY environment variable",
			}
		}
	case llm.ProviderOpenRouter:
		if c.KeyFor(selector.Provider) == "" {
			return &ConfigurationError{
				Key:     "openrouter_api_key",
				Message: "API key must be provided either directly or via OPENROUTER_API_KEY environment variable",
			}
		}
	}
	return nil
}

// Selector returns the parsed model selector.
func (c Config) Selector() (ModelSelector, error) {
	return ParseModel(c.Model)
}

// KeyFor resolves the API key for provider. An explicit --api-key wins over
// the provider's environment variable.
func (c Config) KeyFor(provider llm.Provider) string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	switch provider {
	case llm.ProviderPerplexity:
		return strings.TrimSpace(c.PerplexityAPIKey)
	case llm.ProviderOpenRouter:
		return strings.TrimSpace(c.OpenRouterAPIKey)
	default:
		return ""
	}
}

// ClientOptions assembles transport options for provider.
func (c Config) ClientOptions(provider llm.Provider) llm.Options {
	opts := llm.Options{
		APIKey:      c.KeyFor(provider),
		AppName:     c.AppName,
		Timeout:     c.Timeout,
		MaxAttempts: c.MaxAttempts,
		RetryDelay:  c.RetryDelay,
	}
	if provider == llm.ProviderOllama {
		opts.BaseURL = c.OllamaHost
	}
	if c.BaseURL != "" {
		opts.BaseURL = c.BaseURL
	}
	return opts
}
