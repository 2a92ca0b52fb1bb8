package config

import (
	"fmt"
	"strings"

	"github.com/tom-doerr/perplexity_search/internal/llm"
)

const DefaultModel = "llama-3.1-sonar-large-128k-online"

const (
	ollamaPrefix     = "ollama:"
	openRouterPrefix = "openrouter:"
)

var perplexityModels = map[string]bool{
	"sonar":                             true,
	"sonar-pro":                         true,
	"sonar-reasoning":                   true,
	"sonar-reasoning-pro":               true,
	"sonar-deep-research":               true,
	"r1-1776":                           true,
	"llama-3.1-sonar-small-128k-online": true,
	"llama-3.1-sonar-large-128k-online": true,
	"llama-3.1-sonar-huge-128k-online":  true,
}

var modelAliases = map[string]string{
	"small": "llama-3.1-sonar-small-128k-online",
	"large": "llama-3.1-sonar-large-128k-online",
	"huge":  "llama-3.1-sonar-huge-128k-online",
}

// ModelSelector names a provider and the model passed to it verbatim.
type ModelSelector struct {
	Provider llm.Provider
	Model    string
}

func (s ModelSelector) String() string {
	switch s.Provider {
	case llm.ProviderOllama:
		return ollamaPrefix + s.Model
	case llm.ProviderOpenRouter:
		return openRouterPrefix + s.Model
	default:
		return s.Model
	}
}

// ParseModel resolves a --model value. Perplexity names must be known;
// ollama: and openrouter: selectors pass the remainder through unchecked.
func ParseModel(value string) (ModelSelector, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = DefaultModel
	}
	lower := strings.ToLower(value)

	switch {
	case strings.HasPrefix(lower, ollamaPrefix):
		return prefixed(llm.ProviderOllama, value, len(ollamaPrefix))
	case strings.HasPrefix(lower, openRouterPrefix):
		return prefixed(llm.ProviderOpenRouter, value, len(openRouterPrefix))
	case lower == "duckduckgo" || lower == "ddg":
		return ModelSelector{Provider: llm.ProviderDuckDuckGo, Model: "duckduckgo"}, nil
	}
	if full, ok := modelAliases[lower]; ok {
		return ModelSelector{Provider: llm.ProviderPerplexity, Model: full}, nil
	}
	if perplexityModels[lower] {
		return ModelSelector{Provider: llm.ProviderPerplexity, Model: lower}, nil
	}
	return ModelSelector{}, invalidModel(value)
}

func prefixed(provider llm.Provider, value string, n int) (ModelSelector, error) {
	model := strings.TrimSpace(value[n:])
	if model == "" {
		return ModelSelector{}, invalidModel(value)
	}
	return ModelSelector{Provider: provider, Model: model}, nil
}

func invalidModel(value string) *ConfigurationError {
	return &ConfigurationError{Key: "model", Message: fmt.Sprintf("Invalid model: %s", value)}
}
