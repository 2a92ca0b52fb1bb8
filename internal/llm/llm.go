package llm

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Chunk is the payload of a single transport frame: the data of one SSE
// event or one line of a JSON lines stream.
type Chunk []byte

// Delta is the text carried by one chunk. Perplexity also reports the
// citation list alongside the deltas.
type Delta struct {
	Text      string
	Citations []string
}

// Client sends a request to a search-completion endpoint. The returned
// Response must be closed by the caller.
type Client interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Extractor turns provider-specific frames into deltas.
type Extractor interface {
	// ExtractDelta reports false for chunks that carry no recognizable delta.
	ExtractDelta(chunk Chunk) (Delta, bool)
	// ExtractFull decodes a complete non-streaming response body.
	ExtractFull(body []byte) (Delta, error)
}

type Provider string

const (
	ProviderPerplexity Provider = "perplexity"
	ProviderOpenRouter Provider = "openrouter"
	ProviderOllama     Provider = "ollama"
	ProviderDuckDuckGo Provider = "duckduckgo"
)

// NewClient builds the transport for the given provider.
func NewClient(provider Provider, opts Options) (Client, error) {
	switch provider {
	case ProviderPerplexity:
		return NewPerplexityClient(opts)
	case ProviderOpenRouter:
		return NewOpenRouterClient(opts)
	case ProviderOllama:
		return NewOllamaClient(opts)
	case ProviderDuckDuckGo:
		return NewDuckDuckGoClient(opts)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// ExtractorFor returns the delta extractor matching the provider's wire format.
func ExtractorFor(provider Provider) (Extractor, error) {
	switch provider {
	case ProviderPerplexity:
		return PerplexityExtractor{}, nil
	case ProviderOpenRouter:
		return OpenRouterExtractor{}, nil
	case ProviderOllama:
		return OllamaExtractor{}, nil
	case ProviderDuckDuckGo:
		return DuckDuckGoExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
