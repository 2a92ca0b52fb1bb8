package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
	openRouterReferer    = "https://github.com/tom-doerr/perplexity_search"
)

// OpenRouterClient speaks the OpenAI chat completions dialect served by
// OpenRouter.
type OpenRouterClient struct {
	baseURL   string
	token     string
	appName   string
	transport transport
}

func NewOpenRouterClient(opts Options) (*OpenRouterClient, error) {
	token := strings.TrimSpace(opts.APIKey)
	if token == "" {
		return nil, errors.New("openrouter api key is required")
	}
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = "plexsearch"
	}
	return &OpenRouterClient{
		baseURL:   baseURL,
		token:     token,
		appName:   appName,
		transport: newTransport(string(ProviderOpenRouter), opts),
	}, nil
}

func (c *OpenRouterClient) Send(ctx context.Context, req Request) (*Response, error) {
	payload := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: openAIMessages(req.Messages),
		Stream:   req.Stream,
	}
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := buildChatEndpoint(c.baseURL)

	httpResp, err := c.transport.do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
		httpReq.Header.Set("HTTP-Referer", openRouterReferer)
		httpReq.Header.Set("X-Title", c.appName)
		if req.Stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		}
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	return NewResponse(httpResp.Body, req.Stream, FramingSSE), nil
}

type OpenRouterExtractor struct{}

func (OpenRouterExtractor) ExtractDelta(chunk Chunk) (Delta, bool) {
	var resp openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(chunk, &resp); err != nil {
		return Delta{}, false
	}
	if len(resp.Choices) == 0 {
		return Delta{}, false
	}
	return Delta{Text: resp.Choices[0].Delta.Content}, true
}

func (OpenRouterExtractor) ExtractFull(body []byte) (Delta, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Delta{}, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Delta{}, errors.New("openrouter response has no choices")
	}
	return Delta{Text: resp.Choices[0].Message.Content}, nil
}

func openAIMessages(messages []Message) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return msgs
}

func buildChatEndpoint(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}
