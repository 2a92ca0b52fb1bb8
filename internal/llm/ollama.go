package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaClient talks to a local Ollama server. Streamed replies arrive as
// one JSON object per line.
type OllamaClient struct {
	endpoint  string
	transport transport
}

func NewOllamaClient(opts Options) (*OllamaClient, error) {
	host := strings.TrimSpace(opts.BaseURL)
	if host == "" {
		host = defaultOllamaHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	u.Path = path.Join(u.Path, "/api/chat")
	return &OllamaClient{
		endpoint:  u.String(),
		transport: newTransport(string(ProviderOllama), opts),
	}, nil
}

func (c *OllamaClient) Send(ctx context.Context, req Request) (*Response, error) {
	stream := req.Stream
	payload := api.ChatRequest{
		Model:    req.Model,
		Messages: ollamaMessages(req.Messages),
		Stream:   &stream,
	}
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := c.transport.do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(requestBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/x-ndjson")
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	return NewResponse(httpResp.Body, req.Stream, FramingJSONLines), nil
}

type OllamaExtractor struct{}

func (OllamaExtractor) ExtractDelta(chunk Chunk) (Delta, bool) {
	var resp api.ChatResponse
	if err := json.Unmarshal(chunk, &resp); err != nil {
		return Delta{}, false
	}
	if resp.Message.Role == "" && !resp.Done {
		return Delta{}, false
	}
	return Delta{Text: resp.Message.Content}, true
}

func (OllamaExtractor) ExtractFull(body []byte) (Delta, error) {
	var resp api.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Delta{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Message.Role == "" && !resp.Done {
		return Delta{}, errors.New("ollama response has no message")
	}
	return Delta{Text: resp.Message.Content}, nil
}

func ollamaMessages(messages []Message) []api.Message {
	msgs := make([]api.Message, len(messages))
	for i, msg := range messages {
		msgs[i] = api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return msgs
}
