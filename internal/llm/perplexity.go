package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const defaultPerplexityURL = "https://api.perplexity.ai"

type PerplexityClient struct {
	baseURL   string
	token     string
	transport transport
}

func NewPerplexityClient(opts Options) (*PerplexityClient, error) {
	token := strings.TrimSpace(opts.APIKey)
	if token == "" {
		return nil, errors.New("perplexity api key is required")
	}
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = defaultPerplexityURL
	}
	return &PerplexityClient{
		baseURL:   baseURL,
		token:     token,
		transport: newTransport(string(ProviderPerplexity), opts),
	}, nil
}

func (c *PerplexityClient) Send(ctx context.Context, req Request) (*Response, error) {
	payload := perplexityChatRequest{
		Model:           req.Model,
		Messages:        req.Messages,
		Stream:          req.Stream,
		ReturnCitations: true,
	}
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := strings.TrimRight(c.baseURL, "/") + "/chat/completions"

	httpResp, err := c.transport.do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
		if req.Stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		} else {
			httpReq.Header.Set("Accept", "application/json")
		}
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	return NewResponse(httpResp.Body, req.Stream, FramingSSE), nil
}

type PerplexityExtractor struct{}

func (PerplexityExtractor) ExtractDelta(chunk Chunk) (Delta, bool) {
	var resp perplexityChatResponse
	if err := json.Unmarshal(chunk, &resp); err != nil {
		return Delta{}, false
	}
	if len(resp.Choices) == 0 && len(resp.Citations) == 0 {
		return Delta{}, false
	}
	delta := Delta{Citations: resp.Citations}
	if len(resp.Choices) > 0 {
		delta.Text = resp.Choices[0].Delta.Content
	}
	return delta, true
}

func (PerplexityExtractor) ExtractFull(body []byte) (Delta, error) {
	var resp perplexityChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Delta{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return Delta{}, fmt.Errorf("perplexity error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return Delta{}, errors.New("perplexity response has no choices")
	}
	return Delta{
		Text:      resp.Choices[0].Message.Content,
		Citations: resp.Citations,
	}, nil
}

type perplexityChatRequest struct {
	Model           string    `json:"model"`
	Messages        []Message `json:"messages"`
	Stream          bool      `json:"stream"`
	ReturnCitations bool      `json:"return_citations,omitempty"`
}

type perplexityChatResponse struct {
	ID        string   `json:"id"`
	Model     string   `json:"model"`
	Citations []string `json:"citations,omitempty"`
	Choices   []struct {
		Message      Message `json:"message"`
		Delta        Message `json:"delta"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}
