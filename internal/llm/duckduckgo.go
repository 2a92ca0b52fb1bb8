package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultDuckDuckGoURL = "https://api.duckduckgo.com/"
	maxRelatedTopics     = 5
)

// DuckDuckGoClient queries the instant answer API with the latest user turn.
// The API has no streaming mode, so every response is complete.
type DuckDuckGoClient struct {
	baseURL   string
	transport transport
}

func NewDuckDuckGoClient(opts Options) (*DuckDuckGoClient, error) {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = defaultDuckDuckGoURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	return &DuckDuckGoClient{
		baseURL:   baseURL,
		transport: newTransport(string(ProviderDuckDuckGo), opts),
	}, nil
}

func (c *DuckDuckGoClient) Send(ctx context.Context, req Request) (*Response, error) {
	query := lastUserContent(req.Messages)
	if query == "" {
		return nil, errors.New("duckduckgo query is empty")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	values := u.Query()
	values.Set("q", query)
	values.Set("format", "json")
	values.Set("no_html", "1")
	values.Set("skip_disambig", "1")
	u.RawQuery = values.Encode()
	endpoint := u.String()

	httpResp, err := c.transport.do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("User-Agent", "plexsearch")
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	return NewResponse(httpResp.Body, false, FramingJSONLines), nil
}

type DuckDuckGoExtractor struct{}

func (DuckDuckGoExtractor) ExtractDelta(Chunk) (Delta, bool) {
	return Delta{}, false
}

func (DuckDuckGoExtractor) ExtractFull(body []byte) (Delta, error) {
	var resp duckDuckGoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Delta{}, fmt.Errorf("decode response: %w", err)
	}

	var sb strings.Builder
	var citations []string
	if resp.Heading != "" {
		sb.WriteString("# " + resp.Heading + "\n\n")
	}
	if answer := resp.answerText(); answer != "" {
		sb.WriteString(answer + "\n\n")
	}
	if resp.AbstractText != "" {
		sb.WriteString(resp.AbstractText + "\n\n")
		if resp.AbstractURL != "" {
			citations = append(citations, resp.AbstractURL)
		}
	}
	if resp.Definition != "" {
		sb.WriteString("**Definition:** " + resp.Definition + "\n\n")
		if resp.DefinitionURL != "" {
			citations = append(citations, resp.DefinitionURL)
		}
	}

	topics := flattenTopics(resp.RelatedTopics)
	if len(topics) > maxRelatedTopics {
		topics = topics[:maxRelatedTopics]
	}
	if len(topics) > 0 {
		sb.WriteString("## Related\n\n")
		for _, topic := range topics {
			sb.WriteString("- " + topic.Text + "\n")
			if topic.FirstURL != "" {
				citations = append(citations, topic.FirstURL)
			}
		}
	}
	return Delta{
		Text:      strings.TrimSpace(sb.String()),
		Citations: citations,
	}, nil
}

func flattenTopics(topics []duckDuckGoTopic) []duckDuckGoTopic {
	var out []duckDuckGoTopic
	for _, topic := range topics {
		if len(topic.Topics) > 0 {
			out = append(out, flattenTopics(topic.Topics)...)
			continue
		}
		if topic.Text != "" {
			out = append(out, topic)
		}
	}
	return out
}

type duckDuckGoResponse struct {
	Heading       string            `json:"Heading"`
	AbstractText  string            `json:"AbstractText"`
	AbstractURL   string            `json:"AbstractURL"`
	Answer        json.RawMessage   `json:"Answer"`
	Definition    string            `json:"Definition"`
	DefinitionURL string            `json:"DefinitionURL"`
	RelatedTopics []duckDuckGoTopic `json:"RelatedTopics"`
}

// answerText handles Answer being either a plain string or an object.
func (r duckDuckGoResponse) answerText() string {
	if len(r.Answer) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(r.Answer, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return ""
}

type duckDuckGoTopic struct {
	Text     string            `json:"Text"`
	FirstURL string            `json:"FirstURL"`
	Name     string            `json:"Name"`
	Topics   []duckDuckGoTopic `json:"Topics"`
}
