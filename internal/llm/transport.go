package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tmaxmax/go-sse"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
	defaultTimeout     = 60 * time.Second

	streamDone = "[DONE]"
)

type Options struct {
	APIKey  string
	BaseURL string
	// AppName is sent as X-Title where the provider supports attribution.
	AppName string

	HTTPClient *http.Client
	// Timeout bounds the wait for response headers. Bodies may stream for longer.
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration

	Logger *zap.Logger
}

type Framing int

const (
	FramingSSE Framing = iota
	FramingJSONLines
)

// Response wraps an open response body. Streaming responses are consumed with
// Chunks, complete ones with ReadAll.
type Response struct {
	Streaming bool

	body    io.ReadCloser
	framing Framing
	close   sync.Once
	err     error
}

func NewResponse(body io.ReadCloser, streaming bool, framing Framing) *Response {
	return &Response{
		Streaming: streaming,
		body:      body,
		framing:   framing,
	}
}

// Chunks yields one chunk per frame. SSE streams stop at the [DONE] marker;
// both framings stop when the connection closes.
func (r *Response) Chunks() iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		switch r.framing {
		case FramingJSONLines:
			scanner := bufio.NewScanner(r.body)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := bytes.TrimSpace(scanner.Bytes())
				if len(line) == 0 {
					continue
				}
				chunk := make(Chunk, len(line))
				copy(chunk, line)
				if !yield(chunk, nil) {
					return
				}
			}
			if err := scanner.Err(); err != nil {
				yield(nil, fmt.Errorf("read stream: %w", err))
			}
		default:
			for ev, err := range sse.Read(r.body, nil) {
				if err != nil {
					yield(nil, fmt.Errorf("read stream: %w", err))
					return
				}
				if strings.TrimSpace(ev.Data) == streamDone {
					return
				}
				if !yield(Chunk(ev.Data), nil) {
					return
				}
			}
		}
	}
}

func (r *Response) ReadAll() ([]byte, error) {
	data, err := io.ReadAll(r.body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// Close releases the body. It is safe to call more than once.
func (r *Response) Close() error {
	r.close.Do(func() {
		r.err = r.body.Close()
	})
	return r.err
}

type transport struct {
	provider    string
	httpClient  *http.Client
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger
}

func newTransport(provider string, opts Options) transport {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = timeout
		client = &http.Client{Transport: tr}
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return transport{
		provider:    provider,
		httpClient:  client,
		maxAttempts: attempts,
		retryDelay:  delay,
		logger:      logger.With(zap.String("component", "llm"), zap.String("provider", provider)),
	}
}

// do sends the request produced by newReq, retrying connection failures,
// 429 and 5xx responses. The caller owns the returned body.
func (t transport) do(ctx context.Context, newReq func(context.Context) (*http.Request, error)) (*http.Response, error) {
	attempts := 0
	operation := func() (*http.Response, error) {
		attempts++
		httpReq, err := newReq(ctx)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		t.logger.Debug("sending request",
			zap.String("url", httpReq.URL.Redacted()),
			zap.Int("attempt", attempts),
		)
		httpResp, err := t.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, &NetworkError{Provider: t.provider, Err: err}
		}
		if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
			netErr := readStatusError(t.provider, httpResp)
			_ = httpResp.Body.Close()
			if !netErr.Retryable() {
				return nil, backoff.Permanent(netErr)
			}
			return nil, netErr
		}
		return httpResp, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.retryDelay
	httpResp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(t.maxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			t.logger.Warn("request failed, retrying", zap.Error(err), zap.Duration("wait", wait))
		}),
	)
	if err != nil {
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			netErr.Attempts = attempts
			return nil, netErr
		}
		return nil, err
	}
	return httpResp, nil
}
