package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-doerr/perplexity_search/internal/llm"
	"github.com/tom-doerr/perplexity_search/internal/version"
)

type scriptedReader struct {
	lines   []string
	history []string
	closed  bool
}

func (r *scriptedReader) Prompt(string) (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) AppendHistory(line string) {
	r.history = append(r.history, line)
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

type recordingRunner struct {
	name string
	args []string
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.name = name
	r.args = args
	return nil, nil
}

type harness struct {
	reader *scriptedReader
	runner *recordingRunner
	stdin  string
}

// isolate points every setting the command reads at test-controlled values.
func isolate(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		"OPENROUTER_API_KEY", "OLLAMA_HOST", "OR_APP_NAME",
		"PLEXSEARCH_MODEL", "PLEXSEARCH_STREAM", "PLEXSEARCH_CITATIONS",
		"PLEXSEARCH_RESULT_TYPE", "PLEXSEARCH_MARKDOWN_FILE", "PLEXSEARCH_UPDATE_URL",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("PERPLEXITY_API_KEY", "pplx-test")
	t.Setenv("PLEXSEARCH_BASE_URL", baseURL)
}

func (h harness) run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	if h.reader == nil {
		h.reader = &scriptedReader{}
	}
	a := &app{
		v:             viper.New(),
		newLineReader: func() (LineReader, error) { return h.reader, nil },
	}
	if h.runner != nil {
		a.updateRunner = h.runner
	}
	cmd := newRootCmd(a)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(h.stdin))
	cmd.SetArgs(args)
	code := execute(cmd, &stderr)
	return stdout.String(), stderr.String(), code
}

func streamFrame(content string, citations ...string) string {
	payload := map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{"content": content}}},
	}
	if len(citations) > 0 {
		payload["citations"] = citations
	}
	data, _ := json.Marshal(payload)
	return "data: " + string(data) + "\n\n"
}

type recordedRequest struct {
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatServer answers each request with the next script entry and records
// what was sent.
func chatServer(t *testing.T, script ...string) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []recordedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req recordedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		n := len(requests)
		requests = append(requests, req)
		mu.Unlock()

		body := script[len(script)-1]
		if n < len(script) {
			body = script[n]
		}
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func TestSearchStreamsAnswerWithCitations(t *testing.T) {
	server, requests := chatServer(t,
		streamFrame("4")+streamFrame("")+streamFrame(" (four)", "https://example.com/math")+"data: [DONE]\n\n",
	)
	isolate(t, server.URL)

	stdout, stderr, code := harness{}.run(t, "--no-update-check", "What", "is", "2+2?")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "4 (four)\n")
	assert.Contains(t, stdout, "References:\n[1] https://example.com/math")

	sent := requests()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Stream)
	require.Len(t, sent[0].Messages, 2)
	assert.Equal(t, llm.RoleSystem, sent[0].Messages[0].Role)
	assert.Equal(t, "What is 2+2?", sent[0].Messages[1].Content)
}

func TestSearchNoStreamRendersOnce(t *testing.T) {
	server, requests := chatServer(t,
		`{"choices":[{"message":{"role":"assistant","content":"Paris is the capital of France."}}],"citations":["https://example.com/paris"]}`,
	)
	isolate(t, server.URL)

	stdout, stderr, code := harness{}.run(t, "--no-update-check", "--no-stream", "capital of France")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Paris is the capital of France.")
	assert.Contains(t, stdout, "[1] https://example.com/paris")

	sent := requests()
	require.Len(t, sent, 1)
	assert.False(t, sent[0].Stream)
}

func TestSearchNoCitationsHidesReferences(t *testing.T) {
	server, requests := chatServer(t, streamFrame("answer", "https://example.com")+"data: [DONE]\n\n")
	isolate(t, server.URL)

	stdout, stderr, code := harness{}.run(t, "--no-update-check", "--no-citations", "question")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "answer")
	assert.NotContains(t, stdout, "References:")
	assert.NotContains(t, requests()[0].Messages[0].Content, "numbered citations")
}

func TestSearchReadsQueryFromStdin(t *testing.T) {
	server, requests := chatServer(t, streamFrame("ok")+"data: [DONE]\n\n")
	isolate(t, server.URL)

	_, stderr, code := harness{stdin: "piped question\n"}.run(t, "--no-update-check", "-F", "-")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "piped question", requests()[0].Messages[1].Content)
}

func TestSearchResultTypeWrapsQuery(t *testing.T) {
	server, requests := chatServer(t, streamFrame("ok")+"data: [DONE]\n\n")
	isolate(t, server.URL)

	_, stderr, code := harness{}.run(t, "--no-update-check", "--result-type", "code", "goroutine leak")
	require.Equal(t, 0, code, stderr)
	content := requests()[0].Messages[1].Content
	assert.Contains(t, content, "goroutine leak")
	assert.Contains(t, content, "Result Type: code")
}

func TestSearchMissingKeyFails(t *testing.T) {
	isolate(t, "http://127.0.0.1:1")
	t.Setenv("PERPLEXITY_API_KEY", "")

	_, stderr, code := harness{}.run(t, "--no-update-check", "question")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "API key must be provided either directly or via PERPLEXITY_API_KEY environment variable")
}

func TestSearchInvalidModelFails(t *testing.T) {
	isolate(t, "http://127.0.0.1:1")

	_, stderr, code := harness{}.run(t, "--no-update-check", "--model", "sonar-ultra", "question")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Invalid model: sonar-ultra")
}

func TestSearchAuthenticationErrorExitsNonZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	t.Cleanup(server.Close)
	isolate(t, server.URL)

	_, stderr, code := harness{}.run(t, "--no-update-check", "question")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Authentication failed")
}

func TestSearchWritesTranscript(t *testing.T) {
	server, _ := chatServer(t, streamFrame("4")+"data: [DONE]\n\n")
	isolate(t, server.URL)
	path := filepath.Join(t.TempDir(), "chat.md")

	_, stderr, code := harness{}.run(t, "--no-update-check", "--markdown-file", path, "What is 2+2?")
	require.Equal(t, 0, code, stderr)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## User\n\nWhat is 2+2?")
	assert.Contains(t, string(data), "## Assistant\n\n4")
}

func TestInteractiveKeepsHistory(t *testing.T) {
	server, requests := chatServer(t,
		streamFrame("Go is a language.")+"data: [DONE]\n\n",
		streamFrame("Rust is too.")+"data: [DONE]\n\n",
	)
	isolate(t, server.URL)
	reader := &scriptedReader{lines: []string{"What is Go?", "   ", "And Rust?", "exit", "never sent"}}

	stdout, stderr, code := harness{reader: reader}.run(t, "--no-update-check")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Go is a language.")
	assert.Contains(t, stdout, "Rust is too.")
	assert.True(t, reader.closed)
	assert.Equal(t, []string{"What is Go?", "And Rust?"}, reader.history)

	sent := requests()
	require.Len(t, sent, 2)
	require.Len(t, sent[1].Messages, 4)
	assert.Equal(t, "Go is a language.", sent[1].Messages[2].Content)
	assert.Equal(t, "And Rust?", sent[1].Messages[3].Content)
}

func TestInteractiveContinuesAfterEmptyStream(t *testing.T) {
	server, requests := chatServer(t,
		"data: [DONE]\n\n",
		streamFrame("second try")+"data: [DONE]\n\n",
	)
	isolate(t, server.URL)
	reader := &scriptedReader{lines: []string{"first", "again"}}

	stdout, stderr, code := harness{reader: reader}.run(t, "--no-update-check")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "stream ended without any delta")
	assert.Contains(t, stdout, "second try")

	// The failed turn was rolled back, so the retry carries no history.
	sent := requests()
	require.Len(t, sent, 2)
	require.Len(t, sent[1].Messages, 2)
	assert.Equal(t, "again", sent[1].Messages[1].Content)
}

func TestInteractiveWithInitialQuery(t *testing.T) {
	server, requests := chatServer(t, streamFrame("hi")+"data: [DONE]\n\n")
	isolate(t, server.URL)
	reader := &scriptedReader{lines: []string{"quit"}}

	_, stderr, code := harness{reader: reader}.run(t, "--no-update-check", "-i", "hello")
	require.Equal(t, 0, code, stderr)
	sent := requests()
	require.Len(t, sent, 1)
	assert.Equal(t, "hello", sent[0].Messages[1].Content)
}

func TestUpdateNoticeShownOncePerInterval(t *testing.T) {
	chat, _ := chatServer(t, streamFrame("ok")+"data: [DONE]\n\n")
	releases := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v99.0.0"}`))
	}))
	t.Cleanup(releases.Close)
	isolate(t, chat.URL)
	t.Setenv("PLEXSEARCH_UPDATE_URL", releases.URL)

	_, stderr, code := harness{}.run(t, "question")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "A new version of plexsearch is available: v99.0.0")

	_, stderr, code = harness{}.run(t, "question")
	require.Equal(t, 0, code, stderr)
	assert.NotContains(t, stderr, "A new version")
}

func TestUpdateCommandRunsGoInstall(t *testing.T) {
	isolate(t, "http://127.0.0.1:1")
	t.Setenv("PERPLEXITY_API_KEY", "")
	runner := &recordingRunner{}

	stdout, stderr, code := harness{runner: runner}.run(t, "update")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "go", runner.name)
	assert.Equal(t, []string{"install", version.Module + "/cmd/plexsearch@latest"}, runner.args)
	assert.Contains(t, stdout, "up to date")
}

func TestVersionCommand(t *testing.T) {
	isolate(t, "http://127.0.0.1:1")

	stdout, _, code := harness{}.run(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "plexsearch "+version.Version+"\n", stdout)
}

func TestInteractiveEndsOnNetworkError(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	isolate(t, server.URL)
	t.Setenv("PLEXSEARCH_RETRY_DELAY", "1ms")
	t.Setenv("PLEXSEARCH_MAX_ATTEMPTS", "2")
	transcript := filepath.Join(t.TempDir(), "chat.md")
	reader := &scriptedReader{lines: []string{"first", "never asked"}}

	_, stderr, code := harness{reader: reader}.run(t, "--no-update-check", "--markdown-file", transcript)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "after 2 attempts")
	assert.Equal(t, []string{"never asked"}, reader.lines)
	assert.True(t, reader.closed)

	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()
	// The failed turn was rolled back before anything was persisted.
	_, err := os.Stat(transcript)
	assert.True(t, os.IsNotExist(err))
}

func TestInteractiveContinuesAfterBadRequest(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"request too large"}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(streamFrame("short answer") + "data: [DONE]\n\n"))
	}))
	t.Cleanup(server.Close)
	isolate(t, server.URL)
	reader := &scriptedReader{lines: []string{"huge question", "small question"}}

	stdout, stderr, code := harness{reader: reader}.run(t, "--no-update-check")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "request too large")
	assert.Contains(t, stdout, "short answer")
	assert.Empty(t, reader.lines)
}

func TestInteractiveEndsOnAuthenticationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)
	isolate(t, server.URL)
	reader := &scriptedReader{lines: []string{"first", "never asked"}}

	_, stderr, code := harness{reader: reader}.run(t, "--no-update-check")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Authentication failed")
	assert.Equal(t, []string{"never asked"}, reader.lines)
}

func TestDuckDuckGoIgnoresResultTypeTemplate(t *testing.T) {
	var (
		mu    sync.Mutex
		query string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		query = r.URL.Query().Get("q")
		mu.Unlock()
		_, _ = w.Write([]byte(`{"Heading":"Go","AbstractText":"Go is a programming language.","AbstractURL":"https://go.dev"}`))
	}))
	t.Cleanup(server.Close)
	isolate(t, server.URL)

	stdout, stderr, code := harness{}.run(t, "--no-update-check", "--model", "duckduckgo", "--result-type", "docs", "golang")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Go is a programming language.")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "golang", query)
}
