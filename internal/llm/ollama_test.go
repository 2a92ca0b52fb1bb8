package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ollama/ollama/api"
)

func TestOllamaSendStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req api.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llama3.2" || req.Stream == nil || !*req.Stream {
			t.Errorf("unexpected request: %+v", req)
		}
		flusher, _ := w.(http.Flusher)
		lines := []string{
			`{"model":"llama3.2","message":{"role":"assistant","content":"he"},"done":false}`,
			`{"error":"transient"}`,
			`{"model":"llama3.2","message":{"role":"assistant","content":"llo"},"done":false}`,
			`{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		}
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	client, err := NewOllamaClient(Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Send(context.Background(), Request{
		Model:    "llama3.2",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer resp.Close()

	var streamed strings.Builder
	recognized := 0
	for chunk, err := range resp.Chunks() {
		if err != nil {
			t.Fatalf("chunks: %v", err)
		}
		if delta, ok := (OllamaExtractor{}).ExtractDelta(chunk); ok {
			recognized++
			streamed.WriteString(delta.Text)
		}
	}
	if streamed.String() != "hello" {
		t.Fatalf("unexpected stream content: %s", streamed.String())
	}
	if recognized != 3 {
		t.Fatalf("unexpected recognized chunk count: %d", recognized)
	}
}

func TestNewOllamaClientAddsScheme(t *testing.T) {
	client, err := NewOllamaClient(Options{BaseURL: "127.0.0.1:11434"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.endpoint != "http://127.0.0.1:11434/api/chat" {
		t.Fatalf("unexpected endpoint: %s", client.endpoint)
	}
}
