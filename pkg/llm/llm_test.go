package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuai/navigator/pkg/config"
)

func TestChatProvider(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "test-model",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "[]"}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
		}`))
	}))
	defer server.Close()

	p, err := NewChatProvider(config.ResolvedProvider{
		Name:        "deepseek",
		APIKey:      "sk-test",
		BaseURL:     server.URL + "/v1",
		Model:       "test-model",
		Temperature: 0.7,
		MaxTokens:   2000,
	}, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("failed to build provider: %v", err)
	}

	resp, err := p.Chat(context.Background(), "list tools")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if resp.Content != "[]" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Provider != "deepseek" || resp.Model != "test-model" || resp.TotalTokens != 4 {
		t.Errorf("unexpected response %+v", resp)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("unexpected model in request: %v", gotBody["model"])
	}
}

func TestNewChatProviderRequiresKey(t *testing.T) {
	if _, err := NewChatProvider(config.ResolvedProvider{Name: "kimi", BaseURL: "https://x"}, 0, nil); err == nil {
		t.Error("expected error for empty api key")
	}
}

func TestNewProvidersSkipsBroken(t *testing.T) {
	providers := NewProviders([]config.ResolvedProvider{
		{Name: "ok", APIKey: "k", BaseURL: "https://example.com/v1"},
		{Name: "broken", APIKey: "k"},
	}, 0, nil)
	if len(providers) != 1 || providers[0].Name() != "ok" {
		t.Errorf("unexpected providers: %v", providers)
	}
}
