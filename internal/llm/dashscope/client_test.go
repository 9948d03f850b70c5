package dashscope

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

func TestCompleteVisionRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"request_id":"rid-1","output":{"choices":[{"message":{"role":"assistant","content":[{"text":"{\"a\":"},{"text":"1}"}]}}]},"usage":{"input_tokens":10,"output_tokens":3}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	resp, err := c.Complete(context.Background(), llm.ChatRequest{
		Model:    "vision-m",
		Vision:   true,
		JSONMode: true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: "sys"},
			{Role: llm.RoleUser, Text: "doc", Images: []string{"data:image/png;base64,AAAA"}},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotPath != multimodalPath {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer k" {
		t.Errorf("auth = %q", gotAuth)
	}
	if resp.Content != `{"a":1}` || resp.RequestID != "rid-1" || resp.Usage.InputTokens != 10 {
		t.Errorf("resp = %+v", resp)
	}

	input := gotBody["input"].(map[string]any)
	msgs := input["messages"].([]any)
	user := msgs[1].(map[string]any)
	parts := user["content"].([]any)
	if len(parts) != 2 || parts[1].(map[string]any)["image"] == nil {
		t.Errorf("user content = %#v", parts)
	}
	params := gotBody["parameters"].(map[string]any)
	if params["response_format"] == nil {
		t.Error("json mode not requested")
	}
}

func TestCompleteTextRequestUsesStringContent(t *testing.T) {
	var gotBody map[string]any
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"request_id":"rid-2","output":{"choices":[{"message":{"role":"assistant","content":"{}"}}]}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	resp, err := c.Complete(context.Background(), llm.ChatRequest{
		Model:    "long-m",
		Messages: []llm.Message{{Role: llm.RoleUser, Text: "doc", Images: []string{"ignored"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != textPath {
		t.Errorf("path = %q", gotPath)
	}
	msg := gotBody["input"].(map[string]any)["messages"].([]any)[0].(map[string]any)
	if _, ok := msg["content"].(string); !ok {
		t.Errorf("content = %#v, want string", msg["content"])
	}
	if resp.Content != "{}" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestCompleteNon200IsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":"Throttling","message":"slow down","request_id":"rid-3"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	resp, err := c.Complete(context.Background(), llm.ChatRequest{Model: "m"})
	if !errors.Is(err, common.ErrTransport) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests || resp.RequestID != "rid-3" {
		t.Errorf("resp = %+v", resp)
	}
}
