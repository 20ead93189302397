package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestOllamaChatSendsSchema(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"role":"assistant","content":"{\"body\":\"hi\"}"}}`))
	}))
	defer srv.Close()

	e := NewOllama(srv.URL, "llama3.1:8b")
	schema := &Schema{Type: "object", Properties: map[string]Property{"body": {Type: "string"}}, Required: []string{"body"}}
	out, err := e.Chat(context.Background(), []Message{{Role: "user", Content: "write"}}, schema)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"body":"hi"}` {
		t.Errorf("out = %q", out)
	}
	if got.Model != "llama3.1:8b" || got.Stream || got.Format == nil {
		t.Errorf("request = %+v", got)
	}
}

func TestOllamaChatClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "missing").Chat(context.Background(), nil, nil)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOllamaPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"llama3.1:8b"},{"name":"mistral:latest"}]}`))
	}))
	defer srv.Close()

	if err := NewOllama(srv.URL, "mistral").Ping(context.Background()); err != nil {
		t.Errorf("Ping(mistral) = %v", err)
	}
	if err := NewOllama(srv.URL, "phi3").Ping(context.Background()); err == nil {
		t.Error("Ping(phi3) succeeded for a model that is not pulled")
	}
}

func TestOpenRouterRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req completionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
			t.Errorf("response_format = %+v", req.ResponseFormat)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	e := NewOpenRouter("sk-test", "").WithBaseURL(srv.URL)
	out, err := e.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, &Schema{Type: "object"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "ok" || calls.Load() != 2 {
		t.Errorf("out=%q calls=%d", out, calls.Load())
	}
}

func TestOpenRouterServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOpenRouter("k", "m").WithBaseURL(srv.URL).Chat(context.Background(), nil, nil)
	if err == nil || calls.Load() != 1 {
		t.Errorf("err=%v calls=%d", err, calls.Load())
	}
}

func TestNewSelectsProvider(t *testing.T) {
	e, err := New(Config{Provider: "", Model: "m"})
	if err != nil || e.Name() != "ollama/m" {
		t.Errorf("default provider = %v, %v", e, err)
	}
	if _, err := New(Config{Provider: "openrouter"}); err == nil {
		t.Error("openrouter without key should fail")
	}
	if _, err := New(Config{Provider: "gpt-local"}); err == nil {
		t.Error("unknown provider should fail")
	}
}
