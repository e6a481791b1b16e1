package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gchuyun/function-server/internal/cache"
	"github.com/gchuyun/function-server/internal/toolregistry"
)

func testDeps(t *testing.T, registry *toolregistry.Registry, rewriteEnabled bool) Deps {
	t.Helper()
	return Deps{
		Registry:       registry,
		InProcess:      cache.New[string, *Batch](time.Minute),
		HTTPClient:     http.DefaultClient,
		RewriteEnabled: func(model string) bool { return rewriteEnabled },
		Now:            func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestProxyChatReturnsDirectlyWhenNoToolCalls(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer upstream.Close()

	registry := toolregistry.New(1)
	deps := testDeps(t, registry, false)

	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	result, err := ProxyChat(context.Background(), deps, upstream.URL, http.Header{}, body)
	if err != nil {
		t.Fatalf("ProxyChat: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", result.StatusCode)
	}
	var doc map[string]any
	if err := json.Unmarshal(result.Body, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func TestProxyChatRunsServerToolThenReturnsFinalAnswer(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_0","type":"function","function":{"name":"now","arguments":"{}"}}]},"finish_reason":"tool_calls"}]}`))
			return
		}
		w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"it is 2024"},"finish_reason":"stop"}]}`))
	}))
	defer upstream.Close()

	registry := toolregistry.New(1)
	registry.Register(toolregistry.Tool{
		Name: "now",
		Fn:   func(ctx context.Context, args map[string]any) (any, error) { return "2024-01-01", nil },
	})
	deps := testDeps(t, registry, false)

	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"what time is it"}]}`)
	result, err := ProxyChat(context.Background(), deps, upstream.URL, http.Header{}, body)
	if err != nil {
		t.Fatalf("ProxyChat: %v", err)
	}
	if calls != 2 {
		t.Fatalf("upstream called %d times, want 2", calls)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", result.StatusCode)
	}
}

func TestProxyChatSynthesizesClientOwnedToolCalls(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_0","type":"function","function":{"name":"ask_user","arguments":"{}"}}]},"finish_reason":"tool_calls"}]}`))
	}))
	defer upstream.Close()

	registry := toolregistry.New(1)
	deps := testDeps(t, registry, false)

	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"tools":[{"type":"function","function":{"name":"ask_user"}}]}`)
	result, err := ProxyChat(context.Background(), deps, upstream.URL, http.Header{}, body)
	if err != nil {
		t.Fatalf("ProxyChat: %v", err)
	}
	if result.Batch == nil {
		t.Fatalf("expected a residual batch for the client-owned call")
	}

	var doc map[string]any
	if err := json.Unmarshal(result.Body, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	choice := doc["choices"].([]any)[0].(map[string]any)
	if choice["finish_reason"] != "tool_calls" {
		t.Fatalf("finish_reason = %v, want tool_calls", choice["finish_reason"])
	}
}

func TestProxyChatStopsAtMaxIterations(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_0","type":"function","function":{"name":"now","arguments":"{}"}}]},"finish_reason":"tool_calls"}]}`))
	}))
	defer upstream.Close()

	registry := toolregistry.New(1)
	registry.Register(toolregistry.Tool{
		Name: "now",
		Fn:   func(ctx context.Context, args map[string]any) (any, error) { return "2024-01-01", nil },
	})
	deps := testDeps(t, registry, false)

	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"loop forever"}]}`)
	result, err := ProxyChat(context.Background(), deps, upstream.URL, http.Header{}, body)
	if err != nil {
		t.Fatalf("ProxyChat: %v", err)
	}
	if calls != MaxToolCallIterations {
		t.Fatalf("upstream called %d times, want %d", calls, MaxToolCallIterations)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", result.StatusCode)
	}
}

func TestProxyChatPropagatesUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer upstream.Close()

	registry := toolregistry.New(1)
	deps := testDeps(t, registry, false)

	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	result, err := ProxyChat(context.Background(), deps, upstream.URL, http.Header{}, body)
	if err != nil {
		t.Fatalf("ProxyChat: %v", err)
	}
	if result.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", result.StatusCode)
	}
}

func TestProxyChatRejectsMalformedRequest(t *testing.T) {
	registry := toolregistry.New(1)
	deps := testDeps(t, registry, false)

	result, err := ProxyChat(context.Background(), deps, "http://unused", http.Header{}, []byte(`{}`))
	if err != nil {
		t.Fatalf("ProxyChat: %v", err)
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", result.StatusCode)
	}
}
