package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gchuyun/function-server/internal/cache"
	"github.com/gchuyun/function-server/internal/toolregistry"
)

func newTestFrontend(upstreamURL string) (*Frontend, *int32) {
	var calls int32
	registry := toolregistry.New(1)
	deps := Deps{
		Registry:       registry,
		InProcess:      cache.New[string, *Batch](time.Minute),
		HTTPClient:     http.DefaultClient,
		RewriteEnabled: func(model string) bool { return false },
		Now:            time.Now,
	}
	_ = upstreamURL
	f := &Frontend{
		Deps:      deps,
		ChatCache: cache.New[string, *pendingChat](5 * time.Minute),
	}
	return f, &calls
}

func TestServeHTTPDeduplicatesIdenticalChatRequests(t *testing.T) {
	var upstreamCalls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamCalls, 1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer upstream.Close()

	f, _ := newTestFrontend(upstream.URL)

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	encodedTarget := strings.TrimPrefix(upstream.URL, "http://") + "/v1/chat/completions"
	path := "/http://" + encodedTarget

	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
			rec := httptest.NewRecorder()
			f.ServeHTTP(rec, req)
			results[i] = rec
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&upstreamCalls) != 1 {
		t.Fatalf("upstream called %d times, want 1", upstreamCalls)
	}
	for i, rec := range results {
		if rec.Code != http.StatusOK {
			t.Fatalf("result %d status = %d, want 200: %s", i, rec.Code, rec.Body.String())
		}
	}
	if results[0].Body.String() != results[1].Body.String() {
		t.Fatalf("responses differ: %q vs %q", results[0].Body.String(), results[1].Body.String())
	}
}

func TestServeHTTPPassthroughForwardsNonChatRequests(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	f, _ := newTestFrontend(upstream.URL)

	path := "/http://" + strings.TrimPrefix(upstream.URL, "http://") + "/v1/models"
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Upstream") != "yes" {
		t.Fatalf("missing passthrough header")
	}
	if body, _ := io.ReadAll(rec.Body); string(body) != "ok" {
		t.Fatalf("body = %q, want ok", body)
	}
}

func TestServeHTTPEvictsCacheOnUpstreamFailure(t *testing.T) {
	f, _ := newTestFrontend("http://127.0.0.1:1")

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	path := "/http://127.0.0.1:1/v1/chat/completions"

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if f.ChatCache.Len() != 0 {
		t.Fatalf("failed request left an entry in the cache")
	}
}
