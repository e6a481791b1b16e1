package proxy

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gchuyun/function-server/internal/cache"
	"github.com/gchuyun/function-server/internal/metrics"
)

var filteredRequestHeaders = map[string]bool{
	"host":           true,
	"connection":     true,
	"content-length": true,
}

var filteredResponseHeaders = map[string]bool{
	"connection":     true,
	"content-length": true,
}

// pendingChat is the shared handle multiple identical concurrent requests
// await together; only the first arrival runs ProxyChat.
type pendingChat struct {
	done   chan struct{}
	result *ChatResult
	err    error
}

// Frontend is the HTTP entry point: it classifies requests, fingerprints
// and deduplicates chat-completions calls, and otherwise forwards bytes
// through unchanged.
type Frontend struct {
	Deps        Deps
	ChatCache   *cache.TTLCache[string, *pendingChat]
	UpstreamTTL time.Duration
	Logger      *zap.Logger
}

// NewFrontend builds a Frontend whose in-flight chat requests dedup for
// chatCacheTTL.
func NewFrontend(deps Deps, chatCacheTTL time.Duration, logger *zap.Logger) *Frontend {
	return &Frontend{
		Deps:      deps,
		ChatCache: cache.New[string, *pendingChat](chatCacheTTL),
		Logger:    logger,
	}
}

// ServeHTTP implements the reverse-proxy entry point for any path.
func (f *Frontend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := url.QueryUnescape(strings.TrimPrefix(r.URL.Path, "/"))
	if err != nil {
		http.Error(w, "invalid upstream path", http.StatusBadRequest)
		return
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	headers := filterHeaders(r.Header, filteredRequestHeaders)

	if strings.EqualFold(r.Method, http.MethodPost) && hasChatCompletionsSuffix(target) {
		f.serveChatCompletions(w, r, target, headers)
		return
	}
	f.servePassthrough(w, r, target, headers)
}

func hasChatCompletionsSuffix(target string) bool {
	return strings.HasSuffix(strings.ToLower(target), "/v1/chat/completions")
}

func (f *Frontend) serveChatCompletions(w http.ResponseWriter, r *http.Request, target string, headers http.Header) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	sum := md5.Sum(body)
	fingerprint := hex.EncodeToString(sum[:])

	pending, isNew := f.getOrCreatePending(fingerprint)
	if isNew {
		metrics.ChatCacheResult.WithLabelValues("miss").Inc()
		go f.runChat(pending, target, headers, body)
	} else {
		metrics.ChatCacheResult.WithLabelValues("hit").Inc()
	}

	<-pending.done
	if pending.err != nil {
		f.logger().Error("proxy chat failed", zap.Error(pending.err), zap.String("fingerprint", fingerprint))
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		f.ChatCache.Evict(fingerprint)
		metrics.ChatCacheResult.WithLabelValues("evicted").Inc()
		return
	}

	result := pending.result
	if result.Batch != nil {
		RegisterClientOwned(f.Deps.InProcess, result.Batch)
	}
	if result.StatusCode != http.StatusOK {
		f.ChatCache.Evict(fingerprint)
		metrics.ChatCacheResult.WithLabelValues("evicted").Inc()
	}

	writeBufferedResponse(w, result.StatusCode, result.Header, result.Body)
}

func (f *Frontend) getOrCreatePending(fingerprint string) (*pendingChat, bool) {
	return f.ChatCache.GetOrInsert(fingerprint, func() *pendingChat {
		return &pendingChat{done: make(chan struct{})}
	})
}

// runChat runs detached from the originating request's context: a client
// disconnect must not cancel a computation other waiters (or a later
// identical retry) still depend on.
func (f *Frontend) runChat(pending *pendingChat, target string, headers http.Header, body []byte) {
	defer close(pending.done)
	result, err := ProxyChat(context.Background(), f.Deps, target, headers, body)
	pending.result = result
	pending.err = err
}

func (f *Frontend) servePassthrough(w http.ResponseWriter, r *http.Request, target string, headers http.Header) {
	httpReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "invalid upstream request", http.StatusBadGateway)
		return
	}
	httpReq.Header = headers

	resp, err := f.Deps.HTTPClient.Do(httpReq)
	if err != nil {
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		if filteredResponseHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func writeBufferedResponse(w http.ResponseWriter, status int, header http.Header, body []byte) {
	for k, vs := range header {
		if filteredResponseHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(body)
}

func filterHeaders(src http.Header, excluded map[string]bool) http.Header {
	out := make(http.Header, len(src))
	for k, vs := range src {
		if excluded[strings.ToLower(k)] {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func (f *Frontend) logger() *zap.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return zap.NewNop()
}
