package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/gchuyun/function-server/internal/cache"
	"github.com/gchuyun/function-server/internal/chatwire"
	"github.com/gchuyun/function-server/internal/metrics"
	"github.com/gchuyun/function-server/internal/responsereader"
	"github.com/gchuyun/function-server/internal/rewrite"
	"github.com/gchuyun/function-server/internal/toolregistry"
)

// MaxToolCallIterations bounds the number of upstream round-trips one chat
// request can drive. The tenth iteration returns whatever the upstream said
// regardless of tool-call presence.
const MaxToolCallIterations = 10

// Deps are the shared collaborators the loop needs; one Deps is built once
// at startup and reused across requests.
type Deps struct {
	Registry      *toolregistry.Registry
	InProcess     *cache.TTLCache[string, *Batch]
	HTTPClient    *http.Client
	RewriteEnabled func(model string) bool
	Now           func() time.Time
}

// ChatResult is what proxying one chat-completions request produces: an
// HTTP response to hand back to the client, plus the residual batch (if
// any) the caller must register under every client-owned id it contains.
type ChatResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Batch      *Batch
}

// ProxyChat implements the tool-call loop: rewrite, send, read tool calls,
// dispatch, and either return to the client or iterate.
func ProxyChat(ctx context.Context, deps Deps, upstreamURL string, headers http.Header, body []byte) (*ChatResult, error) {
	req, err := chatwire.ParseRequest(body)
	if err != nil {
		return &ChatResult{
			StatusCode: http.StatusBadRequest,
			Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
			Body:       []byte(err.Error()),
		}, nil
	}

	clientToolNames, err := req.ClientToolNames()
	if err != nil {
		return &ChatResult{StatusCode: http.StatusBadRequest, Body: []byte(err.Error())}, nil
	}
	serverTools := serverOwnedDescriptors(deps.Registry, clientToolNames)

	priorResults, err := chatwire.ParseToolMessagesToResults(req.Messages())
	if err != nil {
		return &ChatResult{StatusCode: http.StatusBadRequest, Body: []byte(err.Error())}, nil
	}
	replacements := MergeFromCache(deps.InProcess, priorResults)

	rewriteEnabled := deps.RewriteEnabled(req.Model())
	if err := rewrite.Apply(req, serverTools, replacements, rewrite.Options{Enabled: rewriteEnabled, Now: deps.Now}); err != nil {
		return &ChatResult{StatusCode: http.StatusBadRequest, Body: []byte(err.Error())}, nil
	}

	for i := 0; i < MaxToolCallIterations; i++ {
		reqBytes, err := req.Bytes()
		if err != nil {
			return nil, err
		}

		upstreamStart := time.Now()
		status, respHeader, respBody, err := postUpstream(ctx, deps.HTTPClient, upstreamURL, headers, reqBytes)
		if err != nil {
			metrics.UpstreamRequestDuration.WithLabelValues("error").Observe(time.Since(upstreamStart).Seconds())
			return nil, err
		}
		metrics.UpstreamRequestDuration.WithLabelValues(http.StatusText(status)).Observe(time.Since(upstreamStart).Seconds())
		if status != http.StatusOK {
			metrics.ToolLoopIterations.Observe(float64(i + 1))
			return &ChatResult{StatusCode: status, Header: respHeader, Body: respBody}, nil
		}

		contentType := respHeader.Get("Content-Type")
		result, readErr := responsereader.Read(contentType, respBody)
		if readErr != nil || len(result.ToolCalls) == 0 || i == MaxToolCallIterations-1 {
			metrics.ToolLoopIterations.Observe(float64(i + 1))
			return &ChatResult{StatusCode: status, Header: respHeader, Body: respBody}, nil
		}

		partition := Partition(ctx, deps.Registry, result.ToolCalls, clientToolNames)
		if len(partition.ClientCalls) > 0 {
			metrics.ToolLoopIterations.Observe(float64(i + 1))
			synthBody, err := SynthesizeClientResponse(contentType, respBody, partition.ClientCalls)
			if err != nil {
				return &ChatResult{StatusCode: status, Header: respHeader, Body: respBody}, nil
			}
			return &ChatResult{StatusCode: status, Header: respHeader, Body: synthBody, Batch: partition.Batch}, nil
		}

		serverResults := AwaitServerResults(partition.Batch)
		rewrite.AppendToolResults(req, serverResults)
	}

	return nil, nil
}

func serverOwnedDescriptors(registry *toolregistry.Registry, clientToolNames map[string]bool) []openai.Tool {
	var out []openai.Tool
	for _, t := range registry.ListDescriptors() {
		if t.Function != nil && clientToolNames[t.Function.Name] {
			continue
		}
		out = append(out, t)
	}
	return out
}

func postUpstream(ctx context.Context, client *http.Client, url string, headers http.Header, body []byte) (status int, respHeader http.Header, respBody []byte, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, err
	}
	httpReq.Header = headers.Clone()

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, respBody, nil
}
