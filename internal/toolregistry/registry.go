// Package toolregistry holds the set of locally callable tools and their
// JSON-Schema descriptors, and dispatches invocations on a bounded worker
// pool.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/gchuyun/function-server/internal/chatwire"
	"github.com/gchuyun/function-server/internal/metrics"
)

// Fn is the shape every registered tool implements. Arguments are already
// decoded from the call's JSON-encoded arguments string; the return value is
// coerced by Invoke before it becomes a ToolCallResult.
type Fn func(ctx context.Context, args map[string]any) (any, error)

// Metadata carries descriptive, non-functional information about a tool.
// Nothing in the loop inspects it; it exists for tool listings and logs.
type Metadata struct {
	Version     string
	Category    string
	Tags        []string
	Source      string // "builtin" or the plugin manifest path it was loaded from
}

// Tool is one locally callable function.
type Tool struct {
	Name        string
	Description string
	SchemaJSON  string
	Fn          Fn
	Retryable   bool
	Metadata    Metadata
}

// ValidateArgs checks args against the tool's JSON schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed for tool %q: %w", t.Name, err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ValidationError{ToolName: t.Name, Errors: msgs}
	}
	return nil
}

// ValidationError reports that arguments failed schema validation.
type ValidationError struct {
	ToolName string
	Errors   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %q: invalid arguments: %v", e.ToolName, e.Errors)
}

// Descriptor renders a Tool as the ToolDescriptor shape the upstream (or the
// injected fake-tool-calling prompt) expects.
func (t Tool) Descriptor() (openai.Tool, error) {
	var params any
	if t.SchemaJSON != "" {
		if err := json.Unmarshal([]byte(t.SchemaJSON), &params); err != nil {
			return openai.Tool{}, fmt.Errorf("tool %q: invalid schema JSON: %w", t.Name, err)
		}
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		},
	}, nil
}

// Registry is the set of tools keyed by name.
type Registry struct {
	tools map[string]Tool
	pool  chan struct{} // bounded worker pool; each slot is one concurrent invoke
}

// New creates an empty Registry with the given worker pool size.
func New(workers int) *Registry {
	if workers <= 0 {
		workers = 5
	}
	return &Registry{
		tools: make(map[string]Tool),
		pool:  make(chan struct{}, workers),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name] = t
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ListDescriptors returns the ToolDescriptor for every registered tool,
// silently skipping any whose schema fails to parse.
func (r *Registry) ListDescriptors() []openai.Tool {
	out := make([]openai.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		d, err := t.Descriptor()
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Invoke runs one tool call synchronously and never returns an error: every
// failure mode becomes part of the ToolCallResult instead, per the registry
// contract (unknown tool -> empty result, invocation error -> a literal
// error string).
func (r *Registry) Invoke(ctx context.Context, call openai.ToolCall) chatwire.ToolCallResult {
	result := chatwire.ToolCallResult{ID: call.ID, ToolCall: call}

	tool, ok := r.tools[call.Function.Name]
	if !ok {
		metrics.ToolCallsTotal.WithLabelValues(call.Function.Name, "unknown").Inc()
		result.Result = ""
		return result
	}

	args, err := parseArguments(call.Function.Arguments)
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(tool.Name, "error").Inc()
		result.Result = fmt.Sprintf("call [%s] error", call.Function.Name)
		return result
	}

	start := time.Now()
	out, err := tool.Fn(ctx, args)
	metrics.ToolCallDuration.WithLabelValues(tool.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(tool.Name, "error").Inc()
		result.Result = fmt.Sprintf("call [%s] error", call.Function.Name)
		return result
	}

	metrics.ToolCallsTotal.WithLabelValues(tool.Name, "ok").Inc()
	result.Result = coerceResult(out)
	return result
}

// Submit runs Invoke on the bounded worker pool and returns a channel that
// receives exactly one result.
func (r *Registry) Submit(ctx context.Context, call openai.ToolCall) <-chan chatwire.ToolCallResult {
	out := make(chan chatwire.ToolCallResult, 1)
	go func() {
		r.pool <- struct{}{}
		defer func() { <-r.pool }()
		out <- r.Invoke(ctx, call)
	}()
	return out
}

// InvokeAll dispatches every known call in calls concurrently on the worker
// pool and reports every call whose function name has no registered tool
// separately, matching POST /toolcalls's {results, unknown_tool_calls}
// contract. Results preserve the original ordering of the known calls.
func (r *Registry) InvokeAll(ctx context.Context, calls []openai.ToolCall) (results []chatwire.ToolCallResult, unknown []openai.ToolCall) {
	type future struct {
		ch <-chan chatwire.ToolCallResult
	}
	var futures []future

	for _, call := range calls {
		if _, ok := r.tools[call.Function.Name]; !ok {
			unknown = append(unknown, call)
			continue
		}
		futures = append(futures, future{ch: r.Submit(ctx, call)})
	}

	results = make([]chatwire.ToolCallResult, 0, len(futures))
	for _, f := range futures {
		results = append(results, <-f.ch)
	}
	return results, unknown
}

// parseArguments decodes a tool call's JSON-encoded arguments string into a
// map. Some upstreams double-encode arguments as a JSON string containing
// JSON; one extra unwrap is tolerated before giving up.
func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	var inner string
	if err := json.Unmarshal([]byte(raw), &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &args); err == nil {
			return args, nil
		}
	}

	return nil, fmt.Errorf("arguments are not a JSON object: %q", raw)
}

// coerceResult normalizes a tool's return value into the string a
// ToolCallResult carries: bytes decode as UTF-8, strings pass through
// unchanged, everything else is indented JSON.
func coerceResult(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		b, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
