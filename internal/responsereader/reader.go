// Package responsereader parses an upstream Chat Completions HTTP response,
// streamed or not, into accumulated tool calls and text.
package responsereader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// Result is what a response boils down to: the tool calls the model asked
// for (structured or recovered from prose) and the plain text it produced.
type Result struct {
	ToolCalls []openai.ToolCall
	Content   string
}

const streamContentType = "text/event-stream"

// IsStream reports whether a Content-Type header names an SSE stream.
func IsStream(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), streamContentType)
}

// Read parses body according to contentType and returns the accumulated
// tool calls and text. For a non-stream body, a missing
// choices[0].finish_reason is defaulted to "stop" before decoding.
func Read(contentType string, body []byte) (Result, error) {
	if IsStream(contentType) {
		return readStream(bytes.NewReader(body))
	}
	return readNonStream(body)
}

func readNonStream(body []byte) (Result, error) {
	var completion openai.ChatCompletionResponse
	patched, err := patchMissingFinishReason(body)
	if err != nil {
		return Result{}, err
	}
	if err := parsePartialJSON(patched, &completion); err != nil {
		return Result{}, err
	}

	var res Result
	if len(completion.Choices) > 0 {
		res.ToolCalls = completion.Choices[0].Message.ToolCalls
		res.Content = completion.Choices[0].Message.Content
	}
	if len(res.ToolCalls) == 0 {
		res.ToolCalls = ExtractToolCallsFromProse(res.Content)
	}
	return res, nil
}

// patchMissingFinishReason sets choices[0].finish_reason to "stop" when the
// upstream omitted it, a deviation seen from some relay proxies.
func patchMissingFinishReason(body []byte) ([]byte, error) {
	var doc map[string]any
	if err := parsePartialJSON(body, &doc); err != nil {
		return nil, err
	}
	choices, _ := doc["choices"].([]any)
	if len(choices) == 0 {
		return body, nil
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return body, nil
	}
	if fr, ok := choice["finish_reason"]; !ok || fr == nil || fr == "" {
		choice["finish_reason"] = "stop"
	}
	return json.Marshal(doc)
}

// readStream consumes an SSE body line by line, patching the two known
// index omissions and accumulating content and tool-call deltas.
func readStream(r io.Reader) (Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var content strings.Builder
	var calls []openai.ToolCall

	for scanner.Scan() {
		line := scanner.Text()
		line = strings.TrimSuffix(line, "\r")
		if len(line) < 6 || line[:6] != "data: " {
			continue
		}
		data := line[6:]
		if strings.HasPrefix(data, "[DONE]") {
			break
		}

		var chunk map[string]any
		if err := parsePartialJSON([]byte(data), &chunk); err != nil {
			continue
		}
		patchChunkIndices(chunk)

		b, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		var sresp openai.ChatCompletionStreamResponse
		if err := json.Unmarshal(b, &sresp); err != nil {
			continue
		}
		if len(sresp.Choices) == 0 {
			continue
		}
		delta := sresp.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
		}
		if len(delta.ToolCalls) > 0 {
			accumulateToolCallDeltas(&calls, delta.ToolCalls)
		}
	}

	res := Result{ToolCalls: calls, Content: content.String()}
	if len(res.ToolCalls) == 0 {
		res.ToolCalls = ExtractToolCallsFromProse(res.Content)
	}
	return res, nil
}

// patchChunkIndices defaults choices[0].index and the first tool-call
// delta's index to 0, as some proxies omit them.
func patchChunkIndices(chunk map[string]any) {
	choices, _ := chunk["choices"].([]any)
	if len(choices) == 0 {
		return
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return
	}
	if _, ok := choice["index"]; !ok {
		choice["index"] = 0
	}
	delta, ok := choice["delta"].(map[string]any)
	if !ok {
		return
	}
	toolCalls, ok := delta["tool_calls"].([]any)
	if !ok || len(toolCalls) == 0 {
		return
	}
	first, ok := toolCalls[0].(map[string]any)
	if !ok {
		return
	}
	if _, ok := first["index"]; !ok {
		first["index"] = 0
	}
}

// accumulateToolCallDeltas folds streamed tool-call deltas into calls,
// keyed by index: a new index appends, an existing one concatenates id,
// function name and arguments string-wise.
func accumulateToolCallDeltas(calls *[]openai.ToolCall, deltas []openai.ToolCall) {
	for _, d := range deltas {
		idx := d.Index
		if idx == nil {
			zero := 0
			idx = &zero
		}
		i := *idx
		for len(*calls) <= i {
			*calls = append(*calls, openai.ToolCall{Type: openai.ToolTypeFunction})
		}
		existing := &(*calls)[i]
		if d.ID != "" {
			existing.ID += d.ID
		}
		if d.Function.Name != "" {
			existing.Function.Name += d.Function.Name
		}
		if d.Function.Arguments != "" {
			existing.Function.Arguments += d.Function.Arguments
		}
		if existing.Type == "" {
			existing.Type = openai.ToolTypeFunction
		}
	}
}

// ExtractToolCallsFromProse implements the fallback path: find the first
// "[" and the last "]" in text, partial-parse the slice as a list of
// tool-call-delta-shaped objects, and re-stringify each function.arguments
// (a tool expects arguments as a JSON string, not an embedded object).
// Any failure yields nil, which the loop treats as "no tool calls".
func ExtractToolCallsFromProse(text string) []openai.ToolCall {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil
	}

	var raw []map[string]any
	if err := parsePartialJSON([]byte(text[start:end+1]), &raw); err != nil {
		return nil
	}

	for _, obj := range raw {
		fn, ok := obj["function"].(map[string]any)
		if !ok {
			continue
		}
		args, ok := fn["arguments"]
		if !ok {
			continue
		}
		if _, isString := args.(string); isString {
			continue
		}
		b, err := json.Marshal(args)
		if err != nil {
			continue
		}
		fn["arguments"] = string(b)
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var calls []openai.ToolCall
	if err := json.Unmarshal(b, &calls); err != nil {
		return nil
	}
	return calls
}
