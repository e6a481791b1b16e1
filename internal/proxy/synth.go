package proxy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/gchuyun/function-server/internal/responsereader"
)

// SynthesizeClientResponse rewrites an upstream response that carried tool
// calls into one exposing only the client-owned subset, with
// finish_reason forced to "tool_calls" and the assistant content cleared.
// It never looks at server-owned calls: those already ran locally and the
// client is not meant to see them.
func SynthesizeClientResponse(contentType string, body []byte, clientCalls []openai.ToolCall) ([]byte, error) {
	if responsereader.IsStream(contentType) {
		return synthesizeStream(body, clientCalls)
	}
	return synthesizeNonStream(body, clientCalls)
}

func synthesizeNonStream(body []byte, clientCalls []openai.ToolCall) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	choices, _ := doc["choices"].([]any)
	if len(choices) == 0 {
		return nil, fmt.Errorf("synth: response has no choices")
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("synth: choices[0] is not an object")
	}
	if fr, ok := choice["finish_reason"]; !ok || fr == nil || fr == "" {
		choice["finish_reason"] = "stop"
	}
	choice["finish_reason"] = "tool_calls"

	message, _ := choice["message"].(map[string]any)
	if message == nil {
		message = map[string]any{"role": "assistant"}
		choice["message"] = message
	}
	message["content"] = ""
	message["tool_calls"] = clientCalls

	return json.Marshal(doc)
}

// synthesizeStream consumes only the first valid data: chunk of an SSE body
// and emits exactly two events: the patched chunk, then [DONE].
func synthesizeStream(body []byte, clientCalls []openai.ToolCall) ([]byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if len(line) < 6 || line[:6] != "data: " {
			continue
		}
		data := line[6:]
		if strings.HasPrefix(data, "[DONE]") {
			break
		}

		var chunk map[string]any
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		choices, _ := chunk["choices"].([]any)
		if len(choices) == 0 {
			continue
		}
		choice, ok := choices[0].(map[string]any)
		if !ok {
			continue
		}
		if _, ok := choice["index"]; !ok {
			choice["index"] = 0
		}
		choice["finish_reason"] = "tool_calls"

		delta, _ := choice["delta"].(map[string]any)
		if delta == nil {
			delta = map[string]any{}
			choice["delta"] = delta
		}
		delta["role"] = "assistant"
		delta["content"] = ""
		delta["tool_calls"] = clientCalls

		patched, err := json.Marshal(chunk)
		if err != nil {
			return nil, err
		}
		var out bytes.Buffer
		fmt.Fprintf(&out, "data: %s\n\ndata: [DONE]", patched)
		return out.Bytes(), nil
	}

	return nil, fmt.Errorf("synth: no valid data chunk found in stream")
}
