package responsereader

import (
	"strings"
	"testing"
)

func TestReadNonStreamToolCalls(t *testing.T) {
	body := []byte(`{
		"id": "x", "object": "chat.completion", "created": 1,
		"choices": [{
			"index": 0,
			"finish_reason": "tool_calls",
			"message": {
				"role": "assistant",
				"tool_calls": [{"index": 0, "id": "call_0", "type": "function", "function": {"name": "now", "arguments": "{}"}}]
			}
		}]
	}`)

	res, err := Read("application/json", body)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Function.Name != "now" {
		t.Fatalf("ToolCalls = %+v", res.ToolCalls)
	}
}

func TestReadNonStreamMissingFinishReason(t *testing.T) {
	body := []byte(`{
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "hello"}
		}]
	}`)

	res, err := Read("application/json", body)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Content != "hello" {
		t.Fatalf("Content = %q, want hello", res.Content)
	}
}

func TestReadStreamAccumulatesContent(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")

	res, err := Read("text/event-stream", []byte(sse))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Content != "Hello" {
		t.Fatalf("Content = %q, want Hello", res.Content)
	}
}

func TestReadStreamAccumulatesToolCallsByIndex(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_","type":"function","function":{"name":"no","arguments":""}}]}}]}`,
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"name":"w","arguments":"{}"}}]}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")

	res, err := Read("text/event-stream", []byte(sse))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(res.ToolCalls))
	}
	if res.ToolCalls[0].Function.Name != "now" {
		t.Fatalf("Function.Name = %q, want now", res.ToolCalls[0].Function.Name)
	}
	if res.ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("Function.Arguments = %q, want {}", res.ToolCalls[0].Function.Arguments)
	}
}

func TestReadStreamDefaultsMissingIndex(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"id":"call_0","type":"function","function":{"name":"now","arguments":"{}"}}]}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")

	res, err := Read("text/event-stream", []byte(sse))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ID != "call_0" {
		t.Fatalf("ToolCalls = %+v", res.ToolCalls)
	}
}

func TestExtractToolCallsFromProse(t *testing.T) {
	text := `Sure: [{"index":0,"id":"call_0","function":{"arguments":{"x":1},"name":"f"},"type":"function"}]`

	calls := ExtractToolCallsFromProse(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Function.Arguments != `{"x":1}` {
		t.Fatalf("Arguments = %q, want {\"x\":1}", calls[0].Function.Arguments)
	}
}

func TestExtractToolCallsFromProseNoBrackets(t *testing.T) {
	if got := ExtractToolCallsFromProse("just text"); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}
