package proxy

import (
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

func TestSynthesizeNonStreamSetsToolCallsAndFinishReason(t *testing.T) {
	body := []byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":null}]}`)
	clientCalls := []openai.ToolCall{
		{ID: "call_0", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "ask_user", Arguments: "{}"}},
	}

	out, err := SynthesizeClientResponse("application/json", body, clientCalls)
	if err != nil {
		t.Fatalf("SynthesizeClientResponse: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	choice := doc["choices"].([]any)[0].(map[string]any)
	if choice["finish_reason"] != "tool_calls" {
		t.Fatalf("finish_reason = %v, want tool_calls", choice["finish_reason"])
	}
	message := choice["message"].(map[string]any)
	if message["content"] != "" {
		t.Fatalf("content = %v, want empty", message["content"])
	}
	calls := message["tool_calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("got %d tool_calls, want 1", len(calls))
	}
}

func TestSynthesizeNonStreamNoChoicesErrors(t *testing.T) {
	body := []byte(`{"id":"x","choices":[]}`)
	if _, err := SynthesizeClientResponse("application/json", body, nil); err == nil {
		t.Fatalf("expected an error for empty choices")
	}
}

func TestSynthesizeStreamEmitsPatchedChunkThenDone(t *testing.T) {
	body := []byte("data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: {\"id\":\"x\",\"choices\":[{\"delta\":{}}]}\n\ndata: [DONE]\n\n")
	clientCalls := []openai.ToolCall{
		{ID: "call_0", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "ask_user", Arguments: "{}"}},
	}

	out, err := SynthesizeClientResponse("text/event-stream", body, clientCalls)
	if err != nil {
		t.Fatalf("SynthesizeClientResponse: %v", err)
	}

	text := string(out)
	if !strings.HasSuffix(text, "data: [DONE]") {
		t.Fatalf("output does not end with [DONE]: %q", text)
	}
	if strings.Count(text, "data: ") != 2 {
		t.Fatalf("expected exactly two data events, got %q", text)
	}
	if !strings.Contains(text, `"finish_reason":"tool_calls"`) {
		t.Fatalf("patched chunk missing finish_reason: %q", text)
	}
}

func TestSynthesizeStreamNoValidChunkErrors(t *testing.T) {
	body := []byte("data: [DONE]\n\n")
	if _, err := SynthesizeClientResponse("text/event-stream", body, nil); err == nil {
		t.Fatalf("expected an error when no valid data chunk precedes [DONE]")
	}
}
