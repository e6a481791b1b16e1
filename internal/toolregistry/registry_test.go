package toolregistry

import (
	"context"
	"strings"
	"testing"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

func echoTool() Tool {
	return Tool{
		Name:        "echo",
		Description: "echoes the given text",
		SchemaJSON:  `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}
}

func TestInvokeUnknownToolReturnsEmptyResult(t *testing.T) {
	r := New(2)
	got := r.Invoke(context.Background(), openai.ToolCall{
		ID:       "call_0",
		Function: openai.FunctionCall{Name: "nope", Arguments: "{}"},
	})
	if got.Result != "" {
		t.Fatalf("Result = %q, want empty string for unknown tool", got.Result)
	}
	if got.ID != "call_0" {
		t.Fatalf("ID = %q, want call_0", got.ID)
	}
}

func TestInvokeSuccess(t *testing.T) {
	r := New(2)
	r.Register(echoTool())

	got := r.Invoke(context.Background(), openai.ToolCall{
		ID:       "call_1",
		Function: openai.FunctionCall{Name: "echo", Arguments: `{"text":"hi"}`},
	})
	if got.Result != "hi" {
		t.Fatalf("Result = %q, want hi", got.Result)
	}
}

func TestInvokeErrorProducesLiteralMessage(t *testing.T) {
	r := New(2)
	r.Register(Tool{
		Name: "boom",
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errBoom
		},
	})

	got := r.Invoke(context.Background(), openai.ToolCall{
		ID:       "call_2",
		Function: openai.FunctionCall{Name: "boom", Arguments: "{}"},
	})
	if got.Result != "call [boom] error" {
		t.Fatalf("Result = %q, want literal error message", got.Result)
	}
}

func TestInvokeDoubleEncodedArguments(t *testing.T) {
	r := New(2)
	r.Register(echoTool())

	// Arguments string is itself a JSON string containing JSON.
	doubleEncoded := `"{\"text\":\"wrapped\"}"`
	got := r.Invoke(context.Background(), openai.ToolCall{
		ID:       "call_3",
		Function: openai.FunctionCall{Name: "echo", Arguments: doubleEncoded},
	})
	if got.Result != "wrapped" {
		t.Fatalf("Result = %q, want wrapped", got.Result)
	}
}

func TestCoerceResultJSONEncodesNonString(t *testing.T) {
	got := coerceResult(map[string]any{"a": 1})
	if !strings.Contains(got, `"a"`) || !strings.Contains(got, "1") {
		t.Fatalf("coerceResult(map) = %q, missing expected keys", got)
	}
}

func TestSubmitRunsOnPool(t *testing.T) {
	r := New(1)
	r.Register(echoTool())

	ch := r.Submit(context.Background(), openai.ToolCall{
		ID:       "call_4",
		Function: openai.FunctionCall{Name: "echo", Arguments: `{"text":"async"}`},
	})
	result := <-ch
	if result.Result != "async" {
		t.Fatalf("Result = %q, want async", result.Result)
	}
}

func TestDescriptorRoundTripsSchema(t *testing.T) {
	r := New(1)
	r.Register(echoTool())

	descs := r.ListDescriptors()
	if len(descs) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(descs))
	}
	if descs[0].Function.Name != "echo" {
		t.Fatalf("descriptor name = %q, want echo", descs[0].Function.Name)
	}
}

func TestInvokeAllSeparatesUnknownAndDispatchesKnownConcurrently(t *testing.T) {
	r := New(4)
	r.Register(echoTool())

	calls := []openai.ToolCall{
		{ID: "call_0", Function: openai.FunctionCall{Name: "echo", Arguments: `{"text":"a"}`}},
		{ID: "call_1", Function: openai.FunctionCall{Name: "nope", Arguments: "{}"}},
		{ID: "call_2", Function: openai.FunctionCall{Name: "echo", Arguments: `{"text":"b"}`}},
	}

	results, unknown := r.InvokeAll(context.Background(), calls)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "call_0" || results[0].Result != "a" {
		t.Errorf("results[0] = %+v, want call_0/a", results[0])
	}
	if results[1].ID != "call_2" || results[1].Result != "b" {
		t.Errorf("results[1] = %+v, want call_2/b", results[1])
	}

	if len(unknown) != 1 || unknown[0].ID != "call_1" {
		t.Fatalf("unknown = %+v, want [call_1]", unknown)
	}
}

func TestInvokeAllAllUnknownReturnsNoResults(t *testing.T) {
	r := New(2)

	calls := []openai.ToolCall{
		{ID: "call_0", Function: openai.FunctionCall{Name: "nope", Arguments: "{}"}},
	}
	results, unknown := r.InvokeAll(context.Background(), calls)

	if len(results) != 0 {
		t.Fatalf("got %d results, want 0", len(results))
	}
	if len(unknown) != 1 {
		t.Fatalf("got %d unknown, want 1", len(unknown))
	}
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}
