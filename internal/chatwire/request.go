package chatwire

import (
	"encoding/json"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// Request is an OpenAI Chat Completions request kept as a generic document.
// The core reads and mutates only model, messages and tools (plus the
// streaming flag, which is observed on the response, not the request);
// every other top-level field round-trips untouched.
type Request struct {
	raw map[string]any
}

// ParseRequest decodes raw request bytes and validates the minimal shape of
// a chat request: a string model and a non-empty messages array.
func ParseRequest(body []byte) (*Request, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	model, ok := raw["model"]
	if !ok {
		return nil, fmt.Errorf("chat request missing required field \"model\"")
	}
	if _, ok := model.(string); !ok {
		return nil, fmt.Errorf("chat request field \"model\" must be a string")
	}

	msgs, ok := raw["messages"]
	if !ok {
		return nil, fmt.Errorf("chat request missing required field \"messages\"")
	}
	if arr, ok := msgs.([]any); !ok || len(arr) == 0 {
		return nil, fmt.Errorf("chat request field \"messages\" must be a non-empty array")
	}

	return &Request{raw: raw}, nil
}

// Bytes re-encodes the request, including any untouched fields.
func (r *Request) Bytes() ([]byte, error) {
	return json.Marshal(r.raw)
}

// Model returns the model string as the client sent it (still possibly
// prefixed with a routing hint).
func (r *Request) Model() string {
	v, _ := r.raw["model"].(string)
	return v
}

// SetModel overwrites the model field.
func (r *Request) SetModel(model string) {
	r.raw["model"] = model
}

// Messages decodes the messages array into the Message view type.
func (r *Request) Messages() Messages {
	arr, _ := r.raw["messages"].([]any)
	out := make(Messages, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			out = append(out, Message(m))
		}
	}
	return out
}

// SetMessages overwrites the messages array.
func (r *Request) SetMessages(msgs Messages) {
	arr := make([]any, len(msgs))
	for i, m := range msgs {
		arr[i] = map[string]any(m)
	}
	r.raw["messages"] = arr
}

// Tools decodes the client-supplied tools array, if any.
func (r *Request) Tools() ([]openai.Tool, error) {
	raw, ok := r.raw["tools"]
	if !ok || raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var tools []openai.Tool
	if err := json.Unmarshal(b, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// SetTools overwrites the tools array. Passing nil clears it entirely
// (Go's encoding/json marshals a nil slice field as null, matching the
// upstream's expectation that "no tools" means a null/absent field).
func (r *Request) SetTools(tools []openai.Tool) {
	if len(tools) == 0 {
		r.raw["tools"] = nil
		return
	}
	r.raw["tools"] = tools
}

// HasTools reports whether the client declared any tools at all.
func (r *Request) HasTools() bool {
	tools, err := r.Tools()
	return err == nil && len(tools) > 0
}

// ClientToolNames returns the set of tool names the client itself declared;
// these are the client-owned tools the loop must hand back rather than
// execute itself.
func (r *Request) ClientToolNames() (map[string]bool, error) {
	tools, err := r.Tools()
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(tools))
	for _, t := range tools {
		if t.Function != nil {
			names[t.Function.Name] = true
		}
	}
	return names, nil
}
