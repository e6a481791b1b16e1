// Package chatwire holds the wire-level representation of an OpenAI-compatible
// Chat Completions request: a loosely typed document whose only contractual
// fields are model, messages and tools, with everything else preserved
// verbatim so extended upstreams keep working.
package chatwire

import (
	"encoding/json"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// Role mirrors the four chat roles the core cares about.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single chat message kept as a generic document so that
// fields neither the rewriter nor the response reader know about (vendor
// extensions, "name", "refusal", reasoning traces, ...) survive a rewrite
// pipeline pass unchanged.
type Message map[string]any

// NewMessage builds a plain message with a string role and content.
func NewMessage(role Role, content string) Message {
	return Message{"role": string(role), "content": content}
}

// NewToolMessage builds the tool-role message that answers one tool call.
func NewToolMessage(toolCallID, content string) Message {
	return Message{"role": string(RoleTool), "tool_call_id": toolCallID, "content": content}
}

// NewAssistantToolCallsMessage builds an assistant message that only carries
// tool calls (content left empty, per the OpenAI convention).
func NewAssistantToolCallsMessage(calls []openai.ToolCall) Message {
	return Message{"role": string(RoleAssistant), "content": nil, "tool_calls": toolCallsToAny(calls)}
}

// Role returns the message's role, or "" if absent/not a string.
func (m Message) Role() Role {
	v, _ := m["role"].(string)
	return Role(v)
}

// Content returns the message's content as a string. Non-string content
// (some upstreams allow content parts) is returned as "", false.
func (m Message) Content() (string, bool) {
	v, ok := m["content"].(string)
	return v, ok
}

// SetContent overwrites the content field with a plain string.
func (m Message) SetContent(s string) {
	m["content"] = s
}

// ToolCallID returns the tool_call_id field of a tool-role message.
func (m Message) ToolCallID() string {
	v, _ := m["tool_call_id"].(string)
	return v
}

// HasToolCalls reports whether the message carries a non-empty tool_calls array.
func (m Message) HasToolCalls() bool {
	v, ok := m["tool_calls"].([]any)
	return ok && len(v) > 0
}

// ToolCalls decodes the message's tool_calls field, if any.
func (m Message) ToolCalls() ([]openai.ToolCall, error) {
	raw, ok := m["tool_calls"]
	if !ok || raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var calls []openai.ToolCall
	if err := json.Unmarshal(b, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// SetToolCalls overwrites the tool_calls field.
func (m Message) SetToolCalls(calls []openai.ToolCall) {
	m["tool_calls"] = toolCallsToAny(calls)
}

// ClearToolCalls removes the tool_calls field entirely, as the rewrite
// pipeline does once it has folded them into plain content.
func (m Message) ClearToolCalls() {
	delete(m, "tool_calls")
}

func toolCallsToAny(calls []openai.ToolCall) []any {
	out := make([]any, 0, len(calls))
	for _, c := range calls {
		var generic any
		b, _ := json.Marshal(c)
		_ = json.Unmarshal(b, &generic)
		out = append(out, generic)
	}
	return out
}

// Messages is an ordered sequence of Message; message order is significant
// throughout the rewrite and response pipelines.
type Messages []Message

// Clone returns a shallow copy of the slice (not of the individual maps);
// callers that mutate a message in place should copy that message first.
func (ms Messages) Clone() Messages {
	out := make(Messages, len(ms))
	copy(out, ms)
	return out
}

// LastIndexWithToolCalls returns the index of the last message carrying a
// non-empty tool_calls array, or -1 if none do.
func (ms Messages) LastIndexWithToolCalls() int {
	for i := len(ms) - 1; i >= 0; i-- {
		if ms[i].HasToolCalls() {
			return i
		}
	}
	return -1
}
