package chatwire

import openai "github.com/meguminnnnnnnnn/go-openai"

// ToolCallResult pairs a tool call with the string result it produced.
// Invariant: ID == ToolCall.ID.
type ToolCallResult struct {
	ID       string          `json:"id"`
	Result   string          `json:"result"`
	ToolCall openai.ToolCall `json:"tool_call"`
}

// ParseToolMessagesToResults builds one ToolCallResult per tool-role
// message, matched against the tool_calls of whichever preceding assistant
// message declared that id.
func ParseToolMessagesToResults(msgs Messages) ([]ToolCallResult, error) {
	callsByID := make(map[string]openai.ToolCall)
	for _, m := range msgs {
		if !m.HasToolCalls() {
			continue
		}
		calls, err := m.ToolCalls()
		if err != nil {
			return nil, err
		}
		for _, c := range calls {
			callsByID[c.ID] = c
		}
	}

	var results []ToolCallResult
	for _, m := range msgs {
		if m.Role() != RoleTool {
			continue
		}
		id := m.ToolCallID()
		content, _ := m.Content()
		call, ok := callsByID[id]
		if !ok {
			// A tool message whose tool_call_id has no preceding assistant
			// entry. Keep the id but leave the tool_call zero-valued rather
			// than failing the whole request.
			call = openai.ToolCall{ID: id}
		}
		results = append(results, ToolCallResult{ID: id, Result: content, ToolCall: call})
	}
	return results, nil
}
