// Package rewrite implements the conversation transformations that let a
// model with no native tool-calling ability behave as if it had one.
package rewrite

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/gchuyun/function-server/internal/chatwire"
)

// Options controls whether and how the pipeline runs.
type Options struct {
	// Enabled gates the whole pipeline: true when FAKE_ALL_MODEL is set, or
	// when the pre-strip model is not listed in NO_FAKE_MODELS.
	Enabled bool
	Now     func() time.Time
}

// StripModelPrefix strips a client-encoded routing hint that lives before
// the last "|" in the model string; only the suffix is the real upstream
// model name. Idempotent: a model with no "|" is unchanged, and running it
// twice is equivalent to running it once because the result never contains
// a "|".
func StripModelPrefix(model string) string {
	if i := strings.LastIndex(model, "|"); i >= 0 {
		return model[i+1:]
	}
	return model
}

// Apply runs the full rewrite pipeline against req in place. serverTools are
// appended to whatever tools the client declared before the prompt is built,
// so the upstream (or the injected prompt) sees the union of client and
// server tools. replacements, when non-empty, are spliced in first per the
// "prepending replacement tool-call results" rule.
func Apply(req *chatwire.Request, serverTools []openai.Tool, replacements []chatwire.ToolCallResult, opts Options) error {
	clientTools, err := req.Tools()
	if err != nil {
		return err
	}
	req.SetTools(append(append([]openai.Tool{}, clientTools...), serverTools...))

	if len(replacements) > 0 {
		if err := prependReplacements(req, replacements); err != nil {
			return err
		}
	}

	if !opts.Enabled {
		return nil
	}

	req.SetModel(StripModelPrefix(req.Model()))

	if err := injectFakeToolCallingPrompt(req, opts.now()); err != nil {
		return err
	}
	collapseAssistantToolCallsToContent(req)
	mergeToolMessagesIntoUser(req)
	return nil
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// prependReplacements implements the "prepending replacement tool-call
// results" rule: truncate messages to end at the last assistant message
// that has tool_calls, overwrite that assistant's tool_calls with the
// replacements, and append one tool-role message per replacement.
//
// The tool-call loop supplies a replacement for every tool-role message in
// the request, so when no assistant message carries tool_calls this returns
// an error, which ProxyChat turns into a 400 response.
func prependReplacements(req *chatwire.Request, replacements []chatwire.ToolCallResult) error {
	msgs := req.Messages()
	idx := msgs.LastIndexWithToolCalls()
	if idx < 0 {
		return fmt.Errorf("rewrite: replacement tool-call results supplied but no assistant message with tool_calls exists")
	}

	truncated := msgs[:idx+1]
	calls := make([]openai.ToolCall, len(replacements))
	for i, r := range replacements {
		calls[i] = r.ToolCall
	}
	truncated[idx].SetToolCalls(calls)

	for _, r := range replacements {
		truncated = append(truncated, chatwire.NewToolMessage(r.ID, r.Result))
	}
	req.SetMessages(truncated)
	return nil
}

// injectFakeToolCallingPrompt inserts the fake-tool-calling system prompt
// immediately before the first non-system message and clears tools.
func injectFakeToolCallingPrompt(req *chatwire.Request, now time.Time) error {
	tools, err := req.Tools()
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		return nil
	}

	toolsJSON, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return err
	}
	promptMsg := chatwire.NewMessage(chatwire.RoleSystem, buildToolCallingPrompt(string(toolsJSON), now))

	msgs := req.Messages()
	out := make(chatwire.Messages, 0, len(msgs)+1)
	inserted := false
	for _, m := range msgs {
		if !inserted && m.Role() != chatwire.RoleSystem {
			out = append(out, promptMsg)
			inserted = true
		}
		out = append(out, m)
	}
	if !inserted {
		out = append(out, promptMsg)
	}
	req.SetMessages(out)
	req.SetTools(nil)
	return nil
}

// collapseAssistantToolCallsToContent rewrites any assistant message
// carrying tool_calls into one whose content is the JSON encoding of those
// calls, since the model on the other end can't see a tool_calls field.
func collapseAssistantToolCallsToContent(req *chatwire.Request) {
	msgs := req.Messages()
	for _, m := range msgs {
		if !m.HasToolCalls() {
			continue
		}
		calls, err := m.ToolCalls()
		if err != nil {
			continue
		}
		b, err := json.Marshal(calls)
		if err != nil {
			continue
		}
		m.SetContent(string(b))
		m.ClearToolCalls()
	}
	req.SetMessages(msgs)
}

// mergeToolMessagesIntoUser folds every tool-role message into a single
// trailing user-role message, since a model with no tool-calling support
// has no tool role to read results from.
func mergeToolMessagesIntoUser(req *chatwire.Request) {
	msgs := req.Messages()

	var ids, results []string
	kept := make(chatwire.Messages, 0, len(msgs))
	for _, m := range msgs {
		if m.Role() == chatwire.RoleTool {
			content, _ := m.Content()
			ids = append(ids, m.ToolCallID())
			results = append(results, content)
			continue
		}
		kept = append(kept, m)
	}
	if len(ids) == 0 {
		return
	}

	kept = append(kept, chatwire.NewMessage(chatwire.RoleUser, toolCallResultsBlock(ids, results)))
	req.SetMessages(kept)
}

// AppendToolResults folds a fresh batch of server tool results back into the
// conversation so the loop can send another upstream turn. When the request
// still carries tools (native tool-calling, rewriting disabled) it appends
// an assistant message with tool_calls plus one tool-role message per
// result; otherwise it appends an assistant message whose content is the
// indented JSON of the calls, followed by one merged user message holding
// the results block.
func AppendToolResults(req *chatwire.Request, results []chatwire.ToolCallResult) {
	calls := make([]openai.ToolCall, len(results))
	for i, r := range results {
		calls[i] = r.ToolCall
	}

	msgs := req.Messages()
	if req.HasTools() {
		msgs = append(msgs, chatwire.NewAssistantToolCallsMessage(calls))
		for _, r := range results {
			msgs = append(msgs, chatwire.NewToolMessage(r.ID, r.Result))
		}
		req.SetMessages(msgs)
		return
	}

	b, _ := json.MarshalIndent(calls, "", "  ")
	msgs = append(msgs, chatwire.NewMessage(chatwire.RoleAssistant, string(b)))

	ids := make([]string, len(results))
	texts := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
		texts[i] = r.Result
	}
	msgs = append(msgs, chatwire.NewMessage(chatwire.RoleUser, toolCallResultsBlock(ids, texts)))
	req.SetMessages(msgs)
}
