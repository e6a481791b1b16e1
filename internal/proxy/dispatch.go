package proxy

import (
	"context"

	"github.com/google/uuid"
	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/gchuyun/function-server/internal/cache"
	"github.com/gchuyun/function-server/internal/chatwire"
	"github.com/gchuyun/function-server/internal/toolregistry"
)

// BatchEntry is one tool call from a single upstream turn. Server-owned
// entries start with a pending future and resolve on their own; client-owned
// entries start unresolved and are only filled in once the client answers
// them in a later request.
type BatchEntry struct {
	ID          string
	ClientOwned bool
	Resolved    *chatwire.ToolCallResult
	future      <-chan chatwire.ToolCallResult
}

// Batch is the "arena" a group of tool calls from one upstream turn share.
// Every client-owned entry's id is registered in ToolCallsInProcessCache
// pointing at the same Batch, so answering any one of them gives the loop
// a path back to the others.
type Batch struct {
	ID      string
	Entries []*BatchEntry
}

// PartitionResult is the outcome of splitting one upstream turn's tool calls
// between calls the registry can run itself and calls that belong to the
// client.
type PartitionResult struct {
	Batch       *Batch
	ClientCalls []openai.ToolCall
}

// Partition submits every server-owned call to the registry's worker pool
// and records a placeholder for every client-owned call, preserving the
// original tool-call order in Batch.Entries.
func Partition(ctx context.Context, registry *toolregistry.Registry, calls []openai.ToolCall, clientToolNames map[string]bool) PartitionResult {
	batch := &Batch{ID: uuid.NewString()}
	var clientCalls []openai.ToolCall

	for _, call := range calls {
		if clientToolNames[call.Function.Name] {
			batch.Entries = append(batch.Entries, &BatchEntry{ID: call.ID, ClientOwned: true})
			clientCalls = append(clientCalls, call)
			continue
		}
		future := registry.Submit(ctx, call)
		batch.Entries = append(batch.Entries, &BatchEntry{ID: call.ID, future: future})
	}

	return PartitionResult{Batch: batch, ClientCalls: clientCalls}
}

// AwaitServerResults blocks until every server-owned entry in the batch has
// resolved and returns the results in tool-call order. Only valid when the
// batch has no client-owned entries left unresolved.
func AwaitServerResults(batch *Batch) []chatwire.ToolCallResult {
	results := make([]chatwire.ToolCallResult, 0, len(batch.Entries))
	for _, e := range batch.Entries {
		if e.Resolved == nil && e.future != nil {
			res := <-e.future
			e.Resolved = &res
		}
		if e.Resolved != nil {
			results = append(results, *e.Resolved)
		}
	}
	return results
}

// RegisterClientOwned stores batch under every one of its client-owned
// entry ids so a later request answering any of them can find its way back
// to the rest of the turn.
func RegisterClientOwned(inProcess *cache.TTLCache[string, *Batch], batch *Batch) {
	for _, e := range batch.Entries {
		if e.ClientOwned {
			inProcess.PutDefault(e.ID, batch)
		}
	}
}

// MergeFromCache implements cross-request stitching: for each tool result
// the client just supplied, pop the residual batch it was registered under
// (if any) and fill in that entry. A result with no registered batch (the
// client answered a tool_call_id the loop never synthesized) passes through
// unchanged.
//
// One upstream turn can hand the client more than one tool call from the
// same batch, and the client can answer more than one of them in a single
// follow-up request. Every one of those answers is registered under its own
// id but they all Pop the same underlying *Batch, so entries are filled in
// across the whole of prior before any batch is flushed into merged — doing
// the fill-in and the flush in one pass per r would flush a batch before a
// later r in the same call finished answering it (dropping that answer), or
// flush it again for every matching r (duplicating its already-resolved
// entries). Entries that are still unanswered client-owned placeholders
// after every r has been applied are dropped; the client hasn't answered
// them yet.
func MergeFromCache(inProcess *cache.TTLCache[string, *Batch], prior []chatwire.ToolCallResult) []chatwire.ToolCallResult {
	type item struct {
		batch       *Batch
		passthrough *chatwire.ToolCallResult
	}

	var ordered []item
	seen := make(map[*Batch]bool)

	for _, r := range prior {
		batch, ok := inProcess.Pop(r.ID)
		if !ok {
			answer := r
			ordered = append(ordered, item{passthrough: &answer})
			continue
		}

		for _, e := range batch.Entries {
			if e.ID == r.ID {
				answer := r
				e.Resolved = &answer
			}
		}

		if !seen[batch] {
			seen[batch] = true
			ordered = append(ordered, item{batch: batch})
		}
	}

	var merged []chatwire.ToolCallResult
	for _, it := range ordered {
		if it.passthrough != nil {
			merged = append(merged, *it.passthrough)
			continue
		}
		for _, e := range it.batch.Entries {
			if e.Resolved != nil {
				merged = append(merged, *e.Resolved)
				continue
			}
			if !e.ClientOwned && e.future != nil {
				res := <-e.future
				e.Resolved = &res
				merged = append(merged, res)
			}
		}
	}
	return merged
}
