// Package builtin holds the server's always-available tools: small,
// dependency-light functions registered at startup alongside whatever the
// plugin loader discovers on disk.
package builtin

import (
	"context"
	"time"

	"github.com/gchuyun/function-server/internal/toolregistry"
)

const nowSchema = `{
  "type": "object",
  "properties": {},
  "additionalProperties": false
}`

// Now returns the current-time tool: a fixed-format timestamp, the same
// shape the fake-tool-calling prompt's current-time line uses.
func Now(clock func() time.Time) toolregistry.Tool {
	if clock == nil {
		clock = time.Now
	}
	return toolregistry.Tool{
		Name:        "now",
		Description: "Returns the current date and time.",
		SchemaJSON:  nowSchema,
		Metadata:    toolregistry.Metadata{Category: "utility", Source: "builtin"},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return clock().Format("Monday 2006-01-02 15:04:05"), nil
		},
	}
}
