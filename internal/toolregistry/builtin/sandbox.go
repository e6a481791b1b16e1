package builtin

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gchuyun/function-server/internal/sandbox"
	"github.com/gchuyun/function-server/internal/toolregistry"
)

const runInSandboxSchema = `{
  "type": "object",
  "properties": {
    "command": {
      "type": "string",
      "description": "The executable to run, e.g. \"python3\"."
    },
    "args": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Arguments to pass to the command."
    },
    "timeout_seconds": {
      "type": "integer",
      "description": "Optional timeout override in seconds."
    }
  },
  "required": ["command"]
}`

// RunInSandbox returns the run_in_sandbox tool: it runs a command inside an
// isolated, network-disabled Docker container (falling back to an
// unsandboxed host runner when Docker is unavailable), scoped to a scratch
// directory created fresh for each invocation.
func RunInSandbox() toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "run_in_sandbox",
		Description: "Runs a shell command in an isolated, network-disabled sandbox and returns its stdout, stderr and exit code.",
		SchemaJSON:  runInSandboxSchema,
		Metadata:    toolregistry.Metadata{Category: "execution", Source: "builtin"},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			command, _ := args["command"].(string)
			if command == "" {
				return nil, fmt.Errorf("run_in_sandbox: missing required argument %q", "command")
			}

			var cmdArgs []string
			if raw, ok := args["args"].([]any); ok {
				for _, a := range raw {
					if s, ok := a.(string); ok {
						cmdArgs = append(cmdArgs, s)
					}
				}
			}

			timeout := time.Duration(0)
			if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
				timeout = time.Duration(secs) * time.Second
			}

			workdir, err := os.MkdirTemp("", "tool-sandbox-*")
			if err != nil {
				return nil, fmt.Errorf("run_in_sandbox: %w", err)
			}
			defer os.RemoveAll(workdir)

			result, err := sandbox.RunCmd(ctx, workdir, command, cmdArgs, timeout)
			if err != nil && result.Stdout == "" && result.Stderr == "" {
				return nil, err
			}

			return map[string]any{
				"stdout":    result.Stdout,
				"stderr":    result.Stderr,
				"exit_code": result.Code,
				"timed_out": result.TimedOut,
			}, nil
		},
	}
}
