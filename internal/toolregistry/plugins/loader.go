// Package plugins discovers tool definitions on disk: one YAML manifest per
// tool under a tools directory, each naming the command line that runs it.
// A manifest's tool is invoked by executing that command with the call's
// arguments on stdin as JSON and reading its stdout as the result.
package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"
	"gopkg.in/yaml.v3"

	"github.com/gchuyun/function-server/internal/toolregistry"
)

// Manifest is the on-disk shape of one tool's manifest.yaml.
type Manifest struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Schema      map[string]any `yaml:"schema"`
	Command     []string       `yaml:"command"`
	TimeoutSec  int            `yaml:"timeout_seconds"`
	Category    string         `yaml:"category"`
	Tags        []string       `yaml:"tags"`
}

// defaultIgnorePatterns are skipped even with no .toolignore present.
var defaultIgnorePatterns = []string{".git", "*.tmp", "*.swp"}

// Loader discovers and registers manifest-defined tools from a directory
// tree, honoring a root .toolignore the way a repository honors .gitignore.
type Loader struct {
	dir           string
	ignoreMatcher gitignore.IgnoreParser
}

// NewLoader builds a Loader rooted at dir, compiling dir/.toolignore (if
// present) alongside the built-in default patterns.
func NewLoader(dir string) (*Loader, error) {
	patterns := append([]string{}, defaultIgnorePatterns...)

	lines, err := readIgnoreLines(filepath.Join(dir, ".toolignore"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("plugins: reading .toolignore: %w", err)
	}
	patterns = append(patterns, lines...)

	return &Loader{
		dir:           dir,
		ignoreMatcher: gitignore.CompileIgnoreLines(patterns...),
	}, nil
}

func readIgnoreLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Load walks the tools directory, parsing every manifest.yaml it finds into
// a toolregistry.Tool. Manifests that fail to parse are skipped and
// reported in the returned error slice rather than aborting the whole load,
// so one bad manifest doesn't take down every other plugin tool.
func (l *Loader) Load() ([]toolregistry.Tool, []error) {
	var tools []toolregistry.Tool
	var errs []error

	filepath.WalkDir(l.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(l.dir, path)
		if relErr != nil {
			return nil
		}
		if rel != "." && l.ignoreMatcher != nil && l.ignoreMatcher.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Name() != "manifest.yaml" {
			return nil
		}

		tool, err := loadManifest(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("plugins: %s: %w", path, err))
			return nil
		}
		tools = append(tools, tool)
		return nil
	})

	return tools, errs
}

func loadManifest(path string) (toolregistry.Tool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return toolregistry.Tool{}, err
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return toolregistry.Tool{}, fmt.Errorf("invalid manifest: %w", err)
	}
	if m.Name == "" {
		return toolregistry.Tool{}, fmt.Errorf("manifest missing required field %q", "name")
	}
	if len(m.Command) == 0 {
		return toolregistry.Tool{}, fmt.Errorf("manifest %q missing required field %q", m.Name, "command")
	}

	schemaJSON, err := json.Marshal(m.Schema)
	if err != nil {
		return toolregistry.Tool{}, fmt.Errorf("manifest %q: invalid schema: %w", m.Name, err)
	}

	timeout := 30 * time.Second
	if m.TimeoutSec > 0 {
		timeout = time.Duration(m.TimeoutSec) * time.Second
	}

	return toolregistry.Tool{
		Name:        m.Name,
		Description: m.Description,
		SchemaJSON:  string(schemaJSON),
		Metadata: toolregistry.Metadata{
			Category: m.Category,
			Tags:     m.Tags,
			Source:   path,
		},
		Fn: execFn(m.Command, timeout),
	}, nil
}

// execFn runs command with args JSON-encoded on stdin, returning stdout as
// the tool's result. A non-zero exit is reported as an error carrying
// stderr, the same shape the sandbox runner uses for a failed command.
func execFn(command []string, timeout time.Duration) toolregistry.Fn {
	return func(ctx context.Context, args map[string]any) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		payload, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding arguments: %w", err)
		}

		cmd := exec.CommandContext(ctx, command[0], command[1:]...)
		cmd.Stdin = bytes.NewReader(payload)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if stderr.Len() > 0 {
				return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
			}
			return nil, err
		}

		return strings.TrimSpace(stdout.String()), nil
	}
}
