package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/sandbox"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/pathutil"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/textutil"
)

const grepSchema = `{
  "type": "object",
  "properties": {
    "pattern": {"type": "string", "description": "Regex pattern to search for in file contents"},
    "path": {"type": "string", "description": "Directory to search in (default: current directory)"},
    "include": {"type": "string", "description": "Glob filter for files to search, e.g. '*.py'"},
    "case_insensitive": {"type": "boolean", "description": "Enable case-insensitive search"},
    "context_lines": {"type": "integer", "minimum": 0, "description": "Number of context lines before and after each match"}
  },
  "required": ["pattern"],
  "additionalProperties": false
}`

// GrepOptions narrows a grep backend call.
type GrepOptions struct {
	Include         string
	CaseInsensitive bool
	ContextLines    *int
	Limit           int
}

// GrepOperations is a content search backend. Grep returns raw
// "path:line:text" output; empty output means no matches.
type GrepOperations interface {
	Exists(ctx context.Context, path string) (bool, error)
	Grep(ctx context.Context, pattern, path string, opts GrepOptions) (string, error)
}

// GrepParams are the arguments of the grep tool.
type GrepParams struct {
	Pattern         string `json:"pattern"`
	Path            string `json:"path,omitempty"`
	Include         string `json:"include,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
	ContextLines    *int   `json:"context_lines,omitempty"`
}

// NewGrepTool creates the grep tool over ops.
func NewGrepTool(resolver *pathutil.Resolver, ops GrepOperations) engine.Tool {
	return engine.Tool{
		Name:  "grep",
		Label: "grep",
		Description: fmt.Sprintf("Search file contents by regex pattern. Returns matching lines "+
			"with file paths and line numbers. Respects .gitignore. Output is truncated to %d results or "+
			"%dKB (whichever is hit first). Lines longer than %d chars are truncated.",
			DefaultResultLimit, textutil.DefaultMaxBytes/1024, textutil.GrepMaxLineLength),
		SchemaJSON: grepSchema,
		Fn: func(ctx context.Context, _ string, args map[string]any) (engine.ToolResult, error) {
			params, err := engine.DecodeArgs[GrepParams](args)
			if err != nil {
				return engine.ToolResult{}, err
			}
			root, err := resolveSearchRoot(ctx, resolver, ops.Exists, params.Path)
			if err != nil {
				return engine.ToolResult{}, err
			}

			raw, err := ops.Grep(ctx, params.Pattern, root, GrepOptions{
				Include:         params.Include,
				CaseInsensitive: params.CaseInsensitive,
				ContextLines:    params.ContextLines,
				Limit:           DefaultResultLimit,
			})
			if err != nil {
				return engine.ToolResult{}, err
			}
			if err := engine.CheckAbort(ctx); err != nil {
				return engine.ToolResult{}, err
			}

			raw = strings.TrimSpace(raw)
			if raw == "" {
				return engine.TextResult("No matches found", nil), nil
			}

			lines := strings.Split(raw, "\n")
			for i, line := range lines {
				if line == "" {
					continue
				}
				if rest, ok := strings.CutPrefix(line, root+"/"); ok {
					line = rest
				}
				lines[i], _ = textutil.TruncateLine(line, textutil.GrepMaxLineLength)
			}
			return formatResults(strings.Join(lines, "\n"), len(lines) >= DefaultResultLimit, DefaultResultLimit), nil
		},
		Retryable: true,
		Metadata: engine.ToolMetadata{
			Category: "native",
			Tags:     []string{"read-only", "idempotent"},
		},
	}
}

// RgGrep runs ripgrep through a sandbox runner.
type RgGrep struct {
	runner  sandbox.Runner
	dir     string
	timeout time.Duration
}

// NewRgGrep returns an rg backend that runs commands from dir.
func NewRgGrep(runner sandbox.Runner, dir string, timeout time.Duration) *RgGrep {
	if timeout <= 0 {
		timeout = sandbox.DefaultCmdTimeout
	}
	return &RgGrep{runner: runner, dir: dir, timeout: timeout}
}

func (g *RgGrep) Exists(_ context.Context, p string) (bool, error) {
	return pathExists(p)
}

func (g *RgGrep) Grep(ctx context.Context, pattern, p string, opts GrepOptions) (string, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultResultLimit
	}
	args := []string{"--color=never", "--line-number", "--with-filename", "--hidden", "--max-count", strconv.Itoa(limit)}
	if opts.Include != "" {
		args = append(args, "--glob", opts.Include)
	}
	if opts.CaseInsensitive {
		args = append(args, "-i")
	}
	if opts.ContextLines != nil {
		args = append(args, "-C", strconv.Itoa(*opts.ContextLines))
	}
	args = append(args, "--regexp", pattern, "--", p)

	res, err := g.runner.RunCmd(ctx, g.dir, "rg", args, g.timeout)
	if err != nil {
		if errors.Is(err, sandbox.ErrTimedOut) {
			return "", fmt.Errorf("rg command timed out after %d seconds", int(g.timeout.Seconds()))
		}
		if abortErr := engine.CheckAbort(ctx); abortErr != nil {
			return "", abortErr
		}
		return "", fmt.Errorf("Failed to run rg: %w", err)
	}

	switch res.Code {
	case 0:
		return res.Stdout, nil
	case 1:
		return "", nil
	default:
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("rg exited with code %d", res.Code)
		}
		return "", errors.New(msg)
	}
}
