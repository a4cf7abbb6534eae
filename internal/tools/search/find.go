// Package search implements the find and grep tools. Both delegate the
// actual lookup to a pluggable backend and share the same output limits.
package search

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/pathutil"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/textutil"
)

// DefaultResultLimit caps find results and grep matches per file.
const DefaultResultLimit = 1000

const findSchema = `{
  "type": "object",
  "properties": {
    "pattern": {"type": "string", "description": "Glob pattern to match files, e.g. '*.txt', '*.py'"},
    "path": {"type": "string", "description": "Directory to search in (default: current directory)"},
    "limit": {"type": "integer", "minimum": 1, "description": "Maximum number of results to return (default: 1000)"}
  },
  "required": ["pattern"],
  "additionalProperties": false
}`

// FindOperations is a file lookup backend. Glob returns absolute paths;
// directories carry a trailing slash.
type FindOperations interface {
	Exists(ctx context.Context, path string) (bool, error)
	Glob(ctx context.Context, pattern, root string, limit int) ([]string, error)
}

// FindParams are the arguments of the find tool.
type FindParams struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Limit   *int   `json:"limit,omitempty"`
}

// Details is attached to find and grep results when a limit was hit.
type Details struct {
	ResultLimitReached int                         `json:"result_limit_reached,omitempty"`
	Truncation         *textutil.TruncationDetails `json:"truncation,omitempty"`
}

// NewFindTool creates the find tool over ops.
func NewFindTool(resolver *pathutil.Resolver, ops FindOperations) engine.Tool {
	return engine.Tool{
		Name:  "find",
		Label: "find",
		Description: fmt.Sprintf("Search for files by glob pattern. Returns matching file paths "+
			"relative to the search directory. Respects .gitignore. Output is truncated to %d results or "+
			"%dKB (whichever is hit first).", DefaultResultLimit, textutil.DefaultMaxBytes/1024),
		SchemaJSON: findSchema,
		Fn: func(ctx context.Context, _ string, args map[string]any) (engine.ToolResult, error) {
			params, err := engine.DecodeArgs[FindParams](args)
			if err != nil {
				return engine.ToolResult{}, err
			}
			root, err := resolveSearchRoot(ctx, resolver, ops.Exists, params.Path)
			if err != nil {
				return engine.ToolResult{}, err
			}

			limit := DefaultResultLimit
			if params.Limit != nil {
				limit = *params.Limit
			}

			matches, err := ops.Glob(ctx, params.Pattern, root, limit)
			if err != nil {
				return engine.ToolResult{}, err
			}
			if err := engine.CheckAbort(ctx); err != nil {
				return engine.ToolResult{}, err
			}
			if len(matches) == 0 {
				return engine.TextResult("No files found matching pattern", nil), nil
			}

			rel := make([]string, 0, len(matches))
			for _, m := range matches {
				rel = append(rel, relativize(root, m))
			}
			return formatResults(strings.Join(rel, "\n"), len(rel) >= limit, limit), nil
		},
		Retryable: true,
		Metadata: engine.ToolMetadata{
			Category: "native",
			Tags:     []string{"read-only", "idempotent"},
		},
	}
}

func resolveSearchRoot(ctx context.Context, resolver *pathutil.Resolver, exists func(context.Context, string) (bool, error), p string) (string, error) {
	if p == "" {
		p = "."
	}
	root, err := resolver.Resolve(p)
	if err != nil {
		return "", err
	}
	ok, err := exists(ctx, root)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", engine.NotFoundf("Path %s does not exist", root)
	}
	if err := engine.CheckAbort(ctx); err != nil {
		return "", err
	}
	return root, nil
}

// relativize strips root from p, preserving a trailing directory slash.
func relativize(root, p string) string {
	dir := strings.HasSuffix(p, "/") || strings.HasSuffix(p, `\`)
	clean := strings.TrimRight(p, `/\`)

	rel := clean
	if r, err := filepath.Rel(root, clean); err == nil && !strings.HasPrefix(r, "..") {
		rel = filepath.ToSlash(r)
	}
	if dir && !strings.HasSuffix(rel, "/") {
		rel += "/"
	}
	return rel
}

// formatResults applies the byte ceiling and appends the limit notices.
func formatResults(output string, limitReached bool, limit int) engine.ToolResult {
	tr := textutil.TruncateHead(output, int(^uint(0)>>1), textutil.DefaultMaxBytes)

	var notices []string
	var details Details
	if limitReached {
		notices = append(notices, fmt.Sprintf("%d results limit reached", limit))
		details.ResultLimitReached = limit
	}
	if tr.Truncated {
		notices = append(notices, fmt.Sprintf("%s limit reached", textutil.FormatSize(textutil.DefaultMaxBytes)))
		details.Truncation = &textutil.TruncationDetails{
			Truncated:   true,
			TruncatedBy: tr.TruncatedBy,
			TotalBytes:  tr.TotalBytes,
			OutputBytes: tr.OutputBytes,
		}
	}

	text := tr.Content
	if len(notices) == 0 {
		return engine.TextResult(text, nil)
	}
	text += "\n\n[" + strings.Join(notices, ". ") + "]"
	return engine.TextResult(text, &details)
}
