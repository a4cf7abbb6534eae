package filesystem

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/pathutil"
)

const writeSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path to the file to write (relative or absolute)"},
    "content": {"type": "string", "description": "Content to write to the file"}
  },
  "required": ["path", "content"],
  "additionalProperties": false
}`

// WriteParams are the arguments of the write tool.
type WriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// NewWriteTool creates the write tool. ops defaults to the local filesystem.
func NewWriteTool(resolver *pathutil.Resolver, ops WriteOperations) engine.Tool {
	if ops == nil {
		ops = NewLocalFS()
	}
	return engine.Tool{
		Name:  "write",
		Label: "write",
		Description: "Write content to a file. Creates the file if it doesn't exist, overwrites if it does. " +
			"Automatically creates parent directories.",
		SchemaJSON: writeSchema,
		Fn: func(ctx context.Context, _ string, args map[string]any) (engine.ToolResult, error) {
			params, err := engine.DecodeArgs[WriteParams](args)
			if err != nil {
				return engine.ToolResult{}, err
			}
			abs, err := resolver.Resolve(params.Path)
			if err != nil {
				return engine.ToolResult{}, err
			}

			if err := ops.MkdirAll(ctx, filepath.Dir(abs)); err != nil {
				return engine.ToolResult{}, err
			}
			// last checkpoint: once the write starts it runs to completion
			if err := engine.CheckAbort(ctx); err != nil {
				return engine.ToolResult{}, err
			}
			if err := ops.WriteFile(ctx, abs, []byte(params.Content)); err != nil {
				return engine.ToolResult{}, err
			}

			return engine.TextResult(fmt.Sprintf("Successfully wrote %d bytes to %s", len(params.Content), params.Path), nil), nil
		},
		Retryable: true,
		Metadata: engine.ToolMetadata{
			Category: "native",
			Tags:     []string{"mutating", "idempotent"},
		},
	}
}
