package filesystem

import (
	"context"
	"fmt"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/pathutil"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/textutil"
)

const editSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path to the file to edit (relative or absolute)"},
    "old_text": {"type": "string", "description": "Exact text to find and replace (must match exactly)"},
    "new_text": {"type": "string", "description": "New text to replace the old text with"}
  },
  "required": ["path", "old_text", "new_text"],
  "additionalProperties": false
}`

// EditParams are the arguments of the edit tool.
type EditParams struct {
	Path    string `json:"path"`
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
}

// EditDetails lets callers render the change and jump to it.
type EditDetails struct {
	Diff             string `json:"diff"`
	FirstChangedLine int    `json:"first_changed_line,omitempty"`
}

// NewEditTool creates the edit tool. ops defaults to the local filesystem.
func NewEditTool(resolver *pathutil.Resolver, ops EditOperations) engine.Tool {
	if ops == nil {
		ops = NewLocalFS()
	}
	return engine.Tool{
		Name:  "edit",
		Label: "edit",
		Description: "Edit a file by replacing exact text. The oldText must match exactly (including whitespace). " +
			"Use this for precise, surgical edits.",
		SchemaJSON: editSchema,
		Fn: func(ctx context.Context, _ string, args map[string]any) (engine.ToolResult, error) {
			params, err := engine.DecodeArgs[EditParams](args)
			if err != nil {
				return engine.ToolResult{}, err
			}
			abs, err := resolver.Resolve(params.Path)
			if err != nil {
				return engine.ToolResult{}, err
			}

			if err := ops.AccessWritable(ctx, abs); err != nil {
				return engine.ToolResult{}, err
			}
			if err := engine.CheckAbort(ctx); err != nil {
				return engine.ToolResult{}, err
			}

			raw, err := ops.ReadFile(ctx, abs)
			if err != nil {
				return engine.ToolResult{}, err
			}
			if err := engine.CheckAbort(ctx); err != nil {
				return engine.ToolResult{}, err
			}

			outcome, err := textutil.ApplyEdit(params.Path, string(raw), params.OldText, params.NewText)
			if err != nil {
				return engine.ToolResult{}, err
			}
			if err := engine.CheckAbort(ctx); err != nil {
				return engine.ToolResult{}, err
			}

			if err := ops.WriteFile(ctx, abs, []byte(outcome.Content)); err != nil {
				return engine.ToolResult{}, err
			}

			return engine.TextResult(
				fmt.Sprintf("Successfully replaced text in %s.", params.Path),
				&EditDetails{Diff: outcome.Diff, FirstChangedLine: outcome.FirstChangedLine},
			), nil
		},
		Metadata: engine.ToolMetadata{
			Category: "native",
			Tags:     []string{"mutating"},
		},
	}
}
