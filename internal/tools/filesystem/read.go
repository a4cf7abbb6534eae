package filesystem

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/pathutil"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/textutil"
)

const readDescription = "Read the contents of a file. Supports text files and images (jpg, png, gif, webp). " +
	"Images are sent as attachments. For text files, output is truncated to 2000 lines or 50KB " +
	"(whichever is hit first). Use offset/limit for large files. When you need the full file, " +
	"continue with offset until complete."

const readSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path to the file to read (relative or absolute)"},
    "offset": {"type": "integer", "minimum": 1, "description": "Line number to start reading from (1-indexed)"},
    "limit": {"type": "integer", "minimum": 1, "description": "Maximum number of lines to read"}
  },
  "required": ["path"],
  "additionalProperties": false
}`

// ReadParams are the arguments of the read tool.
type ReadParams struct {
	Path   string `json:"path"`
	Offset *int   `json:"offset,omitempty"`
	Limit  *int   `json:"limit,omitempty"`
}

// ReadDetails is attached to text results that were cut.
type ReadDetails struct {
	Truncation *textutil.TruncationDetails `json:"truncation,omitempty"`
}

// ReadOption configures the read tool.
type ReadOption func(*readTool)

// WithAutoResizeImages toggles downsampling of large images. On by default.
func WithAutoResizeImages(enabled bool) ReadOption {
	return func(t *readTool) { t.autoResize = enabled }
}

type readTool struct {
	resolver   *pathutil.Resolver
	ops        ReadOperations
	autoResize bool
}

// NewReadTool creates the read tool. ops defaults to the local filesystem.
func NewReadTool(resolver *pathutil.Resolver, ops ReadOperations, opts ...ReadOption) engine.Tool {
	if ops == nil {
		ops = NewLocalFS()
	}
	rt := &readTool{resolver: resolver, ops: ops, autoResize: true}
	for _, opt := range opts {
		opt(rt)
	}
	return engine.Tool{
		Name:        "read",
		Label:       "read",
		Description: readDescription,
		SchemaJSON:  readSchema,
		Fn:          rt.execute,
		Retryable:   true,
		Metadata: engine.ToolMetadata{
			Category: "native",
			Tags:     []string{"read-only", "idempotent"},
		},
	}
}

func (t *readTool) execute(ctx context.Context, _ string, args map[string]any) (engine.ToolResult, error) {
	params, err := engine.DecodeArgs[ReadParams](args)
	if err != nil {
		return engine.ToolResult{}, err
	}
	abs, err := t.resolver.Resolve(params.Path)
	if err != nil {
		return engine.ToolResult{}, err
	}

	if err := t.ops.Access(ctx, abs); err != nil {
		return engine.ToolResult{}, err
	}
	if err := engine.CheckAbort(ctx); err != nil {
		return engine.ToolResult{}, err
	}

	mimeType, err := t.ops.DetectImageMimeType(ctx, abs)
	if err != nil {
		return engine.ToolResult{}, err
	}
	if err := engine.CheckAbort(ctx); err != nil {
		return engine.ToolResult{}, err
	}

	if mimeType != "" {
		return t.readImage(ctx, abs, mimeType)
	}
	return t.readText(ctx, abs, params)
}

func (t *readTool) readImage(ctx context.Context, abs, mimeType string) (engine.ToolResult, error) {
	data, err := t.ops.ReadFile(ctx, abs)
	if err != nil {
		return engine.ToolResult{}, err
	}
	if err := engine.CheckAbort(ctx); err != nil {
		return engine.ToolResult{}, err
	}

	text := fmt.Sprintf("Read image file [%s]", mimeType)
	outMime := mimeType
	if t.autoResize {
		var note string
		data, outMime, note = ResizeImageIfNeeded(data, mimeType, MaxImageDimension)
		if note != "" {
			text += "\n" + note
		}
	}

	return engine.ToolResult{
		Content: []engine.ContentBlock{
			{Type: engine.ContentText, Text: text},
			{Type: engine.ContentImage, Data: base64.StdEncoding.EncodeToString(data), MimeType: outMime},
		},
	}, nil
}

func (t *readTool) readText(ctx context.Context, abs string, params ReadParams) (engine.ToolResult, error) {
	data, err := t.ops.ReadFile(ctx, abs)
	if err != nil {
		return engine.ToolResult{}, err
	}
	if err := engine.CheckAbort(ctx); err != nil {
		return engine.ToolResult{}, err
	}
	if !utf8.Valid(data) {
		return engine.ToolResult{}, fmt.Errorf("File is not valid UTF-8 text: %s", params.Path)
	}

	allLines := strings.Split(string(data), "\n")
	total := len(allLines)

	start := 0
	if params.Offset != nil {
		start = *params.Offset - 1
	}
	if start >= total {
		return engine.ToolResult{}, fmt.Errorf("Offset %d is beyond end of file (%d lines total)", *params.Offset, total)
	}

	end := total
	userLimited := false
	if params.Limit != nil {
		end = min(start+*params.Limit, total)
		userLimited = true
	}

	tr := textutil.TruncateHead(strings.Join(allLines[start:end], "\n"), textutil.DefaultMaxLines, textutil.DefaultMaxBytes)
	text, details := formatReadOutput(tr, params.Path, allLines, start, end, userLimited)
	if details == nil {
		return engine.TextResult(text, nil), nil
	}
	return engine.TextResult(text, details), nil
}

// formatReadOutput picks exactly one of the four notice forms.
func formatReadOutput(tr textutil.TruncationResult, path string, allLines []string, start, end int, userLimited bool) (string, *ReadDetails) {
	startDisplay := start + 1
	total := len(allLines)

	if tr.FirstLineExceedsLimit {
		size := textutil.FormatSize(len(allLines[start]))
		text := fmt.Sprintf("[Line %d is %s, exceeds %s limit. Use bash: sed -n '%dp' %s | head -c %d]",
			startDisplay, size, textutil.FormatSize(textutil.DefaultMaxBytes), startDisplay, path, textutil.DefaultMaxBytes)
		return text, &ReadDetails{Truncation: tr.Details()}
	}

	if tr.Truncated {
		endDisplay := startDisplay + tr.OutputLines - 1
		next := endDisplay + 1
		var notice string
		if tr.TruncatedBy == textutil.TruncatedByLines {
			notice = fmt.Sprintf("[Showing lines %d-%d of %d. Use offset=%d to continue.]",
				startDisplay, endDisplay, total, next)
		} else {
			notice = fmt.Sprintf("[Showing lines %d-%d of %d (%s limit). Use offset=%d to continue.]",
				startDisplay, endDisplay, total, textutil.FormatSize(textutil.DefaultMaxBytes), next)
		}
		return tr.Content + "\n\n" + notice, &ReadDetails{Truncation: tr.Details()}
	}

	if userLimited && end < total {
		remaining := total - end
		return tr.Content + fmt.Sprintf("\n\n[%d more lines in file. Use offset=%d to continue.]", remaining, end+1), nil
	}

	return tr.Content, nil
}
