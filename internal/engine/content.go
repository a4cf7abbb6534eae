package engine

import "strings"

// ContentType discriminates tool result content blocks.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
)

// ContentBlock is either text or a base64 encoded image.
type ContentBlock struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	Data     string      `json:"data,omitempty"`
	MimeType string      `json:"mime_type,omitempty"`
}

// ToolResult is what a tool hands back to the agent loop. Details carries a
// tool-specific structured payload, such as truncation info or an edit diff.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	Details any            `json:"details,omitempty"`
}

// TextResult builds a single text block result.
func TextResult(text string, details any) ToolResult {
	return ToolResult{
		Content: []ContentBlock{{Type: ContentText, Text: text}},
		Details: details,
	}
}

// Text concatenates the text blocks of r. Image blocks are rendered as a
// placeholder naming their mime type.
func (r ToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, b := range r.Content {
		switch b.Type {
		case ContentText:
			parts = append(parts, b.Text)
		case ContentImage:
			parts = append(parts, "[image "+b.MimeType+"]")
		}
	}
	return strings.Join(parts, "\n")
}
