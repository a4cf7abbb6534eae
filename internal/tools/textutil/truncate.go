// Package textutil holds the deterministic output formatting shared by the
// file and search tools: head truncation under a dual line/byte ceiling,
// per-line clipping and fuzzy edit matching.
package textutil

import (
	"fmt"
	"strings"
)

const (
	DefaultMaxLines   = 2000
	DefaultMaxBytes   = 50 * 1024
	GrepMaxLineLength = 500
)

// TruncatedBy names the limit that stopped output.
type TruncatedBy string

const (
	TruncatedByNone  TruncatedBy = ""
	TruncatedByLines TruncatedBy = "lines"
	TruncatedByBytes TruncatedBy = "bytes"
)

// TruncationResult describes what TruncateHead kept and why.
type TruncationResult struct {
	Content               string      `json:"content"`
	Truncated             bool        `json:"truncated"`
	TruncatedBy           TruncatedBy `json:"truncated_by,omitempty"`
	TotalLines            int         `json:"total_lines"`
	TotalBytes            int         `json:"total_bytes"`
	OutputLines           int         `json:"output_lines"`
	OutputBytes           int         `json:"output_bytes"`
	LastLinePartial       bool        `json:"last_line_partial"`
	FirstLineExceedsLimit bool        `json:"first_line_exceeds_limit"`
	MaxLines              int         `json:"max_lines"`
	MaxBytes              int         `json:"max_bytes"`
}

// TruncationDetails is the truncation sub-object carried in tool details.
type TruncationDetails struct {
	Truncated             bool        `json:"truncated"`
	TruncatedBy           TruncatedBy `json:"truncated_by,omitempty"`
	TotalLines            int         `json:"total_lines,omitempty"`
	TotalBytes            int         `json:"total_bytes,omitempty"`
	OutputLines           int         `json:"output_lines,omitempty"`
	OutputBytes           int         `json:"output_bytes,omitempty"`
	FirstLineExceedsLimit bool        `json:"first_line_exceeds_limit,omitempty"`
}

// Details returns the reportable subset of r, or nil when nothing was cut.
func (r TruncationResult) Details() *TruncationDetails {
	if !r.Truncated {
		return nil
	}
	return &TruncationDetails{
		Truncated:             true,
		TruncatedBy:           r.TruncatedBy,
		TotalLines:            r.TotalLines,
		TotalBytes:            r.TotalBytes,
		OutputLines:           r.OutputLines,
		OutputBytes:           r.OutputBytes,
		FirstLineExceedsLimit: r.FirstLineExceedsLimit,
	}
}

// FormatSize renders a byte count the way tool notices display it.
func FormatSize(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}

// TruncateHead keeps whole lines from the start of content until either
// maxLines or maxBytes would be exceeded. It never emits a partial line: if
// the first line alone is larger than maxBytes the result is empty and
// FirstLineExceedsLimit is set.
func TruncateHead(content string, maxLines, maxBytes int) TruncationResult {
	totalBytes := len(content)
	lines := strings.Split(content, "\n")
	totalLines := len(lines)

	res := TruncationResult{
		TotalLines: totalLines,
		TotalBytes: totalBytes,
		MaxLines:   maxLines,
		MaxBytes:   maxBytes,
	}

	if totalLines <= maxLines && totalBytes <= maxBytes {
		res.Content = content
		res.OutputLines = totalLines
		res.OutputBytes = totalBytes
		return res
	}

	res.Truncated = true
	if len(lines[0]) > maxBytes {
		res.TruncatedBy = TruncatedByBytes
		res.FirstLineExceedsLimit = true
		return res
	}

	kept := make([]string, 0, min(totalLines, maxLines))
	used := 0
	by := TruncatedByLines
	for i, line := range lines {
		lineBytes := len(line)
		if i > 0 {
			lineBytes++ // newline separator
		}
		if used+lineBytes > maxBytes {
			by = TruncatedByBytes
			break
		}
		if i >= maxLines {
			by = TruncatedByLines
			break
		}
		kept = append(kept, line)
		used += lineBytes
	}
	if len(kept) >= maxLines && used <= maxBytes {
		by = TruncatedByLines
	}

	res.Content = strings.Join(kept, "\n")
	res.TruncatedBy = by
	res.OutputLines = len(kept)
	res.OutputBytes = len(res.Content)
	return res
}

// TruncateLine clips line to maxChars characters and appends a marker.
func TruncateLine(line string, maxChars int) (string, bool) {
	runes := []rune(line)
	if len(runes) <= maxChars {
		return line, false
	}
	return string(runes[:maxChars]) + "... [truncated]", true
}
