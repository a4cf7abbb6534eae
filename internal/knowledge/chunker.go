// Package knowledge ingests markdown documents into a full-text index and
// answers relevance queries over it.
package knowledge

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 2048
	DefaultChunkOverlap = 400
)

// Chunk is one overlapping slice of a markdown document. Sizes and offsets
// count characters, not bytes.
type Chunk struct {
	Text          string
	Index         int
	SourceFile    string
	SourceURL     string
	StartChar     int
	EndChar       int
	HeaderContext string // e.g. "Guide > Setup > Linux"
}

// MarkdownChunker splits markdown along its header hierarchy. Sections
// larger than ChunkSize are split by paragraphs, then sentences, then words.
// Each chunk after the first is prefixed with the previous chunk's trailing
// ChunkOverlap characters.
type MarkdownChunker struct {
	ChunkSize    int
	ChunkOverlap int
}

// NewMarkdownChunker applies defaults for a non-positive size or a negative
// overlap.
func NewMarkdownChunker(size, overlap int) *MarkdownChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	return &MarkdownChunker{ChunkSize: size, ChunkOverlap: overlap}
}

type section struct {
	text   string
	header string
}

// Chunk splits content from sourceFile. sourceURL is recorded verbatim and
// may be empty for local documents.
func (c *MarkdownChunker) Chunk(sourceFile, sourceURL, content string) []Chunk {
	var raw []section
	for _, s := range splitByHeaders(content) {
		text := strings.TrimSpace(s.text)
		if text == "" {
			continue
		}
		if runeLen(text) <= c.ChunkSize {
			raw = append(raw, section{text: text, header: s.header})
			continue
		}
		for _, part := range c.splitSection(text) {
			raw = append(raw, section{text: part, header: s.header})
		}
	}

	chunks := make([]Chunk, 0, len(raw))
	offset := 0
	for i, r := range raw {
		text := r.text
		if i > 0 && c.ChunkOverlap > 0 {
			text = tail(raw[i-1].text, c.ChunkOverlap) + "\n" + text
		}
		n := runeLen(r.text)
		chunks = append(chunks, Chunk{
			Text:          text,
			Index:         i,
			SourceFile:    sourceFile,
			SourceURL:     sourceURL,
			StartChar:     offset,
			EndChar:       offset + n,
			HeaderContext: r.header,
		})
		offset += n
	}
	return chunks
}

var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+(.+)$`)

func splitByHeaders(content string) []section {
	var sections []section
	var stack []string
	last := 0

	for _, m := range headerPattern.FindAllStringSubmatchIndex(content, -1) {
		if before := content[last:m[0]]; strings.TrimSpace(before) != "" {
			sections = append(sections, section{text: before, header: strings.Join(stack, " > ")})
		}

		level := m[3] - m[2]
		title := strings.TrimSpace(content[m[4]:m[5]])
		if len(stack) > level-1 {
			stack = stack[:level-1]
		}
		stack = append(stack, title)
		last = m[1]
	}

	if rest := content[last:]; strings.TrimSpace(rest) != "" {
		sections = append(sections, section{text: rest, header: strings.Join(stack, " > ")})
	}
	if len(sections) == 0 {
		sections = append(sections, section{text: content})
	}
	return sections
}

var paragraphBreak = regexp.MustCompile(`\n\n+`)

func (c *MarkdownChunker) splitSection(text string) []string {
	if paragraphs := paragraphBreak.Split(text, -1); len(paragraphs) > 1 {
		return c.mergeParts(paragraphs)
	}
	if sentences := splitSentences(text); len(sentences) > 1 {
		return c.mergeParts(sentences)
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > c.ChunkSize {
		cut := lastSpace(runes[:c.ChunkSize])
		if cut <= 0 {
			cut = c.ChunkSize
		}
		parts = append(parts, string(runes[:cut]))
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// mergeParts packs consecutive parts into chunks of at most ChunkSize.
func (c *MarkdownChunker) mergeParts(parts []string) []string {
	var merged []string
	current := ""
	for _, part := range parts {
		candidate := part
		if current != "" {
			candidate = strings.TrimSpace(current + "\n\n" + part)
		}
		if runeLen(candidate) <= c.ChunkSize {
			current = candidate
			continue
		}
		if current != "" {
			merged = append(merged, current)
		}
		if runeLen(part) > c.ChunkSize {
			merged = append(merged, c.splitSection(part)...)
			current = ""
		} else {
			current = part
		}
	}
	if current != "" {
		merged = append(merged, current)
	}
	return merged
}

// splitSentences cuts after '.', '!' or '?' followed by whitespace, dropping
// the whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(".!?", runes[i]) || i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		out = append(out, string(runes[start:i+1]))
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
