package textutil

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// LineEnding is the newline convention detected in a file.
type LineEnding string

const (
	LF   LineEnding = "\n"
	CRLF LineEnding = "\r\n"
)

const bom = "\ufeff"

// DiffContextLines is the number of unchanged lines kept around each hunk.
const DiffContextLines = 4

// DetectLineEnding reports CRLF only when the first newline is preceded by \r.
func DetectLineEnding(content string) LineEnding {
	crlf := strings.Index(content, "\r\n")
	lf := strings.Index(content, "\n")
	if lf == -1 || crlf == -1 {
		return LF
	}
	if crlf < lf {
		return CRLF
	}
	return LF
}

// NormalizeToLF converts CRLF and lone CR to LF.
func NormalizeToLF(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// RestoreLineEndings converts LF content back to the given convention.
func RestoreLineEndings(text string, ending LineEnding) string {
	if ending == CRLF {
		return strings.ReplaceAll(text, "\n", "\r\n")
	}
	return text
}

// StripBOM splits a leading UTF-8 byte order mark from content.
func StripBOM(content string) (string, string) {
	if strings.HasPrefix(content, bom) {
		return bom, content[len(bom):]
	}
	return "", content
}

var fuzzyReplacer = strings.NewReplacer(
	// quotes
	"\u2018", "'", "\u2019", "'", "\u201a", "'", "\u201b", "'",
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`, "\u201f", `"`,
	// dashes
	"\u2010", "-", "\u2011", "-", "\u2012", "-", "\u2013", "-",
	"\u2014", "-", "\u2015", "-", "\u2212", "-",
	// spaces
	"\u00a0", " ", "\u2002", " ", "\u2003", " ", "\u2004", " ",
	"\u2005", " ", "\u2006", " ", "\u2007", " ", "\u2008", " ",
	"\u2009", " ", "\u200a", " ", "\u202f", " ", "\u205f", " ",
	"\u3000", " ",
)

// NormalizeForFuzzyMatch strips trailing whitespace from every line and maps
// typographic quotes, dashes and exotic spaces to their ASCII forms.
func NormalizeForFuzzyMatch(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return fuzzyReplacer.Replace(strings.Join(lines, "\n"))
}

// FuzzyMatch is the outcome of FuzzyFindText. Index and Length address
// ContentForReplacement, which is the fuzzy-normalized content whenever
// UsedFuzzy is set.
type FuzzyMatch struct {
	Found                 bool
	Index                 int
	Length                int
	UsedFuzzy             bool
	ContentForReplacement string
}

// FuzzyFindText looks for oldText exactly, then in fuzzy-normalized space.
func FuzzyFindText(content, oldText string) FuzzyMatch {
	if idx := strings.Index(content, oldText); idx != -1 {
		return FuzzyMatch{Found: true, Index: idx, Length: len(oldText), ContentForReplacement: content}
	}

	fuzzyContent := NormalizeForFuzzyMatch(content)
	fuzzyOld := NormalizeForFuzzyMatch(oldText)
	idx := strings.Index(fuzzyContent, fuzzyOld)
	if idx == -1 {
		return FuzzyMatch{Index: -1, ContentForReplacement: content}
	}
	return FuzzyMatch{
		Found:                 true,
		Index:                 idx,
		Length:                len(fuzzyOld),
		UsedFuzzy:             true,
		ContentForReplacement: fuzzyContent,
	}
}

// EditErrorKind classifies a rejected edit.
type EditErrorKind string

const (
	EditNotFound  EditErrorKind = "not_found"
	EditNotUnique EditErrorKind = "not_unique"
	EditNoChange  EditErrorKind = "no_change"
)

// EditError is a business-rule rejection of an edit. The file is untouched.
type EditError struct {
	Kind EditErrorKind
	Msg  string
}

func (e *EditError) Error() string { return e.Msg }

// EditOutcome is the result of a successful ApplyEdit.
type EditOutcome struct {
	// Content is the full new file content, with line endings and BOM restored.
	Content          string
	Diff             string
	FirstChangedLine int
	UsedFuzzy        bool
}

// ApplyEdit replaces the unique occurrence of oldText in raw with newText.
// path is only used in error messages.
func ApplyEdit(path, raw, oldText, newText string) (EditOutcome, error) {
	bomPrefix, content := StripBOM(raw)
	ending := DetectLineEnding(content)
	normalized := NormalizeToLF(content)
	oldLF := NormalizeToLF(oldText)
	newLF := NormalizeToLF(newText)

	match := FuzzyFindText(normalized, oldLF)
	if !match.Found {
		return EditOutcome{}, &EditError{
			Kind: EditNotFound,
			Msg: fmt.Sprintf("Could not find the exact text in %s. "+
				"The old text must match exactly including all whitespace and newlines.", path),
		}
	}

	if n := strings.Count(NormalizeForFuzzyMatch(normalized), NormalizeForFuzzyMatch(oldLF)); n > 1 {
		return EditOutcome{}, &EditError{
			Kind: EditNotUnique,
			Msg: fmt.Sprintf("Found %d occurrences of the text in %s. "+
				"The text must be unique. Please provide more context to make it unique.", n, path),
		}
	}

	base := match.ContentForReplacement
	updated := base[:match.Index] + newLF + base[match.Index+match.Length:]
	if updated == base {
		return EditOutcome{}, &EditError{
			Kind: EditNoChange,
			Msg:  fmt.Sprintf("No changes made to %s. The replacement produced identical content.", path),
		}
	}

	diff, first := GenerateDiff(base, updated, DiffContextLines)
	return EditOutcome{
		Content:          bomPrefix + RestoreLineEndings(updated, ending),
		Diff:             diff,
		FirstChangedLine: first,
		UsedFuzzy:        match.UsedFuzzy,
	}, nil
}

// GenerateDiff renders a line-numbered diff of oldContent against newContent.
// Removed lines are prefixed with "-" and the old line number, added lines
// with "+" and the new line number, context lines with a space. The second
// return value is the new-file line of the first change, or 0 when equal.
func GenerateDiff(oldContent, newContent string, contextLines int) (string, int) {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	matcher := difflib.NewMatcher(oldLines, newLines)
	groups := matcher.GetGroupedOpCodes(contextLines)

	width := len(strconv.Itoa(max(len(oldLines), len(newLines))))
	num := func(n int) string {
		s := strconv.Itoa(n)
		if pad := width - len(s); pad > 0 {
			s = strings.Repeat(" ", pad) + s
		}
		return s
	}

	var out []string
	first := 0
	for _, group := range groups {
		if onlyEqual(group) {
			continue
		}
		for _, op := range group {
			switch op.Tag {
			case 'e':
				for i := op.I1; i < op.I2; i++ {
					out = append(out, " "+num(i+1)+" "+oldLines[i])
				}
			case 'r', 'd', 'i':
				if first == 0 {
					first = op.J1 + 1
				}
				for i := op.I1; i < op.I2; i++ {
					out = append(out, "-"+num(i+1)+" "+oldLines[i])
				}
				for j := op.J1; j < op.J2; j++ {
					out = append(out, "+"+num(j+1)+" "+newLines[j])
				}
			}
		}
	}
	return strings.Join(out, "\n"), first
}

func onlyEqual(group []difflib.OpCode) bool {
	for _, op := range group {
		if op.Tag != 'e' {
			return false
		}
	}
	return true
}
