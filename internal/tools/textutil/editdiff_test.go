package textutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLineEnding(t *testing.T) {
	assert.Equal(t, CRLF, DetectLineEnding("a\r\nb\nc"))
	assert.Equal(t, LF, DetectLineEnding("a\nb\r\nc"))
	assert.Equal(t, LF, DetectLineEnding("no newline"))
}

func TestNormalizeForFuzzyMatch(t *testing.T) {
	in := "say \u201chi\u201d   \nit\u2019s a b \u2014 c\t"
	assert.Equal(t, "say \"hi\"\nit's a b - c", NormalizeForFuzzyMatch(in))
}

func TestFuzzyFindText(t *testing.T) {
	m := FuzzyFindText("hello world", "world")
	assert.True(t, m.Found)
	assert.False(t, m.UsedFuzzy)
	assert.Equal(t, 6, m.Index)

	m = FuzzyFindText("value = 1   \nnext", "value = 1\nnext")
	assert.True(t, m.Found)
	assert.True(t, m.UsedFuzzy)
	assert.Equal(t, "value = 1\nnext", m.ContentForReplacement)

	m = FuzzyFindText("abc", "xyz")
	assert.False(t, m.Found)
	assert.Equal(t, -1, m.Index)
}

func TestApplyEdit(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		oldText     string
		newText     string
		wantContent string
		wantKind    EditErrorKind
	}{
		{
			name:        "Exact replacement",
			raw:         "def old():\n    pass",
			oldText:     "def old():\n    pass",
			newText:     "def new():\n    return 1",
			wantContent: "def new():\n    return 1",
		},
		{
			name:        "Trailing whitespace tolerated",
			raw:         "a = 1   \nb = 2\n",
			oldText:     "a = 1\nb = 2",
			newText:     "a = 3\nb = 4",
			wantContent: "a = 3\nb = 4\n",
		},
		{
			name:        "CRLF and BOM restored",
			raw:         "\ufeffone\r\ntwo\r\nthree\r\n",
			oldText:     "two",
			newText:     "2",
			wantContent: "\ufeffone\r\n2\r\nthree\r\n",
		},
		{
			name:     "Not found",
			raw:      "alpha",
			oldText:  "beta",
			newText:  "gamma",
			wantKind: EditNotFound,
		},
		{
			name:     "Not unique",
			raw:      "x := 1\nx := 1\n",
			oldText:  "x := 1",
			newText:  "x := 2",
			wantKind: EditNotUnique,
		},
		{
			name:     "No change",
			raw:      "same text",
			oldText:  "same",
			newText:  "same",
			wantKind: EditNoChange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ApplyEdit("f.txt", tt.raw, tt.oldText, tt.newText)
			if tt.wantKind != "" {
				var editErr *EditError
				require.True(t, errors.As(err, &editErr))
				assert.Equal(t, tt.wantKind, editErr.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantContent, out.Content)
			assert.NotEmpty(t, out.Diff)
			assert.Positive(t, out.FirstChangedLine)
		})
	}
}

func TestApplyEditMessages(t *testing.T) {
	_, err := ApplyEdit("a.go", "x\nx", "x", "y")
	require.Error(t, err)
	assert.Equal(t, "Found 2 occurrences of the text in a.go. The text must be unique. Please provide more context to make it unique.", err.Error())

	_, err = ApplyEdit("a.go", "x", "z", "y")
	require.Error(t, err)
	assert.Equal(t, "Could not find the exact text in a.go. The old text must match exactly including all whitespace and newlines.", err.Error())
}

func TestGenerateDiff(t *testing.T) {
	oldContent := "line1\nline2\nline3\nline4\nline5\nline6\nline7\nline8\nline9\nline10\nline11\nline12"
	newContent := "line1\nline2\nline3\nline4\nline5\nline6\nchanged\nline8\nline9\nline10\nline11\nline12"

	diff, first := GenerateDiff(oldContent, newContent, 4)
	assert.Equal(t, 7, first)
	assert.Equal(t,
		"  3 line3\n"+
			"  4 line4\n"+
			"  5 line5\n"+
			"  6 line6\n"+
			"- 7 line7\n"+
			"+ 7 changed\n"+
			"  8 line8\n"+
			"  9 line9\n"+
			" 10 line10\n"+
			" 11 line11",
		diff)

	diff, first = GenerateDiff("same", "same", 4)
	assert.Empty(t, diff)
	assert.Zero(t, first)
}
