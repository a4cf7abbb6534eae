package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{"@src/main.go", "src/main.go"},
		{"my file.txt", "my file.txt"},
		{"~", home},
		{"~/notes.md", filepath.Join(home, "notes.md")},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandPath(tt.in), tt.in)
	}
}

func TestResolveToCwd(t *testing.T) {
	assert.Equal(t, "/home/user/Documents/main.py", ResolveToCwd("Documents/main.py", "/home/user"))
	assert.Equal(t, "/etc/hosts", ResolveToCwd("/etc/hosts", "/home/user"))
}

func TestResolverResolve(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver(root)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(r.Root(), "sub"), 0o755))
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(r.Root(), "escape")))

	tests := []struct {
		name    string
		in      string
		want    string
		outside bool
	}{
		{name: "Relative file", in: "sub/a.txt", want: filepath.Join(r.Root(), "sub", "a.txt")},
		{name: "Not yet created dirs", in: "new/dir/b.txt", want: filepath.Join(r.Root(), "new", "dir", "b.txt")},
		{name: "Root itself", in: ".", want: r.Root()},
		{name: "Absolute inside", in: filepath.Join(r.Root(), "sub"), want: filepath.Join(r.Root(), "sub")},
		{name: "Parent traversal", in: "../x.txt", outside: true},
		{name: "Nested traversal", in: "sub/../../x.txt", outside: true},
		{name: "Absolute outside", in: "/etc/passwd", outside: true},
		{name: "Symlink escape", in: "escape/secret.txt", outside: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.in)
			if tt.outside {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrOutsideWorkspace))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolverRel(t *testing.T) {
	r, err := NewResolver(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "a/b.txt", r.Rel(filepath.Join(r.Root(), "a", "b.txt")))
}
