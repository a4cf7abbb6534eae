package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/sandbox"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFindToolNative(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		args     map[string]any
		want     []string
		wantNot  []string
		wantText string
	}{
		{
			name:    "Gitignore excludes matches",
			files:   map[string]string{".gitignore": "*.log\n", "a.py": "", "b.log": ""},
			args:    map[string]any{"pattern": "*"},
			want:    []string{"a.py"},
			wantNot: []string{"b.log"},
		},
		{
			name:    "Nested gitignore is scoped to its directory",
			files:   map[string]string{"sub/.gitignore": "skip.txt\n", "sub/skip.txt": "", "skip.txt": ""},
			args:    map[string]any{"pattern": "skip.txt"},
			want:    []string{"skip.txt"},
			wantNot: []string{"sub/skip.txt"},
		},
		{
			name:  "Directories carry trailing slash",
			files: map[string]string{"pkg/x.go": ""},
			args:  map[string]any{"pattern": "pkg"},
			want:  []string{"pkg/"},
		},
		{
			name:    "Vendor dirs skipped",
			files:   map[string]string{"node_modules/m.js": "", ".git/config": "", "app.js": ""},
			args:    map[string]any{"pattern": "*.js"},
			want:    []string{"app.js"},
			wantNot: []string{"node_modules/m.js"},
		},
		{
			name:  "Search root is relative base",
			files: map[string]string{"src/a/main.go": "", "main.go": ""},
			args:  map[string]any{"pattern": "*.go", "path": "src"},
			want:  []string{"a/main.go"},
		},
		{
			name:     "No results",
			files:    map[string]string{"a.txt": ""},
			args:     map[string]any{"pattern": "*.rs"},
			wantText: "No files found matching pattern",
		},
		{
			name:     "Limit notice",
			files:    map[string]string{"a.txt": "", "b.txt": "", "c.txt": ""},
			args:     map[string]any{"pattern": "*.txt", "limit": 2},
			wantText: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(t)
			writeFiles(t, r.Root(), tt.files)

			res, err := NewFindTool(r, NewNativeFind()).Execute(context.Background(), "c", tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := res.Text()

			if tt.wantText != "" {
				if got != tt.wantText {
					t.Errorf("text = %q, want %q", got, tt.wantText)
				}
				return
			}
			if tt.args["limit"] != nil {
				if !strings.HasSuffix(got, "\n\n[2 results limit reached]") {
					t.Errorf("missing limit notice in %q", got)
				}
				if d, ok := res.Details.(*Details); !ok || d.ResultLimitReached != 2 {
					t.Errorf("details = %+v", res.Details)
				}
				return
			}

			lines := strings.Split(got, "\n")
			for _, w := range tt.want {
				if !slices.Contains(lines, w) {
					t.Errorf("missing %q in %q", w, lines)
				}
			}
			for _, w := range tt.wantNot {
				if slices.Contains(lines, w) {
					t.Errorf("unexpected %q in %q", w, lines)
				}
			}
		})
	}
}

func TestFindToolMissingRoot(t *testing.T) {
	r := newTestResolver(t)
	_, err := NewFindTool(r, NewNativeFind()).Execute(context.Background(), "c", map[string]any{"pattern": "*", "path": "missing"})
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestFindToolFd(t *testing.T) {
	r := newTestResolver(t)
	writeFiles(t, r.Root(), map[string]string{".gitignore": "*.log\n", "a.py": ""})

	runner := &MockRunner{
		RunCmdFunc: func(ctx context.Context, dir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
			root := args[len(args)-1]
			return sandbox.Result{Stdout: root + "/a.py\n" + root + "/pkg/\n"}, nil
		},
	}
	res, err := NewFindTool(r, NewFdFind(runner, r.Root(), 0)).Execute(context.Background(), "c", map[string]any{"pattern": "*"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text() != "a.py\npkg/" {
		t.Errorf("text = %q", res.Text())
	}

	wantPrefix := []string{"--glob", "--color=never", "--hidden", "--max-results", "1000", "--ignore-file", filepath.Join(r.Root(), ".gitignore")}
	if !slices.Equal(runner.LastArgs[:len(wantPrefix)], wantPrefix) {
		t.Errorf("args = %v", runner.LastArgs)
	}
	if runner.LastName != "fd" {
		t.Errorf("command = %s", runner.LastName)
	}
}

func TestFindToolFdTimeout(t *testing.T) {
	r := newTestResolver(t)
	runner := &MockRunner{
		RunCmdFunc: func(ctx context.Context, dir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
			return sandbox.Result{Code: -1, TimedOut: true}, sandbox.ErrTimedOut
		},
	}
	_, err := NewFindTool(r, NewFdFind(runner, r.Root(), 0)).Execute(context.Background(), "c", map[string]any{"pattern": "*"})
	if err == nil || err.Error() != "fd command timed out after 60 seconds" {
		t.Fatalf("error = %v", err)
	}
}

func TestFormatResultsByteLimit(t *testing.T) {
	var sb strings.Builder
	for sb.Len() < 60*1024 {
		sb.WriteString(strings.Repeat("p", 99) + "\n")
	}
	res := formatResults(strings.TrimSuffix(sb.String(), "\n"), false, DefaultResultLimit)
	if !strings.HasSuffix(res.Text(), "\n\n[50.0KB limit reached]") {
		t.Errorf("missing byte notice")
	}
	d, ok := res.Details.(*Details)
	if !ok || d.Truncation == nil || d.Truncation.TruncatedBy != "bytes" {
		t.Errorf("details = %+v", res.Details)
	}
}

func TestFindToolFdFlagLikePattern(t *testing.T) {
	r := newTestResolver(t)
	runner := &MockRunner{}
	_, err := NewFindTool(r, NewFdFind(runner, r.Root(), 0)).Execute(context.Background(), "c", map[string]any{"pattern": "--exec=sh"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	args := runner.LastArgs
	n := len(args)
	if n < 3 || !slices.Equal(args[n-3:], []string{"--", "--exec=sh", r.Root()}) {
		t.Fatalf("args must end with -- PATTERN ROOT, got %v", args)
	}
	if slices.Index(args, "--exec=sh") != n-2 {
		t.Errorf("pattern appears in option position: %v", args)
	}
}
