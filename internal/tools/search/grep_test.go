package search

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/sandbox"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/pathutil"
)

// MockRunner implements sandbox.Runner for testing
type MockRunner struct {
	RunCmdFunc func(ctx context.Context, dir, name string, args []string, timeout time.Duration) (sandbox.Result, error)
	LastName   string
	LastArgs   []string
}

func (m *MockRunner) RunCmd(ctx context.Context, dir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
	m.LastName = name
	m.LastArgs = args
	if m.RunCmdFunc != nil {
		return m.RunCmdFunc(ctx, dir, name, args, timeout)
	}
	return sandbox.Result{}, nil
}

func newTestResolver(t *testing.T) *pathutil.Resolver {
	t.Helper()
	r, err := pathutil.NewResolver(t.TempDir())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestGrepTool(t *testing.T) {
	tests := []struct {
		name         string
		args         map[string]any
		mockStdout   func(root string) string
		mockStderr   string
		mockExitCode int
		mockErr      error
		wantText     string
		wantContains string
		wantErr      string
		wantArgs     []string
	}{
		{
			name: "Basic match relativized",
			args: map[string]any{"pattern": "func main"},
			mockStdout: func(root string) string {
				return root + "/main.go:10:func main() {\n" + root + "/cmd/app.go:5:func main() {\n"
			},
			wantText: "main.go:10:func main() {\ncmd/app.go:5:func main() {",
			wantArgs: []string{"--color=never", "--line-number", "--with-filename", "--hidden", "--max-count", "1000"},
		},
		{
			name:         "No matches",
			args:         map[string]any{"pattern": "foobar"},
			mockExitCode: 1,
			wantText:     "No matches found",
		},
		{
			name:     "Empty output",
			args:     map[string]any{"pattern": "foobar"},
			wantText: "No matches found",
		},
		{
			name:         "Bad regex",
			args:         map[string]any{"pattern": "invalid("},
			mockStderr:   "regex parse error\n",
			mockExitCode: 2,
			wantErr:      "regex parse error",
		},
		{
			name:     "Options map to flags",
			args:     map[string]any{"pattern": "x", "include": "*.go", "case_insensitive": true, "context_lines": 2},
			wantArgs: []string{"--glob", "*.go", "-i", "-C", "2"},
			wantText: "No matches found",
		},
		{
			name: "Long lines clipped",
			args: map[string]any{"pattern": "y"},
			mockStdout: func(root string) string {
				return root + "/a.txt:1:" + strings.Repeat("y", 600)
			},
			wantContains: "... [truncated]",
		},
		{
			name: "Result limit notice",
			args: map[string]any{"pattern": "common"},
			mockStdout: func(root string) string {
				var sb strings.Builder
				for i := 0; i < 1000; i++ {
					fmt.Fprintf(&sb, "%s/file%d.go:%d:common\n", root, i, i)
				}
				return sb.String()
			},
			wantContains: "\n\n[1000 results limit reached]",
		},
		{
			name:     "Timeout",
			args:     map[string]any{"pattern": "slow"},
			mockErr:  sandbox.ErrTimedOut,
			wantErr:  "rg command timed out after 60 seconds",
			wantText: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(t)
			runner := &MockRunner{
				RunCmdFunc: func(ctx context.Context, dir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
					out := ""
					if tt.mockStdout != nil {
						out = tt.mockStdout(r.Root())
					}
					return sandbox.Result{Stdout: out, Stderr: tt.mockStderr, Code: tt.mockExitCode}, tt.mockErr
				},
			}
			tool := NewGrepTool(r, NewRgGrep(runner, r.Root(), 0))

			res, err := tool.Execute(context.Background(), "c", tt.args)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if runner.LastName != "rg" {
				t.Errorf("expected command rg, got %s", runner.LastName)
			}
			wantTail := []string{"--regexp", tt.args["pattern"].(string), "--", r.Root()}
			if n := len(runner.LastArgs); n < len(wantTail) || !slices.Equal(runner.LastArgs[n-len(wantTail):], wantTail) {
				t.Errorf("args must end with %v, got %v", wantTail, runner.LastArgs)
			}
			for _, a := range tt.wantArgs {
				if !slices.Contains(runner.LastArgs, a) {
					t.Errorf("missing arg %q in %v", a, runner.LastArgs)
				}
			}

			got := res.Text()
			if tt.wantText != "" && got != tt.wantText {
				t.Errorf("text = %q, want %q", got, tt.wantText)
			}
			if tt.wantContains != "" && !strings.Contains(got, tt.wantContains) {
				t.Errorf("text missing %q", tt.wantContains)
			}
		})
	}
}

func TestGrepToolMissingPath(t *testing.T) {
	r := newTestResolver(t)
	runner := &MockRunner{}
	tool := NewGrepTool(r, NewRgGrep(runner, r.Root(), 0))

	_, err := tool.Execute(context.Background(), "c", map[string]any{"pattern": "x", "path": "nope"})
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	want := "Path " + filepath.Join(r.Root(), "nope") + " does not exist"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
	if runner.LastName != "" {
		t.Error("rg must not run for a missing path")
	}
}

func TestGrepToolCancelled(t *testing.T) {
	r := newTestResolver(t)
	ctx, cancel := context.WithCancel(context.Background())
	runner := &MockRunner{
		RunCmdFunc: func(ctx context.Context, dir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
			cancel()
			return sandbox.Result{}, context.Canceled
		},
	}
	_, err := NewGrepTool(r, NewRgGrep(runner, r.Root(), 0)).Execute(ctx, "c", map[string]any{"pattern": "x"})
	if !errors.Is(err, engine.ErrAborted) {
		t.Fatalf("error = %v, want ErrAborted", err)
	}
}

func TestGrepToolFlagLikePatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{"long option", "--pre=sh"},
		{"short option", "-foo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(t)
			runner := &MockRunner{}
			_, err := NewGrepTool(r, NewRgGrep(runner, r.Root(), 0)).Execute(context.Background(), "c", map[string]any{"pattern": tt.pattern})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			args := runner.LastArgs
			sep := slices.Index(args, "--")
			if sep < 2 || args[sep-1] != tt.pattern || args[sep-2] != "--regexp" {
				t.Fatalf("pattern must be the value of --regexp before --, got %v", args)
			}
			if !slices.Equal(args[sep+1:], []string{r.Root()}) {
				t.Errorf("only the path may follow --, got %v", args[sep+1:])
			}
			for _, a := range args[:sep-1] {
				if a == tt.pattern {
					t.Errorf("pattern leaked into option position: %v", args)
				}
			}
		})
	}
}

func TestGrepToolSiblingPrefixNotStripped(t *testing.T) {
	r := newTestResolver(t)
	runner := &MockRunner{
		RunCmdFunc: func(ctx context.Context, dir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
			return sandbox.Result{Stdout: r.Root() + "x/main.go:3:func main() {\n" + r.Root() + "/main.go:3:func main() {\n"}, nil
		},
	}
	res, err := NewGrepTool(r, NewRgGrep(runner, r.Root(), 0)).Execute(context.Background(), "c", map[string]any{"pattern": "main"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := r.Root() + "x/main.go:3:func main() {\nmain.go:3:func main() {"
	if res.Text() != want {
		t.Errorf("text = %q, want %q", res.Text(), want)
	}
}
