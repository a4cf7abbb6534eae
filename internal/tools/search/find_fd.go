package search

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/sandbox"
)

// FdFind runs the fd binary through a sandbox runner.
type FdFind struct {
	runner  sandbox.Runner
	dir     string
	timeout time.Duration
}

// NewFdFind returns an fd backend that runs commands from dir.
func NewFdFind(runner sandbox.Runner, dir string, timeout time.Duration) *FdFind {
	if timeout <= 0 {
		timeout = sandbox.DefaultCmdTimeout
	}
	return &FdFind{runner: runner, dir: dir, timeout: timeout}
}

func (f *FdFind) Exists(_ context.Context, p string) (bool, error) {
	return pathExists(p)
}

func (f *FdFind) Glob(ctx context.Context, pattern, root string, limit int) ([]string, error) {
	args := []string{"--glob", "--color=never", "--hidden", "--max-results", strconv.Itoa(limit)}
	for _, ig := range findIgnoreFiles(root) {
		args = append(args, "--ignore-file", ig)
	}
	args = append(args, "--", pattern, root)

	res, err := f.runner.RunCmd(ctx, f.dir, "fd", args, f.timeout)
	if err != nil {
		if errors.Is(err, sandbox.ErrTimedOut) {
			return nil, fmt.Errorf("fd command timed out after %d seconds", int(f.timeout.Seconds()))
		}
		if abortErr := engine.CheckAbort(ctx); abortErr != nil {
			return nil, abortErr
		}
		return nil, fmt.Errorf("Failed to run fd: %w", err)
	}

	output := strings.TrimSpace(res.Stdout)
	if res.Code != 0 && output == "" {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("fd exited with code %d", res.Code)
		}
		return nil, errors.New(msg)
	}
	if output == "" {
		return nil, nil
	}

	var out []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(root, line) + trailingSlash(line)
		}
		out = append(out, line)
	}
	return out, nil
}

func trailingSlash(p string) string {
	if strings.HasSuffix(p, "/") || strings.HasSuffix(p, `\`) {
		return "/"
	}
	return ""
}
