package search

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

var errLimitReached = errors.New("result limit reached")

// NativeFind walks the local tree in-process. Each .gitignore applies to
// its own directory and below.
type NativeFind struct{}

// NewNativeFind returns the default find backend.
func NewNativeFind() *NativeFind {
	return &NativeFind{}
}

func (NativeFind) Exists(_ context.Context, p string) (bool, error) {
	return pathExists(p)
}

type scopedIgnore struct {
	base    string
	matcher *gitignore.GitIgnore
}

func (s scopedIgnore) ignores(p string, isDir bool) bool {
	rel, err := filepath.Rel(s.base, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	if s.matcher.MatchesPath(rel) {
		return true
	}
	return isDir && s.matcher.MatchesPath(rel+"/")
}

func (NativeFind) Glob(ctx context.Context, pattern, root string, limit int) ([]string, error) {
	match := globMatcher(pattern)
	var ignores []scopedIgnore
	var out []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if err := engine.CheckAbort(ctx); err != nil {
			return err
		}

		isDir := d.IsDir()
		if isDir && p != root && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		for _, ig := range ignores {
			if ig.ignores(p, isDir) {
				if isDir {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if isDir {
			if lines, err := readIgnoreLines(filepath.Join(p, ".gitignore")); err == nil && len(lines) > 0 {
				ignores = append(ignores, scopedIgnore{base: p, matcher: gitignore.CompileIgnoreLines(lines...)})
			}
		}
		if p == root {
			return nil
		}

		rel, _ := filepath.Rel(root, p)
		if !match(filepath.ToSlash(rel), d.Name()) {
			return nil
		}
		if isDir {
			p += "/"
		}
		out = append(out, p)
		if len(out) >= limit {
			return errLimitReached
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return nil, err
	}
	return out, nil
}

// globMatcher matches bare patterns against the entry name and patterns
// containing a slash against the path relative to the search root.
func globMatcher(pattern string) func(rel, name string) bool {
	if strings.Contains(pattern, "/") {
		m := gitignore.CompileIgnoreLines(pattern)
		return func(rel, _ string) bool {
			return m.MatchesPath(rel)
		}
	}
	return func(_, name string) bool {
		ok, err := path.Match(pattern, name)
		return err == nil && ok
	}
}

// readIgnoreLines reads the non-comment patterns of an ignore file.
func readIgnoreLines(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

// findIgnoreFiles lists every .gitignore below root, skipping skipDirs.
func findIgnoreFiles(root string) []string {
	var files []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == ".gitignore" {
			files = append(files, p)
		}
		return nil
	})
	return files
}

func pathExists(p string) (bool, error) {
	_, err := os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
