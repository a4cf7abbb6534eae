// Package pathutil expands user supplied paths and confines them to a
// session workspace.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrOutsideWorkspace is returned when a path resolves outside the workspace
// root, either lexically or through a symlink.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

var unicodeSpaces = regexp.MustCompile(`[\x{00A0}\x{2000}-\x{200A}\x{202F}\x{205F}\x{3000}]`)

// NormalizeUnicodeSpaces maps exotic space characters to ASCII spaces.
func NormalizeUnicodeSpaces(p string) string {
	return unicodeSpaces.ReplaceAllString(p, " ")
}

// ExpandPath strips a leading "@", normalizes unicode spaces and expands a
// leading "~" to the user's home directory.
func ExpandPath(p string) string {
	p = NormalizeUnicodeSpaces(strings.TrimPrefix(p, "@"))
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

// ResolveToCwd expands p and makes it absolute relative to cwd.
func ResolveToCwd(p, cwd string) string {
	expanded := ExpandPath(p)
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded)
	}
	return filepath.Join(cwd, expanded)
}

// existingVariant returns the first of p, its NFD and its NFC forms that
// exists on disk. Filenames written on macOS are often decomposed.
func existingVariant(p string) string {
	if _, err := os.Lstat(p); err == nil {
		return p
	}
	for _, v := range []string{norm.NFD.String(p), norm.NFC.String(p)} {
		if v == p {
			continue
		}
		if _, err := os.Lstat(v); err == nil {
			return v
		}
	}
	return p
}

// Resolver resolves tool paths against a single workspace root.
type Resolver struct {
	root string
}

// NewResolver creates root if needed and canonicalizes it.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize workspace root: %w", err)
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical workspace root.
func (r *Resolver) Root() string { return r.root }

// Resolve returns the canonical absolute form of p, which may name a file
// that does not exist yet. Any path whose canonical form leaves the root is
// rejected with ErrOutsideWorkspace.
func (r *Resolver) Resolve(p string) (string, error) {
	abs := existingVariant(ResolveToCwd(p, r.root))
	canonical, err := canonicalize(abs)
	if err != nil {
		return "", err
	}
	if !r.contains(canonical) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	return canonical, nil
}

// Rel returns abs relative to the root using forward slashes.
func (r *Resolver) Rel(abs string) string {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func (r *Resolver) contains(p string) bool {
	rel, err := filepath.Rel(r.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// canonicalize evaluates symlinks on the longest existing prefix of p and
// re-appends the components that do not exist yet.
func canonicalize(p string) (string, error) {
	p = filepath.Clean(p)
	var missing []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("canonicalize %s: %w", p, err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}
