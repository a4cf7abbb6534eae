// Package filesystem implements the read, write and edit tools on top of
// swappable backend operations.
package filesystem

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
)

// ReadOperations is the backend surface the read tool needs.
type ReadOperations interface {
	// Access fails with engine.ErrNotFound or engine.ErrPermission.
	Access(ctx context.Context, path string) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// DetectImageMimeType returns "" for anything that is not a supported image.
	DetectImageMimeType(ctx context.Context, path string) (string, error)
}

// WriteOperations is the backend surface the write tool needs.
type WriteOperations interface {
	MkdirAll(ctx context.Context, dir string) error
	WriteFile(ctx context.Context, path string, data []byte) error
}

// EditOperations is the backend surface the edit tool needs.
type EditOperations interface {
	// AccessWritable fails unless path exists and is readable and writable.
	AccessWritable(ctx context.Context, path string) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}

// LocalFS implements every operations interface against the local disk.
type LocalFS struct{}

// NewLocalFS creates a new LocalFS.
func NewLocalFS() *LocalFS {
	return &LocalFS{}
}

func (LocalFS) Access(_ context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return classify(path, err)
	}
	return f.Close()
}

func (LocalFS) AccessWritable(_ context.Context, path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return classify(path, err)
	}
	return f.Close()
}

func (LocalFS) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, classify(path, err)
	}
	return data, nil
}

func (LocalFS) DetectImageMimeType(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", classify(path, err)
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return DetectImageMimeType(header[:n]), nil
}

func (LocalFS) MkdirAll(_ context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return classify(dir, err)
	}
	return nil
}

// WriteFile writes through a temp file in the same directory and renames it
// over path, so readers never observe a partial file.
func (LocalFS) WriteFile(_ context.Context, path string, data []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return classify(path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return classify(path, err)
	}
	return nil
}

func classify(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return engine.NotFoundf("File not found: %s", path)
	case errors.Is(err, fs.ErrPermission):
		return engine.Permissionf("Permission denied: %s", path)
	default:
		return err
	}
}
