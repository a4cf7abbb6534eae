package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// ChangeFunc receives absolute paths of markdown files that changed and of
// those that disappeared since the last call.
type ChangeFunc func(changed, removed []string)

// Watcher reports markdown file changes below a directory, debounced.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	onChange ChangeFunc
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a stopped watcher for root.
func NewWatcher(root string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid watch dir %s: %w", root, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		root:     abs,
		watcher:  fw,
		debounce: defaultDebounce,
		logger:   logger.Named("knowledge.watcher"),
		pending:  make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// OnChange sets the callback. Call before Start.
func (w *Watcher) OnChange(fn ChangeFunc) { w.onChange = fn }

// Start watches every directory below root.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == w.root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", w.root, err)
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop ends both loops and releases the OS watcher.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(event.Name), ".") {
				if err := w.watcher.Add(event.Name); err != nil {
					w.logger.Warn("failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
				}
			}
			return
		}
	}
	if !IsMarkdown(event.Name) {
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.mu.Lock()
		w.pending[event.Name] = true
		w.mu.Unlock()
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

// flush classifies pending paths by whether they still exist.
func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	sort.Strings(paths)
	var changed, removed []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			changed = append(changed, p)
		} else {
			removed = append(removed, p)
		}
	}
	w.logger.Debug("markdown changes detected", zap.Int("changed", len(changed)), zap.Int("removed", len(removed)))
	if w.onChange != nil {
		w.onChange(changed, removed)
	}
}

// Reingest returns a ChangeFunc that submits changed files to worker and
// drops removed files from the index.
func Reingest(ctx context.Context, worker *Worker, namespace string, logger *zap.Logger) ChangeFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(changed, removed []string) {
		for _, p := range removed {
			if _, err := worker.svc.Remove(ctx, namespace, p); err != nil {
				logger.Warn("failed to drop removed source", zap.String("source", p), zap.Error(err))
			}
		}
		if len(changed) == 0 {
			return
		}
		if _, err := worker.Submit(ctx, namespace, changed); err != nil {
			logger.Warn("failed to submit re-ingestion", zap.Error(err))
		}
	}
}
