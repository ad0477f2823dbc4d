// Package watcher feeds files dropped into inbox directories to the indexer.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a file must stay quiet before it is indexed.
const DefaultDebounce = 400 * time.Millisecond

// Handler receives settled file changes. *indexer.Indexer satisfies it.
type Handler interface {
	IndexFile(ctx context.Context, path string) (bool, error)
	RemoveFile(ctx context.Context, path string) (bool, error)
}

// Watcher watches inbox roots and forwards matching files to a Handler.
type Watcher struct {
	handler   Handler
	match     func(relPath string) bool
	recursive bool
	debounce  time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	fsw     *fsnotify.Watcher
	roots   []string
	pending map[string]*time.Timer
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithMatcher selects files by path relative to their root. Nil selects all files.
func WithMatcher(match func(relPath string) bool) Option {
	return func(w *Watcher) { w.match = match }
}

// WithRecursive controls whether subdirectories are watched. Defaults to true.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// New creates a watcher for roots. Nothing is watched until Start.
func New(handler Handler, roots []string, opts ...Option) *Watcher {
	w := &Watcher{
		handler:   handler,
		recursive: true,
		debounce:  DefaultDebounce,
		logger:    zap.NewNop(),
		pending:   make(map[string]*time.Timer),
	}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			w.roots = append(w.roots, filepath.Clean(abs))
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching every root, creating missing ones. It returns once
// the watches are registered; events are handled until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	w.done = make(chan struct{})
	for _, root := range w.roots {
		if err := w.watchTreeLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.logger.Info("Watching inbox directories", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	w.wg.Add(1)
	go w.loop(ctx, fsw, w.done)
	return nil
}

func (w *Watcher) watchTreeLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !w.recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			go w.Stop()
			return
		case <-done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	_, rel, ok := w.locate(path)
	if !ok {
		return
	}
	w.logger.Debug("Watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.cancel(path)
		if w.selected(rel) {
			w.remove(path)
		}
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) && w.recursive {
			w.addSubtree(path)
		}
		return
	}
	if w.selected(rel) {
		w.schedule(path)
	}
}

// addSubtree watches a directory created under a root and indexes files already inside it.
func (w *Watcher) addSubtree(dir string) {
	w.mu.Lock()
	if w.fsw != nil {
		if err := w.watchTreeLocked(dir); err != nil {
			w.logger.Warn("Failed to watch directory", zap.String("path", dir), zap.Error(err))
		}
	}
	w.mu.Unlock()
	w.scan(dir)
}

// locate returns the root containing path and path relative to it.
func (w *Watcher) locate(path string) (root, rel string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		rel, err := filepath.Rel(r, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return r, rel, true
	}
	return "", "", false
}

func (w *Watcher) selected(rel string) bool {
	return w.match == nil || w.match(rel)
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		// A newer timer may have replaced this one while it waited for the lock.
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.index(path)
	})
	w.pending[path] = t
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) baseContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

func (w *Watcher) index(path string) {
	indexed, err := w.handler.IndexFile(w.baseContext(), path)
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		w.logger.Warn("Failed to index inbox file", zap.String("path", path), zap.Error(err))
	case indexed:
		w.logger.Info("Indexed inbox file", zap.String("path", path))
	}
}

func (w *Watcher) remove(path string) {
	removed, err := w.handler.RemoveFile(w.baseContext(), path)
	if err != nil {
		w.logger.Warn("Failed to remove inbox file", zap.String("path", path), zap.Error(err))
		return
	}
	if removed {
		w.logger.Info("Removed inbox file", zap.String("path", path))
	}
}

// Sync indexes every selected file already present under the roots.
func (w *Watcher) Sync() {
	for _, root := range w.Directories() {
		w.scan(root)
	}
}

func (w *Watcher) scan(dir string) {
	root, _, ok := w.locate(dir)
	if !ok {
		root = dir
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err == nil && w.selected(rel) {
			w.index(path)
		}
		return nil
	})
}

// AddDirectory starts watching another root and, if sync is set, indexes its existing files.
func (w *Watcher) AddDirectory(root string, sync bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	for _, r := range w.roots {
		if r == abs {
			w.mu.Unlock()
			return nil
		}
	}
	if w.fsw != nil {
		if err := w.watchTreeLocked(abs); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	w.roots = append(w.roots, abs)
	w.mu.Unlock()
	if sync {
		w.scan(abs)
	}
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Stop stops watching and cancels pending index calls. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	close(w.done)
	_ = w.fsw.Close()
	w.fsw = nil
	w.mu.Unlock()
	w.wg.Wait()
}
