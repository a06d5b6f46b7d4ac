package devserver

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/frontbuild/internal/logfields"
)

// watcher turns filesystem events under the project into rebuild requests.
type watcher struct {
	fs     *fsnotify.Watcher
	root   string
	skip   map[string]bool
	logger *slog.Logger

	debounce time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	requests chan struct{}

	// structural records that files were added, removed or renamed.
	structural atomic.Bool
}

func newWatcher(root string, skip []string, debounce time.Duration, logger *slog.Logger) (*watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fs:       fs,
		root:     root,
		skip:     make(map[string]bool, len(skip)),
		logger:   logger,
		debounce: debounce,
		requests: make(chan struct{}, 1),
	}
	for _, dir := range skip {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			w.skip[abs] = true
		}
	}
	if err := w.addDirsRecursive(root); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return w, nil
}

func (w *watcher) skipDir(path string) bool {
	base := filepath.Base(path)
	if path != w.root && (strings.HasPrefix(base, ".") || base == "node_modules") {
		return true
	}
	return w.skip[path]
}

func (w *watcher) addDirsRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.skipDir(path) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.logger.Warn("Watch add failed", logfields.Path(path), logfields.Error(err))
		}
		return nil
	})
}

// run forwards events until ctx is done or the watcher is closed.
func (w *watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", logfields.Error(err))
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	if shouldIgnoreEvent(ev.Name) || w.inSkippedDir(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = w.addDirsRecursive(ev.Name)
		}
	}
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.structural.Store(true)
	}
	w.logger.Debug("File change detected", logfields.Path(ev.Name), "op", ev.Op.String())
	w.trigger()
}

func (w *watcher) inSkippedDir(path string) bool {
	for dir := filepath.Dir(path); len(dir) >= len(w.root) && dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		if w.skipDir(dir) {
			return true
		}
	}
	return false
}

// trigger restarts the debounce timer; one request is queued when it fires.
func (w *watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.requests <- struct{}{}:
		default:
		}
	})
}

func (w *watcher) close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}

// shouldIgnoreEvent reports editor and OS files that never feed a build.
func shouldIgnoreEvent(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#") {
		return true
	}
	return base == "Thumbs.db"
}
