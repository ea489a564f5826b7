// Package watcher reloads content state when the data directory changes.
//
// Used in debug mode only: rapid file events are debounced into one reload,
// which re-reads the model and clears memoized revisions so local edits show
// up on the next request. Production servers never construct a watcher; they
// rely on restarts.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/coursegen/internal/logging"
)

// ReloadFunc is called once per debounced burst of file changes.
type ReloadFunc func(ctx context.Context) error

// ContentFilter matches the files the model is built from.
func ContentFilter(path string) bool {
	switch filepath.Ext(path) {
	case ".yml", ".yaml", ".md":
		return true
	}
	return false
}

// NoGitFilter ignores changes under .git, where every command touches
// files.
func NoGitFilter(path string) bool {
	return !strings.Contains(path, string(filepath.Separator)+".git"+string(filepath.Separator))
}

// Watcher debounces filesystem events under the data directory into reload
// calls.
type Watcher struct {
	fs     *fsnotify.Watcher
	reload ReloadFunc
	delay  time.Duration
	log    logging.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending int
}

// New creates a watcher over dataDir, watching it recursively.
func New(dataDir string, reload ReloadFunc, delay time.Duration, log logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.NopLogger{}
	}
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:     fs,
		reload: reload,
		delay:  delay,
		log:    log.WithComponent("watcher"),
	}

	err = filepath.Walk(dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && NoGitFilter(path+string(filepath.Separator)) {
			return w.fs.Add(path)
		}
		return nil
	})
	if err != nil {
		fs.Close()
		return nil, err
	}
	return w, nil
}

// Start runs the event loop until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn(ctx, err, "watch error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !NoGitFilter(event.Name) {
		return
	}

	// New directories (e.g. a freshly added course) must be watched too.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fs.Add(event.Name)
		}
	}
	if !ContentFilter(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending++
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		w.flush(ctx)
	})
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	count := w.pending
	w.pending = 0
	w.mu.Unlock()
	if count == 0 {
		return
	}

	w.log.Info(ctx, "content changed, reloading", "events", count)
	if err := w.reload(ctx); err != nil {
		w.log.Error(ctx, err, "reload failed")
	}
}
