// Package watcher feeds update payloads dropped into a spool directory to a
// handler. Files are processed one at a time and then moved to processed/
// or failed/.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Subdirectories that receive handled payloads
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// HandlerFunc applies one payload
type HandlerFunc func(ctx context.Context, payload []byte) error

// Watcher watches a spool directory for *.json payloads
type Watcher struct {
	dir      string
	handle   HandlerFunc
	debounce time.Duration
	logger   *zap.Logger
}

// New creates a new spool watcher
func New(dir string, handle HandlerFunc, logger *zap.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		handle:   handle,
		debounce: 500 * time.Millisecond,
		logger:   logger.Named("watcher"),
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Watch processes payloads already in the directory, then every payload
// that arrives. It blocks until the context is cancelled or an error occurs.
func (w *Watcher) Watch(ctx context.Context) error {
	for _, sub := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("create spool directory: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("watching spool directory", zap.String("dir", w.dir))

	if err := w.drain(ctx); err != nil {
		return err
	}

	ready := make(chan string, 64)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, timer := range timers {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPayload(event.Name) || filepath.Dir(event.Name) != filepath.Clean(w.dir) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Debounce rapid writes to the same file
			path := event.Name
			if timer, exists := timers[path]; exists {
				timer.Stop()
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})

		case path := <-ready:
			delete(timers, path)
			w.process(ctx, path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain handles payloads that arrived while nobody was watching, oldest
// name first
func (w *Watcher) drain(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read spool directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isPayload(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.process(ctx, filepath.Join(w.dir, name))
	}
	return nil
}

// process applies one payload file and moves it out of the spool
func (w *Watcher) process(ctx context.Context, path string) {
	payload, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}
	dest := ProcessedDir
	if err == nil {
		err = w.handle(ctx, payload)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("payload failed", zap.String("file", filepath.Base(path)), zap.Error(err))
		dest = FailedDir
	} else {
		w.logger.Info("payload applied", zap.String("file", filepath.Base(path)))
	}

	target := filepath.Join(w.dir, dest, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		w.logger.Error("failed to move payload", zap.String("file", path), zap.Error(err))
	}
}

func isPayload(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}
