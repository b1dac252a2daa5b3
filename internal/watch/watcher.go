// Package watch triggers a callback once new build outputs stop changing.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	defaultDebounce = 750 * time.Millisecond
	defaultTick     = 100 * time.Millisecond
)

// SettledFunc receives the artifact paths that changed during one quiet period.
type SettledFunc func(ctx context.Context, paths []string)

// Option customizes a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a path must stay quiet before it settles.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithTick sets the interval at which pending paths and missing directories are checked.
func WithTick(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.tick = d
		}
	}
}

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// Watcher watches candidate output directories for new artifacts.
type Watcher struct {
	mu        sync.Mutex
	fs        *fsnotify.Watcher
	dirs      []string
	watched   map[string]bool
	extension string
	prefix    string
	debounce  time.Duration
	tick      time.Duration
	pending   map[string]time.Time
	onSettled SettledFunc
	logger    *zap.Logger
	now       func() time.Time

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a watcher over dirs for files ending in "."+extension that do
// not already start with prefix.
func New(dirs []string, extension, prefix string, onSettled SettledFunc, opts ...Option) (*Watcher, error) {
	if onSettled == nil {
		return nil, errors.New("watch: settled callback is required")
	}
	if len(dirs) == 0 {
		return nil, errors.New("watch: at least one directory is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	w := &Watcher{
		fs:        fsw,
		dirs:      append([]string{}, dirs...),
		watched:   map[string]bool{},
		extension: strings.TrimPrefix(extension, "."),
		prefix:    prefix,
		debounce:  defaultDebounce,
		tick:      defaultTick,
		pending:   map[string]time.Time{},
		onSettled: onSettled,
		logger:    zap.NewNop(),
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Start adds every existing directory and begins the event loop. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.addMissing(false)
	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fs.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.fs.Close()
}

// Watched returns the directories currently registered with fsnotify.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for dir := range w.watched {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch: fsnotify error", zap.Error(err))
		case <-ticker.C:
			w.addMissing(true)
			if paths := w.settled(); len(paths) > 0 {
				w.logger.Info("watch: artifacts settled", zap.Strings("paths", paths))
				w.onSettled(ctx, paths)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			w.forget(event.Name)
		}
		return
	}
	if !w.relevant(event.Name) {
		return
	}
	w.logger.Debug("watch: artifact changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
	w.mu.Lock()
	w.pending[event.Name] = w.now()
	w.mu.Unlock()
}

func (w *Watcher) relevant(path string) bool {
	name := filepath.Base(path)
	if strings.HasSuffix(name, ".tmp") {
		return false
	}
	if w.prefix != "" && strings.HasPrefix(name, w.prefix) {
		return false
	}
	return strings.HasSuffix(name, "."+w.extension)
}

// settled removes and returns pending paths that have been quiet for the debounce interval.
func (w *Watcher) settled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	now := w.now()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
		}
	}
	// Wait until every pending path is quiet so one build yields one callback.
	if len(ready) != len(w.pending) {
		return nil
	}
	for _, path := range ready {
		delete(w.pending, path)
	}
	sort.Strings(ready)
	return ready
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, path)
	if w.watched[path] {
		delete(w.watched, path)
	}
}

// addMissing registers candidate directories that have appeared since the
// last check. Artifacts inside late directories are queued when seed is set.
func (w *Watcher) addMissing(seed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, dir := range w.dirs {
		if w.watched[dir] {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			w.logger.Warn("watch: add directory failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		w.watched[dir] = true
		w.logger.Info("watch: watching directory", zap.String("dir", dir))
		if seed {
			w.seed(dir)
		}
	}
}

// seed queues artifacts already present in dir. Caller holds w.mu.
func (w *Watcher) seed(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	now := w.now()
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if w.relevant(path) {
			w.pending[path] = now
		}
	}
}
