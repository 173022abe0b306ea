package watcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"github.com/fsnotify/fsnotify"
)

// Offerer announces a file to the room.
type Offerer interface {
	OfferFile(path string) error
}

// Watcher offers every file that lands in the share folder once it stops changing.
type Watcher struct {
	dir       string
	opts      Options
	offerer   Offerer
	fsWatcher *fsnotify.Watcher

	debounceMu  sync.Mutex
	debounceMap map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(parentCtx context.Context, dir string, opts Options, offerer Offerer) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultOptions().Debounce
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &Watcher{
		dir:         dir,
		opts:        opts,
		offerer:     offerer,
		fsWatcher:   fsWatcher,
		debounceMap: make(map[string]*time.Timer),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start creates the share folder if needed and begins watching it.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create share folder: %w", err)
	}
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	logger.Log.Info("📂 Share folder watcher started", "path", w.dir)
	w.wg.Add(1)
	go w.eventLoop()
	return nil
}

// Stop ends the watch. Pending offers are dropped.
func (w *Watcher) Stop() {
	w.cancel()
	w.fsWatcher.Close()
	w.wg.Wait()
	w.debounceMu.Lock()
	for path, timer := range w.debounceMap {
		timer.Stop()
		delete(w.debounceMap, path)
	}
	w.debounceMu.Unlock()
	logger.Log.Info("Share folder watcher stopped")
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logger.Log.Warn("Share folder watcher error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.opts.Allows(event.Name) {
		return
	}
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.debounce(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.forget(event.Name)
	}
}

// debounce restarts the quiet period for path.
func (w *Watcher) debounce(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if timer, ok := w.debounceMap[path]; ok {
		timer.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceMap, path)
		w.debounceMu.Unlock()
		w.offer(path)
	})
}

func (w *Watcher) forget(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if timer, ok := w.debounceMap[path]; ok {
		timer.Stop()
		delete(w.debounceMap, path)
	}
}

func (w *Watcher) offer(path string) {
	if w.ctx.Err() != nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if err := w.offerer.OfferFile(path); err != nil {
		logger.Log.Warn("Failed to offer shared file", "path", path, "err", err)
		return
	}
	logger.Log.Info("Offered shared file", "path", path, "size", info.Size())
}
