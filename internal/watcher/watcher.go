package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the card for file system changes
type Watcher struct {
	root          string
	filterConfig  FilterConfig
	events        chan FileEvent
	errors        chan error
	fsWatcher     *fsnotify.Watcher
	debounceMap   map[string]*time.Timer
	debounceMu    sync.Mutex
	debounceDelay time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewWatcher creates a watcher for the card mounted at root
func NewWatcher(root string, filterConfig FilterConfig, appCtx context.Context) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	delay := filterConfig.Debounce
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(appCtx)
	return &Watcher{
		root:          root,
		filterConfig:  filterConfig,
		events:        make(chan FileEvent, 100),
		errors:        make(chan error, 10),
		fsWatcher:     fsWatcher,
		debounceMap:   make(map[string]*time.Timer),
		debounceDelay: delay,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start begins watching the card
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(w.root); err != nil {
		return err
	}
	if w.filterConfig.WatchSubdirectories {
		w.addSubdirectories(w.root)
	}
	logger.Log.Info("File watcher started", "path", w.root)
	w.wg.Add(2)
	go w.eventLoop()
	go w.errorLoop()
	return nil
}

// Stop stops the watcher and cleans up resources
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		w.fsWatcher.Close()
		w.wg.Wait()
		w.debounceMu.Lock()
		for _, timer := range w.debounceMap {
			timer.Stop()
		}
		w.debounceMap = nil
		w.debounceMu.Unlock()
		logger.Log.Info("File watcher stopped")
	})
}

// Events returns the channel of file events. It is never closed; select on
// the context given to NewWatcher as well.
func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

// Errors returns the channel of errors
func (w *Watcher) Errors() <-chan error {
	return w.errors
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
		}
	}
}

func (w *Watcher) errorLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				logger.Log.Error("Error channel full, dropping error", "err", err)
			}
		}
	}
}

// cardPath turns a host path below root into "/a/b".
func (w *Watcher) cardPath(hostPath string) string {
	rel, err := filepath.Rel(w.root, hostPath)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

// handleEvent processes a single fsnotify event
func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := w.cardPath(event.Name)
	if !w.filterConfig.ShouldProcess(name) {
		return
	}
	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventCreate
		if w.filterConfig.WatchSubdirectories {
			if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
				w.addSubdirectories(event.Name)
			}
		}
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventWrite
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventRemove
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventRename
	default:
		return
	}
	w.debounceEvent(eventType, name)
}

// debounceEvent debounces rapid events for the same file
func (w *Watcher) debounceEvent(eventType EventType, filePath string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceMap == nil {
		return
	}
	if timer, exists := w.debounceMap[filePath]; exists {
		timer.Stop()
	}
	timer := time.AfterFunc(w.debounceDelay, func() {
		w.debounceMu.Lock()
		if w.debounceMap != nil {
			delete(w.debounceMap, filePath)
		}
		w.debounceMu.Unlock()
		fileEvent := FileEvent{
			Type:      eventType,
			Path:      filePath,
			Timestamp: time.Now(),
		}
		select {
		case w.events <- fileEvent:
		case <-w.ctx.Done():
		default:
			logger.Log.Warn("Events channel full, dropping event", "path", filePath)
		}
	})
	w.debounceMap[filePath] = timer
}

// addSubdirectories recursively adds subdirectories to the watcher
func (w *Watcher) addSubdirectories(dir string) {
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Continue on error
		}
		if d.IsDir() && p != w.root {
			if err := w.fsWatcher.Add(p); err != nil {
				logger.Log.Warn("Failed to watch subdirectory", "path", p, "err", err)
			}
		}
		return nil
	})
}
