package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cellvista/gateway/internal/observability"
)

// debounceInterval coalesces bursts of filesystem events (editors often
// write a file several times in quick succession).
const debounceInterval = 500 * time.Millisecond

// ReloadFunc is invoked with the freshly loaded configuration after the
// config file changes on disk.
type ReloadFunc func(cfg *Config)

// Watcher watches the configuration file and triggers reloads.
type Watcher struct {
	path     string
	onReload ReloadFunc
	logger   observability.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	mu      sync.Mutex
	stopped bool
}

// NewWatcher creates a watcher for the given config path.
func NewWatcher(path string, onReload ReloadFunc, logger observability.Logger) (*Watcher, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: many tools replace files by
	// rename, which drops a watch held on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return &Watcher{
		path:     path,
		onReload: onReload,
		logger:   logger,
		watcher:  fsw,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	var timer *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", observability.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration",
			observability.String("path", w.path),
			observability.Error(err),
		)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error("reloaded config invalid, keeping previous configuration",
			observability.Error(err),
		)
		return
	}

	w.logger.Info("configuration reloaded", observability.String("path", w.path))
	w.onReload(cfg)
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	return w.watcher.Close()
}
