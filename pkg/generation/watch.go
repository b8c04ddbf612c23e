package generation

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mcphub/hub/pkg/log"
)

func statPath(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

const defaultDebounceInterval = 500 * time.Millisecond

// Loader reads and validates the config at its current on-disk state,
// returning the snapshot Promote expects. Parsing/validation is
// pkg/config's concern; the watcher only decides when to call it.
type Loader func(ctx context.Context) (any, error)

// WatcherConfig configures a Watcher (spec's generation.watchPaths and
// generation.autoReload, §6 top-level config).
type WatcherConfig struct {
	Paths             []string
	DebounceInterval  time.Duration
	PollInterval      time.Duration
	Loader            Loader
}

func (c WatcherConfig) withDefaults() WatcherConfig {
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = defaultDebounceInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	return c
}

// Watcher reloads the config and calls Controller.Promote whenever one of
// its watched paths changes, preferring fsnotify and falling back to
// stat-based polling when the watch itself can't be established.
type Watcher struct {
	cfg        WatcherConfig
	controller *Controller

	fsWatcher *fsnotify.Watcher
	modTimes  map[string]time.Time

	mu        sync.Mutex
	timer     *time.Timer
	stopCh    chan struct{}
	stopOnce  sync.Once
	running   bool
}

// NewWatcher builds a Watcher. Call Start to begin watching.
func NewWatcher(cfg WatcherConfig, controller *Controller) *Watcher {
	return &Watcher{
		cfg:        cfg.withDefaults(),
		controller: controller,
		modTimes:   make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}
}

// Start begins watching. If fsnotify can't establish a watch (e.g. an
// unsupported filesystem), it falls back to polling modtimes at
// PollInterval.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("generation: fsnotify unavailable (%v), falling back to polling", err)
		go w.pollLoop(ctx)
		return nil
	}
	w.fsWatcher = fsWatcher

	for _, path := range w.cfg.Paths {
		if err := fsWatcher.Add(path); err != nil {
			log.Warnf("generation: failed to watch %s (%v), falling back to polling", path, err)
			fsWatcher.Close()
			w.fsWatcher = nil
			go w.pollLoop(ctx)
			return nil
		}
	}

	go w.watchLoop(ctx)
	return nil
}

// Stop ends the watch, idempotently.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}
}

// IsRunning reports whether the watcher is currently active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warnf("generation: config watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if !w.watchesPath(event.Name) {
		return
	}
	w.triggerReloadDebounced(ctx)
}

func (w *Watcher) watchesPath(name string) bool {
	for _, p := range w.cfg.Paths {
		if filepath.Clean(p) == filepath.Clean(name) {
			return true
		}
	}
	return false
}

// triggerReloadDebounced coalesces a burst of filesystem events (e.g. an
// editor's write-then-rename save sequence) into one reload.
func (w *Watcher) triggerReloadDebounced(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.DebounceInterval, func() { w.reload(ctx) })
}

func (w *Watcher) reload(ctx context.Context) {
	if w.cfg.Loader == nil {
		return
	}
	snapshot, err := w.cfg.Loader(ctx)
	if err != nil {
		log.Errorf("generation: config reload failed: %v", err)
		return
	}
	if _, err := w.controller.Promote(ctx, snapshot); err != nil {
		log.Errorf("generation: promoting reloaded config failed: %v", err)
	}
}

// pollLoop is the stat-based fallback when fsnotify can't be established,
// mirroring the teacher pack's watcher pattern: compare mtimes at a fixed
// cadence and debounce the same way an inotify event would.
func (w *Watcher) pollLoop(ctx context.Context) {
	w.updateModTimes()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.checkForChanges() {
				w.triggerReloadDebounced(ctx)
			}
		}
	}
}

func (w *Watcher) updateModTimes() {
	for _, path := range w.cfg.Paths {
		if info, err := statPath(path); err == nil {
			w.modTimes[path] = info
		}
	}
}

func (w *Watcher) checkForChanges() bool {
	changed := false
	for _, path := range w.cfg.Paths {
		info, err := statPath(path)
		if err != nil {
			continue
		}
		if prev, ok := w.modTimes[path]; !ok || info.After(prev) {
			w.modTimes[path] = info
			changed = true
		}
	}
	return changed
}
