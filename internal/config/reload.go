package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ReloadableConfig watches the config file and swaps in each valid new
// version. Watchers are told about every successful swap.
type ReloadableConfig struct {
	path      string
	current   atomic.Value // *Config
	mu        sync.RWMutex
	watchers  []func(old, new *Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	closeOnce sync.Once
	reloading int32 // atomic flag to prevent concurrent reloads
	logger    *slog.Logger
}

// NewReloadable loads path and starts watching it.
func NewReloadable(path string, logger *slog.Logger) (*ReloadableConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("initial config load: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &ReloadableConfig{
		path:   path,
		stopCh: make(chan struct{}),
		logger: logger,
	}
	r.current.Store(cfg)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen too.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}

	r.watcher = watcher
	go r.watchLoop()

	return r, nil
}

// Get returns the current configuration.
func (r *ReloadableConfig) Get() *Config {
	return r.current.Load().(*Config)
}

// Watch registers a callback to be called when config changes.
// The callback receives both the old and new configurations.
func (r *ReloadableConfig) Watch(fn func(old, new *Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

// Reload forces a config reload from disk.
func (r *ReloadableConfig) Reload() error {
	if !atomic.CompareAndSwapInt32(&r.reloading, 0, 1) {
		return fmt.Errorf("reload already in progress")
	}
	defer atomic.StoreInt32(&r.reloading, 0)

	newCfg, err := Load(r.path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	oldCfg := r.Get()
	if err := validateTransition(oldCfg, newCfg); err != nil {
		return fmt.Errorf("validate transition: %w", err)
	}

	r.current.Store(newCfg)

	r.mu.RLock()
	watchers := make([]func(old, new *Config), len(r.watchers))
	copy(watchers, r.watchers)
	r.mu.RUnlock()

	for _, fn := range watchers {
		go fn(oldCfg, newCfg)
	}
	return nil
}

// validateTransition rejects changes that need a process restart.
func validateTransition(old, new *Config) error {
	if old.Metrics.Listen != new.Metrics.Listen {
		return fmt.Errorf("metrics listen address change requires restart: %q -> %q", old.Metrics.Listen, new.Metrics.Listen)
	}
	if old.Metrics.Pprof != new.Metrics.Pprof {
		return fmt.Errorf("metrics pprof change requires restart")
	}
	return nil
}

func (r *ReloadableConfig) watchLoop() {
	target := filepath.Clean(r.path)
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := r.Reload(); err != nil {
					r.logger.Warn("config reload failed", "path", r.path, "error", err)
				} else {
					r.logger.Info("config reloaded", "path", r.path)
				}
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("config watcher error", "error", err)
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the file watcher.
func (r *ReloadableConfig) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		err = r.watcher.Close()
	})
	return err
}
