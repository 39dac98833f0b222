package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/logfields"
)

// Reloader receives validated configuration updates.
type Reloader interface {
	Config() *config.Config
	ReloadConfig(ctx context.Context, cfg *config.Config) error
}

// ConfigWatcher monitors the pipeline descriptor and triggers reloads.
type ConfigWatcher struct {
	configPath   string
	daemon       Reloader
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
}

// NewConfigWatcher creates a watcher for the given descriptor path.
func NewConfigWatcher(configPath string, daemon Reloader) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return &ConfigWatcher{
		configPath:   absPath,
		daemon:       daemon,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Start begins monitoring the descriptor file.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	// Watch the containing directory; editors replace files on save, which
	// drops a watch placed on the file itself.
	configDir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(configDir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", configDir, err)
	}

	slog.Info("Starting configuration watcher", logfields.Path(cw.configPath))

	go cw.watchLoop(ctx)
	go cw.reloadLoop(ctx)

	return nil
}

// Stop stops the configuration watcher.
func (cw *ConfigWatcher) Stop(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	slog.Info("Stopping configuration watcher")

	close(cw.stopChan)

	if cw.watcher != nil {
		if err := cw.watcher.Close(); err != nil {
			slog.Error("Error closing file watcher", logfields.Error(err))
		}
	}

	return nil
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	configFile := filepath.Base(cw.configPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopChan:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != configFile {
				continue
			}

			switch {
			case event.Op&fsnotify.Write == fsnotify.Write:
				slog.Debug("Config file write detected", logfields.Path(event.Name))
				cw.triggerReload()
			case event.Op&fsnotify.Create == fsnotify.Create:
				slog.Debug("Config file create detected", logfields.Path(event.Name))
				cw.triggerReload()
			case event.Op&fsnotify.Rename == fsnotify.Rename:
				slog.Debug("Config file rename detected", logfields.Path(event.Name))
				cw.triggerReload()
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				slog.Warn("Config file removed", logfields.Path(event.Name))
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", logfields.Error(err))
		}
	}
}

// reloadLoop collapses rapid successive change events into one reload.
func (cw *ConfigWatcher) reloadLoop(ctx context.Context) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-cw.stopChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-cw.reloadChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(cw.debounceTime, func() {
				if err := cw.performReload(ctx); err != nil {
					slog.Error("Failed to reload configuration", logfields.Error(err))
				}
			})
		}
	}
}

func (cw *ConfigWatcher) triggerReload() {
	select {
	case cw.reloadChan <- struct{}{}:
	default:
		// Reload already pending
	}
}

// performReload loads and applies the new descriptor. A descriptor that fails
// to parse or validate leaves the running configuration untouched.
func (cw *ConfigWatcher) performReload(ctx context.Context) error {
	slog.Info("Reloading configuration", logfields.Path(cw.configPath))

	newConfig, err := config.Load(cw.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}

	if warn := cw.checkRestartRequired(newConfig); warn != "" {
		slog.Warn(warn)
	}

	if err := cw.daemon.ReloadConfig(ctx, newConfig); err != nil {
		return fmt.Errorf("failed to apply new configuration: %w", err)
	}

	slog.Info("Configuration reloaded successfully")
	return nil
}

// checkRestartRequired flags changes the running daemon cannot pick up.
func (cw *ConfigWatcher) checkRestartRequired(newConfig *config.Config) string {
	current := cw.daemon.Config()

	if newConfig.Daemon.Listen != current.Daemon.Listen {
		return "Listen address change requires daemon restart"
	}
	if newConfig.Daemon.Workers != current.Daemon.Workers ||
		newConfig.Daemon.QueueSize != current.Daemon.QueueSize {
		return "Worker pool changes require daemon restart"
	}
	if newConfig.Daemon.StatePath != current.Daemon.StatePath {
		return "State path change requires daemon restart"
	}

	return ""
}
