// Package reload watches the configuration file and the object directory and
// reports debounced changes to the application loop.
package reload

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"
)

// ReloadType defines the type of reload event
type ReloadType string

const (
	ReloadTypeConfig  ReloadType = "config"
	ReloadTypeObjects ReloadType = "objects"
)

// ReloadEvent is one debounced batch of changes of the same type.
type ReloadEvent struct {
	Type      ReloadType `json:"type"`
	Files     []string   `json:"files"`
	Timestamp time.Time  `json:"timestamp"`
}

// Source describes the files behind the event for logging.
func (e ReloadEvent) Source() string {
	if len(e.Files) == 0 {
		return "manual"
	}
	return strings.Join(e.Files, ",")
}

// ReloadConfig holds configuration for the reload manager
type ReloadConfig struct {
	Enabled         bool          `json:"enabled"`
	Debounce        time.Duration `json:"debounce"`
	WatchConfigFile bool          `json:"watch_config_file"`

	// Set by the application, not read from configuration.
	ConfigFile string   `json:"-"`
	Directory  string   `json:"-"`
	Extensions []string `json:"-"`
}

// DefaultReloadConfig returns a default reload configuration
func DefaultReloadConfig() *ReloadConfig {
	return &ReloadConfig{
		Enabled:         true,
		Debounce:        500 * time.Millisecond,
		WatchConfigFile: true,
		Extensions:      []string{".cue"},
	}
}

// LoadReloadConfig reads the reload section from the configuration provider.
func LoadReloadConfig(cfg config.Provider) (*ReloadConfig, error) {
	c := DefaultReloadConfig()
	if cfg == nil {
		return c, nil
	}

	var err error
	if c.Enabled, err = cfg.GetBool("reload.enabled", c.Enabled); err != nil {
		return nil, fmt.Errorf("failed to get reload enabled: %w", err)
	}
	if c.Debounce, err = cfg.GetDuration("reload.debounce", c.Debounce); err != nil {
		return nil, fmt.Errorf("failed to get reload debounce: %w", err)
	}
	if c.WatchConfigFile, err = cfg.GetBool("reload.watch_config_file", c.WatchConfigFile); err != nil {
		return nil, fmt.Errorf("failed to get reload watch config file: %w", err)
	}
	if c.Debounce <= 0 {
		return nil, fmt.Errorf("reload debounce must be positive, got %s", c.Debounce)
	}
	return c, nil
}

// ReloadStats tracks reload statistics
type ReloadStats struct {
	TotalReloads       int64         `json:"total_reloads"`
	SuccessfulReloads  int64         `json:"successful_reloads"`
	FailedReloads      int64         `json:"failed_reloads"`
	DroppedEvents      int64         `json:"dropped_events"`
	LastReloadTime     time.Time     `json:"last_reload_time"`
	LastReloadDuration time.Duration `json:"last_reload_duration"`
	LastError          string        `json:"last_error,omitempty"`
	ConfigReloads      int64         `json:"config_reloads"`
	ObjectReloads      int64         `json:"object_reloads"`
}

// ReloadManager turns file system notifications into ReloadEvents. It never
// applies a reload itself; the consumer of Events does that and reports back
// through Complete.
type ReloadManager struct {
	config  *ReloadConfig
	logger  logging.Logger
	watcher *fsnotify.Watcher
	events  chan ReloadEvent
	stats   ReloadStats
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewReloadManager creates a new reload manager
func NewReloadManager(cfg *ReloadConfig, logger logging.Logger) (*ReloadManager, error) {
	if cfg == nil {
		cfg = DefaultReloadConfig()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	manager := &ReloadManager{
		config: cfg,
		logger: logger.With("component", "reload"),
		events: make(chan ReloadEvent, 4),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Enabled {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		manager.watcher = watcher
	}

	return manager, nil
}

// Events returns the channel debounced reload events are delivered on.
func (rm *ReloadManager) Events() <-chan ReloadEvent {
	return rm.events
}

// Start registers the watches and starts the event loop.
func (rm *ReloadManager) Start() error {
	if !rm.config.Enabled {
		rm.logger.Info("Hot reload is disabled")
		return nil
	}

	if rm.config.Directory != "" {
		if err := rm.watchTree(rm.config.Directory); err != nil {
			return fmt.Errorf("failed to watch object directory: %w", err)
		}
	}

	if rm.config.WatchConfigFile && rm.config.ConfigFile != "" {
		// Editors replace files by rename, which drops a watch on the file itself.
		dir := filepath.Dir(rm.config.ConfigFile)
		if err := rm.watcher.Add(dir); err != nil {
			rm.logger.Warn("Failed to watch config file", "file", rm.config.ConfigFile, "error", err.Error())
		} else {
			rm.logger.Info("Watching configuration file", "file", rm.config.ConfigFile)
		}
	}

	rm.wg.Add(1)
	go rm.watchFiles()

	rm.logger.Info("Reload manager started",
		"directory", rm.config.Directory,
		"debounce", rm.config.Debounce.String())
	return nil
}

// Stop stops the reload manager
func (rm *ReloadManager) Stop() error {
	rm.cancel()
	if !rm.config.Enabled {
		return nil
	}

	var err error
	if rm.watcher != nil {
		err = rm.watcher.Close()
	}
	rm.wg.Wait()

	rm.logger.Info("Reload manager stopped")
	return err
}

// Trigger queues a reload of the given type without a file change.
func (rm *ReloadManager) Trigger(reloadType ReloadType) {
	rm.emit(ReloadEvent{Type: reloadType, Timestamp: time.Now()})
}

// Complete records the outcome of applying event.
func (rm *ReloadManager) Complete(event ReloadEvent, duration time.Duration, err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.stats.TotalReloads++
	rm.stats.LastReloadTime = event.Timestamp
	rm.stats.LastReloadDuration = duration
	switch event.Type {
	case ReloadTypeConfig:
		rm.stats.ConfigReloads++
	case ReloadTypeObjects:
		rm.stats.ObjectReloads++
	}

	if err != nil {
		rm.stats.FailedReloads++
		rm.stats.LastError = err.Error()
		rm.logger.Error("Reload failed", "type", string(event.Type), "source", event.Source(), "error", err.Error())
		return
	}
	rm.stats.SuccessfulReloads++
	rm.logger.Info("Reload completed", "type", string(event.Type), "source", event.Source(), "duration", duration.String())
}

// GetStats returns reload statistics
func (rm *ReloadManager) GetStats() ReloadStats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.stats
}

func (rm *ReloadManager) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := rm.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		rm.logger.Debug("watching directory", "path", path)
		return nil
	})
}

// watchFiles monitors files for changes
func (rm *ReloadManager) watchFiles() {
	defer rm.wg.Done()

	debounceTimer := time.NewTimer(rm.config.Debounce)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	defer debounceTimer.Stop()

	pending := make(map[string]ReloadType)

	for {
		select {
		case <-rm.ctx.Done():
			return

		case event, ok := <-rm.watcher.Events:
			if !ok {
				return
			}

			rm.logger.Debug("file system event", "file", event.Name, "operation", event.Op.String())

			if event.Has(fsnotify.Create) && rm.inDirectory(event.Name) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := rm.watchTree(event.Name); err != nil {
						rm.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err.Error())
					}
				}
			}

			reloadType := rm.classify(event.Name)
			if reloadType == "" || (event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write)) {
				continue
			}

			pending[event.Name] = reloadType
			debounceTimer.Reset(rm.config.Debounce)

		case <-debounceTimer.C:
			rm.flush(pending)
			pending = make(map[string]ReloadType)

		case err, ok := <-rm.watcher.Errors:
			if !ok {
				return
			}
			rm.logger.Error("File watcher error", "error", err.Error())
		}
	}
}

// flush emits one event per reload type. Config events go first so that
// objects are reloaded against the new configuration.
func (rm *ReloadManager) flush(pending map[string]ReloadType) {
	byType := make(map[ReloadType][]string)
	for file, t := range pending {
		byType[t] = append(byType[t], file)
	}

	now := time.Now()
	for _, t := range []ReloadType{ReloadTypeConfig, ReloadTypeObjects} {
		files, ok := byType[t]
		if !ok {
			continue
		}
		sort.Strings(files)
		rm.emit(ReloadEvent{Type: t, Files: files, Timestamp: now})
	}
}

func (rm *ReloadManager) emit(event ReloadEvent) {
	select {
	case rm.events <- event:
	default:
		rm.mu.Lock()
		rm.stats.DroppedEvents++
		rm.mu.Unlock()
		rm.logger.Warn("Reload queue full, event dropped", "type", string(event.Type))
	}
}

// classify determines the reload type based on file path
func (rm *ReloadManager) classify(path string) ReloadType {
	if rm.config.ConfigFile != "" && filepath.Clean(path) == filepath.Clean(rm.config.ConfigFile) {
		return ReloadTypeConfig
	}
	if rm.inDirectory(path) {
		ext := strings.ToLower(filepath.Ext(path))
		if slices.Contains(rm.config.Extensions, ext) {
			return ReloadTypeObjects
		}
		// a removed subdirectory takes its objects with it
		if filepath.Ext(path) == "" {
			return ReloadTypeObjects
		}
	}
	return ""
}

func (rm *ReloadManager) inDirectory(path string) bool {
	if rm.config.Directory == "" {
		return false
	}
	rel, err := filepath.Rel(rm.config.Directory, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
