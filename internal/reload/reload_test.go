package reload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/geekxflood/common/logging"
)

// mockConfigProvider implements config.Provider for testing
type mockConfigProvider struct {
	data map[string]any
}

func (m *mockConfigProvider) GetString(key string, defaultValue ...string) (string, error) {
	if v, ok := m.data[key].(string); ok {
		return v, nil
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return "", fmt.Errorf("key not found: %s", key)
}

func (m *mockConfigProvider) GetInt(key string, defaultValue ...int) (int, error) {
	if v, ok := m.data[key].(int); ok {
		return v, nil
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return 0, fmt.Errorf("key not found: %s", key)
}

func (m *mockConfigProvider) GetFloat(key string, defaultValue ...float64) (float64, error) {
	if v, ok := m.data[key].(float64); ok {
		return v, nil
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return 0, fmt.Errorf("key not found: %s", key)
}

func (m *mockConfigProvider) GetBool(key string, defaultValue ...bool) (bool, error) {
	if v, ok := m.data[key].(bool); ok {
		return v, nil
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return false, fmt.Errorf("key not found: %s", key)
}

func (m *mockConfigProvider) GetDuration(key string, defaultValue ...time.Duration) (time.Duration, error) {
	if v, ok := m.data[key]; ok {
		switch d := v.(type) {
		case time.Duration:
			return d, nil
		case string:
			return time.ParseDuration(d)
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return 0, fmt.Errorf("key not found: %s", key)
}

func (m *mockConfigProvider) GetStringSlice(key string, defaultValue ...[]string) ([]string, error) {
	if v, ok := m.data[key].([]string); ok {
		return v, nil
	}
	if len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return nil, fmt.Errorf("key not found: %s", key)
}

func (m *mockConfigProvider) GetMap(key string) (map[string]any, error) {
	if v, ok := m.data[key].(map[string]any); ok {
		return v, nil
	}
	return nil, fmt.Errorf("key not found: %s", key)
}

func (m *mockConfigProvider) Exists(key string) bool {
	_, ok := m.data[key]
	return ok
}

func (m *mockConfigProvider) Validate() error {
	return nil
}

// createTestLogger creates a logger for testing
func createTestLogger() logging.Logger {
	logger, _, _ := logging.NewLogger(logging.Config{
		Level:  "debug",
		Format: "json",
	})
	return logger
}

func startManager(t *testing.T, cfg *ReloadConfig) *ReloadManager {
	t.Helper()
	manager, err := NewReloadManager(cfg, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to create reload manager: %v", err)
	}
	if err := manager.Start(); err != nil {
		t.Fatalf("Failed to start reload manager: %v", err)
	}
	t.Cleanup(func() { manager.Stop() })
	return manager
}

func waitEvent(t *testing.T, manager *ReloadManager) ReloadEvent {
	t.Helper()
	select {
	case ev := <-manager.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload event")
		return ReloadEvent{}
	}
}

func expectNoEvent(t *testing.T, manager *ReloadManager, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-manager.Events():
		t.Fatalf("Unexpected reload event: %+v", ev)
	case <-time.After(wait):
	}
}

func TestDefaultReloadConfig(t *testing.T) {
	config := DefaultReloadConfig()

	if !config.Enabled {
		t.Error("Expected reload to be enabled by default")
	}
	if config.Debounce != 500*time.Millisecond {
		t.Errorf("Expected debounce 500ms, got %v", config.Debounce)
	}
	if !config.WatchConfigFile {
		t.Error("Expected config file watching to be enabled by default")
	}
}

func TestLoadReloadConfig(t *testing.T) {
	cfg, err := LoadReloadConfig(&mockConfigProvider{data: map[string]any{
		"reload.enabled":  false,
		"reload.debounce": "2s",
	}})
	if err != nil {
		t.Fatalf("Failed to load reload config: %v", err)
	}
	if cfg.Enabled {
		t.Error("Expected reload to be disabled")
	}
	if cfg.Debounce != 2*time.Second {
		t.Errorf("Expected debounce 2s, got %v", cfg.Debounce)
	}

	_, err = LoadReloadConfig(&mockConfigProvider{data: map[string]any{"reload.debounce": "0s"}})
	if err == nil {
		t.Error("Expected error for zero debounce")
	}
}

func TestNewReloadManagerWithNilLogger(t *testing.T) {
	if _, err := NewReloadManager(nil, nil); err == nil {
		t.Error("Expected error for nil logger")
	}
}

func TestReloadManagerDisabled(t *testing.T) {
	cfg := DefaultReloadConfig()
	cfg.Enabled = false
	cfg.Directory = t.TempDir()

	manager := startManager(t, cfg)
	if err := os.WriteFile(filepath.Join(cfg.Directory, "a.cue"), []byte("objects: []"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectNoEvent(t, manager, 200*time.Millisecond)

	manager.Trigger(ReloadTypeObjects)
	if ev := waitEvent(t, manager); ev.Type != ReloadTypeObjects {
		t.Errorf("Expected manual objects event, got %s", ev.Type)
	}
}

func TestObjectChangesAreDebounced(t *testing.T) {
	cfg := DefaultReloadConfig()
	cfg.Debounce = 100 * time.Millisecond
	cfg.Directory = t.TempDir()

	manager := startManager(t, cfg)

	for _, name := range []string{"a.cue", "b.cue", "a.cue"} {
		if err := os.WriteFile(filepath.Join(cfg.Directory, name), []byte("objects: []"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ev := waitEvent(t, manager)
	if ev.Type != ReloadTypeObjects {
		t.Fatalf("Expected objects event, got %s", ev.Type)
	}
	if len(ev.Files) != 2 {
		t.Errorf("Expected 2 changed files in one event, got %v", ev.Files)
	}
	expectNoEvent(t, manager, 300*time.Millisecond)
}

func TestIgnoredExtensions(t *testing.T) {
	cfg := DefaultReloadConfig()
	cfg.Debounce = 50 * time.Millisecond
	cfg.Directory = t.TempDir()

	manager := startManager(t, cfg)

	if err := os.WriteFile(filepath.Join(cfg.Directory, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectNoEvent(t, manager, 300*time.Millisecond)
}

func TestNewSubdirectoryIsWatched(t *testing.T) {
	cfg := DefaultReloadConfig()
	cfg.Debounce = 50 * time.Millisecond
	cfg.Directory = t.TempDir()

	manager := startManager(t, cfg)

	sub := filepath.Join(cfg.Directory, "site")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// the directory creation itself is an objects event
	waitEvent(t, manager)

	if err := os.WriteFile(filepath.Join(sub, "c.cue"), []byte("objects: []"), 0o644); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, manager)
	if ev.Type != ReloadTypeObjects || len(ev.Files) == 0 || filepath.Base(ev.Files[0]) != "c.cue" {
		t.Errorf("Expected event for site/c.cue, got %+v", ev)
	}
}

func TestConfigFileChange(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configFile, []byte("agent:\n  port: 161\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultReloadConfig()
	cfg.Debounce = 50 * time.Millisecond
	cfg.ConfigFile = configFile

	manager := startManager(t, cfg)

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectNoEvent(t, manager, 200*time.Millisecond)

	if err := os.WriteFile(configFile, []byte("agent:\n  port: 1161\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, manager)
	if ev.Type != ReloadTypeConfig {
		t.Errorf("Expected config event, got %s", ev.Type)
	}
}

func TestComplete(t *testing.T) {
	cfg := DefaultReloadConfig()
	cfg.Enabled = false
	manager, err := NewReloadManager(cfg, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to create reload manager: %v", err)
	}

	manager.Complete(ReloadEvent{Type: ReloadTypeObjects, Timestamp: time.Now()}, time.Millisecond, nil)
	manager.Complete(ReloadEvent{Type: ReloadTypeConfig, Files: []string{"config.yaml"}}, time.Millisecond, errors.New("bad schema"))

	stats := manager.GetStats()
	if stats.TotalReloads != 2 || stats.SuccessfulReloads != 1 || stats.FailedReloads != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.ObjectReloads != 1 || stats.ConfigReloads != 1 {
		t.Errorf("Unexpected per-type counts: %+v", stats)
	}
	if stats.LastError != "bad schema" {
		t.Errorf("Expected last error to be recorded, got %q", stats.LastError)
	}
}

func TestQueueOverflowIsCounted(t *testing.T) {
	cfg := DefaultReloadConfig()
	cfg.Enabled = false
	manager, err := NewReloadManager(cfg, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to create reload manager: %v", err)
	}

	for i := 0; i < cap(manager.events)+3; i++ {
		manager.Trigger(ReloadTypeObjects)
	}
	if got := manager.GetStats().DroppedEvents; got != 3 {
		t.Errorf("Expected 3 dropped events, got %d", got)
	}
}
