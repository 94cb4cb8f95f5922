package daemonconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("expected defaults for a missing file, got %+v", cfg)
	}
}

func TestLoadOverlaysPresentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mced.json")
	body := `{"bus_queue_depth": 32, "settings_path": "/tmp/settings.json", "touchscreen_enable_paths": ["/sys/a"]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BusQueueDepth != 32 {
		t.Errorf("BusQueueDepth = %d; want 32", cfg.BusQueueDepth)
	}
	if cfg.SettingsPath != "/tmp/settings.json" {
		t.Errorf("SettingsPath = %q", cfg.SettingsPath)
	}
	if len(cfg.TouchscreenEnablePaths) != 1 || cfg.TouchscreenEnablePaths[0] != "/sys/a" {
		t.Errorf("TouchscreenEnablePaths = %v", cfg.TouchscreenEnablePaths)
	}
	// Untouched keys keep their defaults.
	if cfg.WorkerPoolQueueDepth != Default().WorkerPoolQueueDepth {
		t.Errorf("expected WorkerPoolQueueDepth to keep its default")
	}
}

func TestLoadIgnoresWrongTypedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mced.json")
	if err := os.WriteFile(path, []byte(`{"bus_queue_depth": "not-a-number"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BusQueueDepth != Default().BusQueueDepth {
		t.Errorf("expected malformed key to fall back to default, got %d", cfg.BusQueueDepth)
	}
}
