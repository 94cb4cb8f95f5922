// Package daemonconfig loads the daemon's process-level configuration
// (bus queue depths, sysfs path overrides, heartbeat resolution) from a
// JSON file, the way the teacher's services/config/config.go loads its
// embedded per-device config: via github.com/andreyvit/tinyjson's
// tolerant Raw/Value decoder rather than encoding/json, so a malformed
// optional key doesn't abort the whole load (§7.6 "setting validation
// failure ... fall back to documented default").
package daemonconfig

import (
	"fmt"
	"os"

	"github.com/andreyvit/tinyjson"
)

// Config is the process-wide daemon configuration (A.3).
type Config struct {
	BusQueueDepth        int
	WorkerPoolQueueDepth int
	HeartbeatResolutionMs int64

	TouchscreenEnablePaths []string
	KeypadEnablePaths      []string
	DoubleTapGesturePaths  []string
	ChargingControlPaths   []string
	InputDevicePaths       []string

	SettingsPath string
}

// Default returns the built-in defaults used when no config file is
// present or a key fails validation.
func Default() Config {
	return Config{
		BusQueueDepth:         16,
		WorkerPoolQueueDepth:  64,
		HeartbeatResolutionMs: 250,
		TouchscreenEnablePaths: []string{
			"/sys/class/input/input0/enabled",
			"/sys/devices/virtual/input/input0/enabled",
		},
		KeypadEnablePaths: []string{
			"/sys/class/input/input1/enabled",
		},
		DoubleTapGesturePaths: []string{
			"/sys/class/sensors/hall/gesture",
		},
		ChargingControlPaths: []string{
			"/sys/class/power_supply/battery/charging_enabled",
			"/sys/class/power_supply/battery/charging_suspend",
		},
		InputDevicePaths: []string{
			"/dev/input/event0",
			"/dev/input/event1",
		},
		SettingsPath: "/var/lib/mce/settings.json",
	}
}

// Load reads path and overlays any present, well-typed keys onto the
// defaults. Missing or unreadable files, and individual keys of the
// wrong type, fall back silently to the default (a warning is the
// caller's responsibility — this package has no logger dependency by
// design, mirroring how the teacher's config service keeps no logger
// field and leaves diagnostics to its caller).
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("daemonconfig: read %s: %w", path, err)
	}

	r := tinyjson.Raw(raw)
	val := r.Value()
	if err := r.EnsureEOF(); err != nil {
		return cfg, fmt.Errorf("daemonconfig: parse %s: %w", path, err)
	}
	m, ok := val.(map[string]any)
	if !ok {
		return cfg, fmt.Errorf("daemonconfig: %s is not a JSON object", path)
	}

	applyInt(m, "bus_queue_depth", &cfg.BusQueueDepth)
	applyInt(m, "worker_pool_queue_depth", &cfg.WorkerPoolQueueDepth)
	applyInt64(m, "heartbeat_resolution_ms", &cfg.HeartbeatResolutionMs)
	applyStrings(m, "touchscreen_enable_paths", &cfg.TouchscreenEnablePaths)
	applyStrings(m, "keypad_enable_paths", &cfg.KeypadEnablePaths)
	applyStrings(m, "double_tap_gesture_paths", &cfg.DoubleTapGesturePaths)
	applyStrings(m, "charging_control_paths", &cfg.ChargingControlPaths)
	applyStrings(m, "input_device_paths", &cfg.InputDevicePaths)
	applyString(m, "settings_path", &cfg.SettingsPath)

	return cfg, nil
}

func applyInt(m map[string]any, key string, dst *int) {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			*dst = int(f)
		}
	}
}

func applyInt64(m map[string]any, key string, dst *int64) {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			*dst = int64(f)
		}
	}
}

func applyString(m map[string]any, key string, dst *string) {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			*dst = s
		}
	}
}

func applyStrings(m map[string]any, key string, dst *[]string) {
	v, ok := m[key]
	if !ok {
		return
	}
	arr, ok := v.([]any)
	if !ok {
		return
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
