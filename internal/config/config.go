// Package config provides the configuration schema, loader, and file watcher
// for the tapedeck recorder.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/tapedeck/pkg/audio"
)

// LogLevel controls log verbosity for the recorder.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for tapedeck.
// It is loaded from a JSON file using [Load] or [LoadFromReader] and
// written back with [Save].
type Config struct {
	// SelectedMicIndex is the device index of the preferred microphone.
	// When nil the recorder auto-detects a default input device.
	SelectedMicIndex *int `json:"selected_mic_index"`

	// SelectedLoopbackIndex is the device index of the preferred system
	// loopback (monitor) source. When nil the recorder auto-detects one.
	SelectedLoopbackIndex *int `json:"selected_loopback_index"`

	// MicGain is the linear gain factor applied to microphone samples.
	// 1.0 means unity. Values are clamped to [0.1, 10.0] when applied.
	MicGain float64 `json:"mic_gain"`

	// SaveDirectory is where finished recordings are written. A leading
	// "~" is expanded to the user's home directory. Empty means the
	// current working directory.
	SaveDirectory string `json:"save_directory"`

	// N8NEndpoint is the webhook URL recordings are uploaded to when
	// N8NEnabled is true.
	N8NEndpoint string `json:"n8n_endpoint"`

	// N8NEnabled turns on uploading finished recordings to N8NEndpoint.
	N8NEnabled bool `json:"n8n_enabled"`

	// SaveLocally keeps a copy of each recording in SaveDirectory even
	// when uploads are enabled.
	SaveLocally bool `json:"save_locally"`

	// LogLevel controls verbosity. Empty means "info".
	LogLevel LogLevel `json:"log_level,omitempty"`

	// MetricsAddr is the TCP address the Prometheus metrics endpoint
	// listens on (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// Default returns a Config populated with the values used when no config
// file exists yet.
func Default() *Config {
	return &Config{
		MicGain:       1.0,
		SaveDirectory: "~/Recordings",
		SaveLocally:   true,
		LogLevel:      LogInfo,
	}
}

// Snapshot is an immutable view of the settings a recording session needs,
// with the tilde expanded and the gain clamped. Sessions take a Snapshot at
// start so a config reload mid-recording cannot change their behaviour.
type Snapshot struct {
	MicIndex      *int
	LoopbackIndex *int
	MicGain       float64
	SaveDirectory string
	Endpoint      string
	UploadEnabled bool
	SaveLocally   bool
}

// Snapshot captures the session-relevant settings from c.
func (c *Config) Snapshot() Snapshot {
	return Snapshot{
		MicIndex:      c.SelectedMicIndex,
		LoopbackIndex: c.SelectedLoopbackIndex,
		MicGain:       audio.ClampGain(c.MicGain),
		SaveDirectory: ExpandTilde(c.SaveDirectory),
		Endpoint:      c.N8NEndpoint,
		UploadEnabled: c.N8NEnabled,
		SaveLocally:   c.SaveLocally,
	}
}

// ExpandTilde replaces a leading "~" in path with the user's home directory.
// If the home directory cannot be determined the path is returned unchanged.
func ExpandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
