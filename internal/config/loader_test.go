package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/tapedeck/internal/config"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope", "config.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MicGain != 1.0 {
		t.Errorf("default mic_gain: got %v, want 1.0", cfg.MicGain)
	}
	if !cfg.SaveLocally {
		t.Error("default save_locally should be true")
	}
	if cfg.N8NEnabled {
		t.Error("default n8n_enabled should be false")
	}
	if cfg.SaveDirectory != "~/Recordings" {
		t.Errorf("default save_directory: got %q", cfg.SaveDirectory)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	jsonCfg := `{
  "selected_mic_index": 3,
  "selected_loopback_index": null,
  "mic_gain": 2.0,
  "save_directory": "/tmp/recordings",
  "n8n_endpoint": "https://n8n.example/webhook/audio",
  "n8n_enabled": true,
  "save_locally": false,
  "log_level": "debug"
}`
	cfg, err := config.LoadFromReader(strings.NewReader(jsonCfg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SelectedMicIndex == nil || *cfg.SelectedMicIndex != 3 {
		t.Errorf("selected_mic_index: got %v", cfg.SelectedMicIndex)
	}
	if cfg.SelectedLoopbackIndex != nil {
		t.Errorf("selected_loopback_index should be nil, got %v", *cfg.SelectedLoopbackIndex)
	}
	if cfg.MicGain != 2.0 {
		t.Errorf("mic_gain: got %v", cfg.MicGain)
	}
	if cfg.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.LogLevel)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`{"mic_gan": 1.0}`))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`{"log_level": "bananas"}`))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_UploadEnabledRequiresEndpoint(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`{"n8n_enabled": true}`))
	if err == nil {
		t.Fatal("expected error for enabled upload without endpoint, got nil")
	}
	if !strings.Contains(err.Error(), "n8n_endpoint") {
		t.Errorf("error should mention n8n_endpoint, got: %v", err)
	}
}

func TestValidate_UploadEndpointMustBeHTTP(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(
		`{"n8n_enabled": true, "n8n_endpoint": "ftp://n8n.example/webhook"}`))
	if err == nil {
		t.Fatal("expected error for non-http endpoint, got nil")
	}
}

func TestValidate_NegativeGainRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`{"mic_gain": -1}`))
	if err == nil {
		t.Fatal("expected error for negative gain, got nil")
	}
}

func TestValidate_NegativeDeviceIndexRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`{"selected_mic_index": -2}`))
	if err == nil {
		t.Fatal("expected error for negative device index, got nil")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	mic := 5
	in := config.Default()
	in.SelectedMicIndex = &mic
	in.MicGain = 1.5
	in.N8NEndpoint = "https://n8n.example/webhook"
	in.N8NEnabled = true

	if err := config.Save(in, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.SelectedMicIndex == nil || *out.SelectedMicIndex != 5 {
		t.Errorf("selected_mic_index: got %v", out.SelectedMicIndex)
	}
	if out.MicGain != 1.5 || out.N8NEndpoint != in.N8NEndpoint || !out.N8NEnabled {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestSave_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.LogLevel = "verbose"
	if err := config.Save(cfg, filepath.Join(t.TempDir(), "config.json")); err == nil {
		t.Fatal("expected validation error, got nil")
	}
}

func TestSnapshot_ClampsGainAndExpandsTilde(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.MicGain = 50 // above the +20 dB ceiling
	cfg.SaveDirectory = "~/Recordings"

	snap := cfg.Snapshot()
	if snap.MicGain > 10.0 {
		t.Errorf("gain not clamped: %v", snap.MicGain)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if snap.SaveDirectory != filepath.Join(home, "Recordings") {
		t.Errorf("tilde not expanded: %q", snap.SaveDirectory)
	}
}

func TestExpandTilde(t *testing.T) {
	t.Parallel()
	if got := config.ExpandTilde("/absolute/path"); got != "/absolute/path" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := config.ExpandTilde("relative/path"); got != "relative/path" {
		t.Errorf("relative path changed: %q", got)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if got := config.ExpandTilde("~"); got != home {
		t.Errorf("bare tilde: got %q, want %q", got, home)
	}
}
