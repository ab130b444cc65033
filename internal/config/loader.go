package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/MrWong99/tapedeck/pkg/audio"
)

// DefaultPath returns the standard location of the config file,
// typically ~/.config/tapedeck/config.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "tapedeck", "config.json"), nil
}

// Load reads the JSON configuration file at path and returns a validated
// [Config]. A missing file is not an error: defaults are returned so a
// first run works without any setup.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a JSON config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode json: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.MicGain < 0 {
		errs = append(errs, fmt.Errorf("mic_gain %.2f must not be negative", cfg.MicGain))
	} else if cfg.MicGain != 0 && cfg.MicGain != audio.ClampGain(cfg.MicGain) {
		slog.Warn("mic_gain outside usable range, will be clamped",
			"configured", cfg.MicGain,
			"clamped", audio.ClampGain(cfg.MicGain),
		)
	}

	if cfg.SelectedMicIndex != nil && *cfg.SelectedMicIndex < 0 {
		errs = append(errs, fmt.Errorf("selected_mic_index %d must not be negative", *cfg.SelectedMicIndex))
	}
	if cfg.SelectedLoopbackIndex != nil && *cfg.SelectedLoopbackIndex < 0 {
		errs = append(errs, fmt.Errorf("selected_loopback_index %d must not be negative", *cfg.SelectedLoopbackIndex))
	}

	if cfg.N8NEnabled {
		if cfg.N8NEndpoint == "" {
			errs = append(errs, errors.New("n8n_enabled is true but n8n_endpoint is empty"))
		} else if u, err := url.Parse(cfg.N8NEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("n8n_endpoint %q is not a valid http(s) URL", cfg.N8NEndpoint))
		}
	}

	if !cfg.SaveLocally && !cfg.N8NEnabled {
		slog.Warn("both save_locally and n8n_enabled are off; recordings will be kept locally anyway")
	}

	return errors.Join(errs...)
}

// Save writes cfg to path as indented JSON. The write goes through a
// temporary file in the same directory followed by a rename, so a crash
// mid-write never leaves a truncated config behind. Parent directories
// are created as needed.
func Save(cfg *Config, path string) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode json: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename temp file: %w", err)
	}
	return nil
}
