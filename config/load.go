package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
)

// fileConfig is the on-disk shape of Config. Durations are written as Go
// duration strings ("500ms", "3s").
type fileConfig struct {
	Config
	RetryBackoff    string `json:"retryBackoff"`
	RetryBackoffMax string `json:"retryBackoffMax"`
	RenderTimeout   string `json:"renderTimeout"`
	ConsentTimeout  string `json:"consentTimeout"`
}

func (f fileConfig) resolve() (Config, error) {
	out := f.Config
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"retryBackoff", f.RetryBackoff, &out.RetryBackoff},
		{"retryBackoffMax", f.RetryBackoffMax, &out.RetryBackoffMax},
		{"renderTimeout", f.RenderTimeout, &out.RenderTimeout},
		{"consentTimeout", f.ConsentTimeout, &out.ConsentTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return out, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return out, nil
}

// localPath returns the override path for name: dir/base.local.ext.
func localPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// decodeFile decodes the JSON5 file at path onto dst. Keys absent from the
// file leave dst untouched, so an explicit zero still overrides. It reports
// false when the file is missing or empty.
func decodeFile(path string, dst *fileConfig) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json5.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// ReadFile decodes the JSON5 config file name, then <name>.local.<ext> when
// present, onto a copy of base. It returns os.ErrNotExist when neither file
// exists.
func ReadFile(name string, base *Config) (*Config, error) {
	fc := fileConfig{Config: *base}
	fc.Factions = slices.Clone(base.Factions)

	foundBase, err := decodeFile(name, &fc)
	if err != nil {
		return nil, err
	}

	local := localPath(name)
	foundLocal, err := decodeFile(local, &fc)
	if err != nil {
		return nil, err
	}
	if foundLocal {
		slog.Info("merging config with local overrides", "local", local)
	}

	if !foundBase && !foundLocal {
		return nil, os.ErrNotExist
	}
	cfg, err := fc.resolve()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load builds the effective configuration: defaults, then the config file at
// path (if path is non-empty), then SCRAPER_* environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		fromFile, err := ReadFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		cfg = fromFile
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv overlays environment variables onto target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
