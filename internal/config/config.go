// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

// Package config loads Strata's plugin-manager configuration from the XDG
// config file with command-line flag overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/stratalab/strata/internal/plugin"
	"github.com/stratalab/strata/internal/xdg"
)

// Config holds the plugin manager's runtime configuration.
type Config struct {
	// PluginsDir holds the category directories and the generated index.
	PluginsDir string `koanf:"plugins_dir"`
	// StateDir holds enabled_plugins.json and downloaded_plugins.json.
	StateDir string `koanf:"state_dir"`
	// Interpreter runs dependency checks and installs.
	Interpreter string `koanf:"interpreter"`
	// ProbeTimeout bounds each remote source probe.
	ProbeTimeout time.Duration `koanf:"probe_timeout"`
	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`
	// MetricsAddr enables the observability server when non-empty.
	MetricsAddr string `koanf:"metrics_addr"`
	// Sources lists the remote catalog sources to race.
	Sources []plugin.SourceDescriptor `koanf:"sources"`
}

// Default returns the configuration used when no file or flags override it.
func Default() Config {
	return Config{
		PluginsDir:   xdg.PluginsDir(),
		StateDir:     xdg.ConfigDir(),
		Interpreter:  plugin.DefaultInterpreter,
		ProbeTimeout: plugin.DefaultProbeTimeout,
		LogFormat:    "json",
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigDir(), "config.yaml")
}

// Load builds the effective config: defaults, then the YAML file (when it
// exists), then any explicitly set flags. Flag names map to config keys by
// replacing hyphens with underscores.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if flags != nil {
		p := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.PluginsDir == "" {
		return fmt.Errorf("plugins_dir is required")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.ProbeTimeout < 0 {
		return fmt.Errorf("probe_timeout cannot be negative")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if src.IndexURL == "" {
			return fmt.Errorf("source %q: index_url is required", src.Name)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("source %q: duplicate name", src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	return nil
}

// SourcePointers returns the sources as the descriptor pointers the fetcher
// mutates for soft telemetry.
func (c *Config) SourcePointers() []*plugin.SourceDescriptor {
	out := make([]*plugin.SourceDescriptor, len(c.Sources))
	for i := range c.Sources {
		out[i] = &c.Sources[i]
	}
	return out
}
