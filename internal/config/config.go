// Package config loads agenttail configuration from the standard TOML
// locations, falling back to defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all agenttail configuration.
type Config struct {
	// LogRoot overrides the agent's session log root. Empty means the
	// default (~/.claude/projects).
	LogRoot string `toml:"log_root"`

	Watch   WatchConfig   `toml:"watch"`
	Archive ArchiveConfig `toml:"archive"`
}

type WatchConfig struct {
	// IncludeExisting emits a file's full current content on adoption
	// instead of only lines appended after watching starts.
	IncludeExisting bool `toml:"include_existing"`

	// CreationToleranceSeconds backdates the start of watching so files
	// created this many seconds earlier still belong to the run.
	CreationToleranceSeconds int `toml:"creation_tolerance_seconds"`

	// PollIntervalMS is the unconditional re-scan cadence.
	PollIntervalMS int `toml:"poll_interval_ms"`

	// DedupCapacity bounds the seen-record set.
	DedupCapacity int `toml:"dedup_capacity"`
}

type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
	Redact  bool   `toml:"redact"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Watch: WatchConfig{
			CreationToleranceSeconds: 2,
			PollIntervalMS:           100,
			DedupCapacity:            100_000,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Dir:     "~/.agenttail/archive",
			Redact:  true,
		},
	}
}

// Load reads config from the standard path, falling back to defaults.
func Load() (Config, error) {
	cfg := DefaultConfig()

	for _, p := range configPaths() {
		if _, err := os.Stat(p); err == nil {
			if _, err := toml.DecodeFile(p, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", p, err)
			}
			break
		}
	}

	cfg.LogRoot = expandHome(cfg.LogRoot)
	cfg.Archive.Dir = expandHome(cfg.Archive.Dir)

	return cfg, nil
}

// CreationTolerance returns the tolerance window as a duration.
func (w WatchConfig) CreationTolerance() time.Duration {
	return time.Duration(w.CreationToleranceSeconds) * time.Second
}

// PollInterval returns the polling cadence as a duration.
func (w WatchConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

func configPaths() []string {
	var paths []string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "agenttail", "config.toml"))
	}

	home, _ := os.UserHomeDir()
	if home != "" {
		paths = append(paths, filepath.Join(home, ".config", "agenttail", "config.toml"))
	}

	return paths
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
