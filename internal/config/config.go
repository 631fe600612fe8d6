// Package config loads the small YAML file that drives `serve`: where
// catalogue databases live, how the HTTP surface binds, and the
// per-deployment scanner tuning knobs.
//
// Grounded on the teacher's targets.yaml loader in
// pkg/obsidian/targets.go (LoadTargets/SaveTargets): read-whole-file,
// yaml.Unmarshal into a typed struct, apply defaults for zero fields.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultBaseDir mirrors spec.md §6's example storage layout.
const DefaultBaseDir = "/var/lib/anything/db"

// DefaultListenAddr is the HTTP Surface's bind address absent an override.
const DefaultListenAddr = "127.0.0.1:8080"

// Config is the top-level shape of the YAML config file.
type Config struct {
	// BaseDir holds one subdirectory per user id, each containing that
	// user's file_db.db (spec.md §6 storage layout).
	BaseDir string `yaml:"base_dir,omitempty"`

	// ListenAddr is the HTTP Surface's bind address.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// UseLocalWatcher enables the fsnotify fallback (SPEC_FULL.md §4.5)
	// for every scanner this process starts. Defaults to false so
	// production deployments rely on the audit-event bridge spec.md
	// intends.
	UseLocalWatcher bool `yaml:"use_local_watcher,omitempty"`

	// ExcludedPatterns overrides scanner.DefaultExcludedPatterns when
	// non-empty.
	ExcludedPatterns []string `yaml:"excluded_patterns,omitempty"`
}

// Default returns a Config populated with the package defaults.
func Default() Config {
	return Config{
		BaseDir:    DefaultBaseDir,
		ListenAddr: DefaultListenAddr,
	}
}

// Load reads and parses the YAML file at path, applying Default() for
// any field the file leaves unset. A missing file is not an error: it
// yields the defaults, matching the teacher's pattern of tolerating an
// absent targets.yaml on first run.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}

	var fromFile Config
	if err := yaml.Unmarshal(raw, &fromFile); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}

	if fromFile.BaseDir != "" {
		cfg.BaseDir = fromFile.BaseDir
	}
	if fromFile.ListenAddr != "" {
		cfg.ListenAddr = fromFile.ListenAddr
	}
	if len(fromFile.ExcludedPatterns) > 0 {
		cfg.ExcludedPatterns = fromFile.ExcludedPatterns
	}
	cfg.UseLocalWatcher = fromFile.UseLocalWatcher

	return cfg, nil
}

// UserDBPath returns the catalogue path for uid under cfg.BaseDir.
func (c Config) UserDBPath(uid string) string {
	return filepath.Join(c.BaseDir, uid, "file_db.db")
}
