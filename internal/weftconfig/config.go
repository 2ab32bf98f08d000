// Package weftconfig loads the server and CLI's runtime configuration:
// a config.yaml found by walking up from the working directory, falling
// back to the user's XDG config directory, and overridden by WEFT_-
// prefixed environment variables. Grounded on
// internal/config/config.go's directory-walk/viper setup, adapted from
// BeadsLog's `.beads` project-local scaffolding to a `.weft` one and
// from the BD_/BEADS_ env prefixes to a single WEFT_ prefix.
package weftconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for both cmd/weftd and
// cmd/weft, after file, environment, and default values have been
// merged by viper's precedence rules (env > file > default).
type Config struct {
	// DataDir is the root directory holding the graph database, the
	// blob store, and the log directory. Defaults to
	// $XDG_DATA_HOME/weft (or ~/.local/share/weft).
	DataDir string

	// ListenAddr is the wire API server's bind address (spec section 6).
	ListenAddr string

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string

	// DeriveConcurrency bounds the derivation worker's parallel sweep
	// fan-out (component F).
	DeriveConcurrency int

	// DeriveRulesPath, if set, points at a TOML mime-dispatch table
	// overriding the built-in defaults (component F).
	DeriveRulesPath string

	// GC holds the retention-window phrases for the background
	// reclamation worker (component G).
	GC GCConfig

	// OfflineLanguages lists the subtitle-track languages mirrored
	// alongside a video transcode by the offline sync engine
	// (component H).
	OfflineLanguages []string

	// SyncRemote holds the sync.remote setting (empty by default).
	// Nothing in this module reads it; the graph store's commit log is
	// not mirrored anywhere.
	SyncRemote string
}

// GCConfig mirrors gc.Config's field names so the two can be converted
// directly; kept as a distinct type here so this package has no import
// dependency on internal/gc.
type GCConfig struct {
	TripleHistoryRetention string
	StaleUploadRetention   string
}

const (
	envPrefix        = "WEFT"
	projectConfigDir = ".weft"
	configFilename   = "config.yaml"
)

// Load resolves Config by walking up from the current working directory
// looking for .weft/config.yaml, falling back to
// $XDG_CONFIG_HOME/weft/config.yaml, then applying WEFT_-prefixed
// environment variable overrides and finally built-in defaults. It
// never errors when no config file is found — an operator running
// against all-default configuration is a supported mode, matching
// internal/config.Initialize's "no config.yaml found; using defaults"
// fallback.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path, ok := findProjectConfig(); ok {
		v.SetConfigFile(path)
	} else if path, ok := findUserConfig(); ok {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("derive.concurrency", 4)
	v.SetDefault("derive.rules_path", "")
	v.SetDefault("gc.triple_history_retention", "1 year ago")
	v.SetDefault("gc.stale_upload_retention", "3 days ago")
	v.SetDefault("offline.languages", []string{"en"})
	v.SetDefault("sync.remote", "")

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	cfg := &Config{
		DataDir:           v.GetString("data_dir"),
		ListenAddr:        v.GetString("listen_addr"),
		LogLevel:          strings.ToLower(v.GetString("log_level")),
		DeriveConcurrency: v.GetInt("derive.concurrency"),
		DeriveRulesPath:   v.GetString("derive.rules_path"),
		GC: GCConfig{
			TripleHistoryRetention: v.GetString("gc.triple_history_retention"),
			StaleUploadRetention:   v.GetString("gc.stale_upload_retention"),
		},
		OfflineLanguages: v.GetStringSlice("offline.languages"),
		SyncRemote:       v.GetString("sync.remote"),
	}
	return cfg, nil
}

// findProjectConfig walks up from the working directory looking for
// .weft/config.yaml, the way internal/config.Initialize walks up
// looking for .beads/config.yaml — lets every weftd/weft invocation
// work the same from any subdirectory of a project tree.
func findProjectConfig() (string, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for dir := cwd; ; {
		candidate := filepath.Join(dir, projectConfigDir, configFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func findUserConfig() (string, bool) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", false
	}
	candidate := filepath.Join(configDir, "weft", configFilename)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, true
	}
	return "", false
}

func defaultDataDir() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "weft")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "weft")
	}
	return filepath.Join(".", ".weft-data")
}

// GraphDBPath, BlobRoot, and LogDir are the fixed layout of DataDir:
// a single SQLite file, a blob-store root, and a log directory, matching
// the single-data-root convention spec section 4 assumes for a
// self-hosted install.
func (c *Config) GraphDBPath() string { return filepath.Join(c.DataDir, "graph.db") }
func (c *Config) BlobRoot() string    { return filepath.Join(c.DataDir, "blobs") }
func (c *Config) LogDir() string      { return filepath.Join(c.DataDir, "log") }

// EnsureDataDirs creates DataDir and its fixed subdirectories if absent.
func (c *Config) EnsureDataDirs() error {
	for _, dir := range []string{c.DataDir, c.BlobRoot(), c.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating data directory %s: %w", dir, err)
		}
	}
	return nil
}
