// Package config loads wcs settings from a TOML file, WCS_ environment
// variables and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// FileName is the config file looked up when none is given
const FileName = "wcs.toml"

// EnvPrefix prefixes every environment variable, e.g. WCS_LOG_LEVEL
const EnvPrefix = "WCS"

// Config holds the effective settings
type Config struct {
	// Backend names the connector type; "auto" detects it
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"`

	// Root is the working copy root; empty means the current directory
	Root string `mapstructure:"root" yaml:"root" json:"root"`

	// ScratchDir holds snapshot storage; empty means a temporary directory
	ScratchDir string `mapstructure:"scratch_dir" yaml:"scratch_dir" json:"scratch_dir"`

	// Ledger is the sqlite file recording snapshot entries; empty disables it
	Ledger string `mapstructure:"ledger" yaml:"ledger" json:"ledger"`

	Log LogConfig `mapstructure:"log" yaml:"log" json:"log"`

	IgnoreExternals bool     `mapstructure:"ignore_externals" yaml:"ignore_externals" json:"ignore_externals"`
	KeepLocks       bool     `mapstructure:"keep_locks" yaml:"keep_locks" json:"keep_locks"`
	OverrideMessage string   `mapstructure:"override_message" yaml:"override_message" json:"override_message"`
	Preserve        []string `mapstructure:"preserve" yaml:"preserve" json:"preserve"`

	Git GitConfig `mapstructure:"git" yaml:"git" json:"git"`

	// path is the config file that was read, if any
	path string
}

// LogConfig configures logging
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" json:"level"`
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
}

// GitConfig configures the git connector
type GitConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Push    bool          `mapstructure:"push" yaml:"push" json:"push"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Backend: "auto",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		OverrideMessage: "Override remote version with local changes",
		Preserve:        []string{},
		Git: GitConfig{
			Timeout: 2 * time.Minute,
		},
	}
}

// Path returns the config file the settings were read from, or ""
func (c *Config) Path() string {
	return c.path
}

// LogLevel parses Log.Level
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// Validate checks settings that cannot be checked by decoding
func (c *Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.Git.Timeout < 0 {
		return fmt.Errorf("git.timeout must not be negative, got %s", c.Git.Timeout)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be positive, got %d", c.Log.MaxSizeMB)
	}
	return nil
}

// ===================
// Loading
// ===================

// SetDefaults registers the defaults of every key on v
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("backend", d.Backend)
	v.SetDefault("root", d.Root)
	v.SetDefault("scratch_dir", d.ScratchDir)
	v.SetDefault("ledger", d.Ledger)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("ignore_externals", d.IgnoreExternals)
	v.SetDefault("keep_locks", d.KeepLocks)
	v.SetDefault("override_message", d.OverrideMessage)
	v.SetDefault("preserve", d.Preserve)
	v.SetDefault("git.timeout", d.Git.Timeout)
	v.SetDefault("git.push", d.Git.Push)
}

// Load reads the settings into v and decodes them. With an empty file
// the config is looked up as wcs.toml in the current directory and in
// $XDG_CONFIG_HOME/wcs; a missing file is not an error then. Flags
// must be bound to v before calling Load.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "wcs"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.path = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ===================
// Writing
// ===================

// fileLayout is the on-disk TOML shape. Durations are written as
// strings ("2m0s") so they read back through viper unchanged.
type fileLayout struct {
	Backend         string   `toml:"backend"`
	Root            string   `toml:"root"`
	ScratchDir      string   `toml:"scratch_dir"`
	Ledger          string   `toml:"ledger"`
	IgnoreExternals bool     `toml:"ignore_externals"`
	KeepLocks       bool     `toml:"keep_locks"`
	OverrideMessage string   `toml:"override_message"`
	Preserve        []string `toml:"preserve"`
	Log             struct {
		Level      string `toml:"level"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
	} `toml:"log"`
	Git struct {
		Timeout string `toml:"timeout"`
		Push    bool   `toml:"push"`
	} `toml:"git"`
}

// WriteTOML encodes c as a config file
func (c *Config) WriteTOML(w io.Writer) error {
	var f fileLayout
	f.Backend = c.Backend
	f.Root = c.Root
	f.ScratchDir = c.ScratchDir
	f.Ledger = c.Ledger
	f.IgnoreExternals = c.IgnoreExternals
	f.KeepLocks = c.KeepLocks
	f.OverrideMessage = c.OverrideMessage
	f.Preserve = c.Preserve
	if f.Preserve == nil {
		f.Preserve = []string{}
	}
	f.Log.Level = c.Log.Level
	f.Log.File = c.Log.File
	f.Log.MaxSizeMB = c.Log.MaxSizeMB
	f.Log.MaxBackups = c.Log.MaxBackups
	f.Git.Timeout = c.Git.Timeout.String()
	f.Git.Push = c.Git.Push

	if err := toml.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// WriteFile writes c to path, refusing to overwrite an existing file
// unless force is set.
func (c *Config) WriteFile(path string, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := c.WriteTOML(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
