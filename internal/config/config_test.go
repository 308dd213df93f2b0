package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, Default().Backend, cfg.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Git.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Path())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
backend = "git"
scratch_dir = "/tmp/wcs"
preserve = [".idea/**", "*.iml"]

[log]
level = "debug"
max_backups = 7

[git]
timeout = "30s"
push = true
`)
	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "git", cfg.Backend)
	assert.Equal(t, "/tmp/wcs", cfg.ScratchDir)
	assert.Equal(t, []string{".idea/**", "*.iml"}, cfg.Preserve)
	assert.Equal(t, 7, cfg.Log.MaxBackups)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Equal(t, 30*time.Second, cfg.Git.Timeout)
	assert.True(t, cfg.Git.Push)
	assert.Equal(t, path, cfg.Path())

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "[log]\nlevel = \"debug\"\n")
	t.Setenv("WCS_LOG_LEVEL", "warn")
	t.Setenv("WCS_KEEP_LOCKS", "true")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.KeepLocks)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidLevel(t *testing.T) {
	path := writeConfig(t, "[log]\nlevel = \"loud\"\n")
	_, err := Load(viper.New(), path)
	assert.ErrorContains(t, err, "invalid log level")
}

func TestWriteTOMLReadsBack(t *testing.T) {
	want := Default()
	want.Backend = "git"
	want.Preserve = []string{".idea/**"}
	want.Git.Timeout = 45 * time.Second

	var buf bytes.Buffer
	require.NoError(t, want.WriteTOML(&buf))
	assert.Contains(t, buf.String(), `timeout = "45s"`)

	got, err := Load(viper.New(), writeConfig(t, buf.String()))
	require.NoError(t, err)
	assert.Equal(t, want.Backend, got.Backend)
	assert.Equal(t, want.Preserve, got.Preserve)
	assert.Equal(t, want.Git, got.Git)
	assert.Equal(t, want.Log, got.Log)
	assert.Equal(t, want.OverrideMessage, got.OverrideMessage)
}

func TestWriteFileRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", FileName)
	require.NoError(t, Default().WriteFile(path, false))
	assert.Error(t, Default().WriteFile(path, false))
	assert.NoError(t, Default().WriteFile(path, true))
}
