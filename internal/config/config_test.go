package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	chdir(t, tmpDir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "python", cfg.Interpreter)
	assert.Equal(t, []string{"-u"}, cfg.InterpreterArgs)
	assert.Equal(t, "utf-8", cfg.Encoding)
	assert.Equal(t, StreamSequential, cfg.StreamOrder)
	assert.Zero(t, cfg.Timeout)
	assert.Equal(t, filepath.Join(tmpDir, ".runpad", "runpad.log"), cfg.LogPath)
	assert.Equal(t, filepath.Join(tmpDir, ".runpad", "history.db"), cfg.HistoryPath)
}

func TestHistoryPathCanBeDisabled(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	chdir(t, tmpDir)
	t.Setenv("RUNPAD_HISTORY_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.HistoryPath)
}

func TestLoadProjectFileBeforeGlobal(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	chdir(t, tmpDir)

	require.NoError(t, os.MkdirAll(".runpad", 0755))
	require.NoError(t, os.WriteFile(filepath.Join(".runpad", "config.yaml"), []byte(
		"interpreter: python3\ntimeout: 30s\nstream_order: interleaved\n"), 0644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "python3", cfg.Interpreter)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, StreamInterleaved, cfg.StreamOrder)
	// Keys missing from the file keep defaults
	assert.Equal(t, []string{"-u"}, cfg.InterpreterArgs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	chdir(t, tmpDir)

	path := filepath.Join(tmpDir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interpreter: ruby\n"), 0644))
	t.Setenv("RUNPAD_INTERPRETER", "sh")
	t.Setenv("RUNPAD_INTERPRETER_ARGS", "")
	t.Setenv("RUNPAD_TIMEOUT", "2m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sh", cfg.Interpreter)
	assert.Empty(t, cfg.InterpreterArgs)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"empty interpreter", func(c *Config) { c.Interpreter = " " }, true},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, true},
		{"empty encoding", func(c *Config) { c.Encoding = "" }, true},
		{"bad stream order", func(c *Config) { c.StreamOrder = "random" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"upper case level", func(c *Config) { c.LogLevel = "WARN" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewLoggerCreatesFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogPath = filepath.Join(t.TempDir(), "logs", "runpad.log")

	logger, closer, err := cfg.NewLogger()
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

// chdir changes the working directory for the duration of the test,
// like testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
