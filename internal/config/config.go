package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StreamOrder controls how the runner presents stdout and stderr
type StreamOrder string

const (
	// StreamSequential shows stderr as one block after stdout closes
	StreamSequential StreamOrder = "sequential"
	// StreamInterleaved shows both streams as they arrive
	StreamInterleaved StreamOrder = "interleaved"
)

// Config represents the user's configuration
type Config struct {
	Interpreter     string        `yaml:"interpreter"`
	InterpreterArgs []string      `yaml:"interpreter_args"`
	Timeout         time.Duration `yaml:"timeout"`
	Encoding        string        `yaml:"encoding"`
	StreamOrder     StreamOrder   `yaml:"stream_order"`
	LogLevel        string        `yaml:"log_level"`
	LogPath         string        `yaml:"log_path"`
	HistoryPath     string        `yaml:"history_path"` // Empty disables run history
	Debug           bool          `yaml:"debug"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	dir, err := globalConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return &Config{
		Interpreter:     "python",
		InterpreterArgs: []string{"-u"},
		Encoding:        "utf-8",
		StreamOrder:     StreamSequential,
		LogLevel:        "info",
		LogPath:         filepath.Join(dir, "runpad.log"),
		HistoryPath:     filepath.Join(dir, "history.db"),
	}
}

// globalConfigDir returns the global config directory path (~/.runpad)
func globalConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".runpad"), nil
}

// globalConfigPath returns the global config file path (~/.runpad/config.yaml)
func globalConfigPath() (string, error) {
	dir, err := globalConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// projectConfigPath returns the project-level config path (.runpad/config.yaml in cwd)
func projectConfigPath() string {
	return filepath.Join(".runpad", "config.yaml")
}

// Load builds the config from defaults, the first config file found, and the
// environment. An explicit path must exist; the implicit locations may not.
func Load(explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	path, err := resolvePath(explicitPath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// resolvePath picks the config file to read, checking project config first, then global
func resolvePath(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicitPath, nil
	}
	if _, err := os.Stat(projectConfigPath()); err == nil {
		return projectConfigPath(), nil
	}
	globalPath, err := globalConfigPath()
	if err != nil {
		return "", nil
	}
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}
	return "", nil
}

// LoadFile decodes a YAML config file over cfg. Keys absent from the file
// keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Interpreter = envStr("RUNPAD_INTERPRETER", cfg.Interpreter)
	if v, ok := os.LookupEnv("RUNPAD_INTERPRETER_ARGS"); ok {
		cfg.InterpreterArgs = strings.Fields(v)
	}
	cfg.Timeout = envDuration("RUNPAD_TIMEOUT", cfg.Timeout)
	cfg.Encoding = envStr("RUNPAD_ENCODING", cfg.Encoding)
	cfg.StreamOrder = StreamOrder(envStr("RUNPAD_STREAM_ORDER", string(cfg.StreamOrder)))
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPath = envStr("RUNPAD_LOG_PATH", cfg.LogPath)
	if v, ok := os.LookupEnv("RUNPAD_HISTORY_PATH"); ok {
		cfg.HistoryPath = v
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Interpreter) == "" {
		return fmt.Errorf("interpreter must not be empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.Encoding == "" {
		return fmt.Errorf("encoding must not be empty")
	}
	switch c.StreamOrder {
	case StreamSequential, StreamInterleaved:
	default:
		return fmt.Errorf("stream_order must be %q or %q, got %q", StreamSequential, StreamInterleaved, c.StreamOrder)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
