// Package hostcfg loads the demo host's configuration — shell defaults,
// working directory, process environment overlay, and logging — from a
// TOML or YAML file plus a .env overlay. A missing config file is treated
// as "use the defaults", not an error, so a host can ship without one.
package hostcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/forgekit/taskkernel/internal/klog"
	"github.com/forgekit/taskkernel/process"
)

// EnvPrefix is the environment-variable prefix hostcfg scans for overlay
// values once a .env file (or the real environment) is loaded.
const EnvPrefix = "TASKCTL_"

// LoggingConfig mirrors klog.Config's shape for (un)marshaling.
type LoggingConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	FilePath   string `toml:"file_path" yaml:"filePath"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"max_backups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"maxAgeDays"`
	Compress   bool   `toml:"compress" yaml:"compress"`
	Level      string `toml:"level" yaml:"level"`
}

func (l LoggingConfig) toKlog() klog.Config {
	return klog.Config{
		Enabled:    l.Enabled,
		FilePath:   l.FilePath,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
		Level:      l.Level,
	}
}

// ManagerConfig is the demo host's configuration root.
type ManagerConfig struct {
	// WorkingDirectory overrides process.DefaultEnvironment's cwd.
	WorkingDirectory string `toml:"working_directory" yaml:"workingDirectory"`
	// DefaultShell and DefaultShellArgs are available to hosts that want
	// to run shell one-liners through ProcessTask.
	DefaultShell     string   `toml:"default_shell" yaml:"defaultShell"`
	DefaultShellArgs []string `toml:"default_shell_args" yaml:"defaultShellArgs"`
	// EnvOverlay seeds process.Environment.EnvironmentVariables.
	EnvOverlay map[string]string `toml:"env" yaml:"env"`
	// LongRunningMaxWorkers bounds manager.Options.LongRunningMaxWorkers.
	LongRunningMaxWorkers int `toml:"long_running_max_workers" yaml:"longRunningMaxWorkers"`
	// Logging configures internal/klog.
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

// DefaultManagerConfig returns the baseline shell and logging defaults
// used when no config file is supplied.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultShell:          "/bin/sh",
		DefaultShellArgs:      []string{"-c"},
		LongRunningMaxWorkers: 4,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a ManagerConfig from path, dispatching on its extension
// (.toml, .yaml, .yml). A missing file is not an error: Load returns
// DefaultManagerConfig().
func Load(path string) (ManagerConfig, error) {
	cfg := DefaultManagerConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("hostcfg: reading %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("hostcfg: parsing TOML %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("hostcfg: parsing YAML %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("hostcfg: unrecognized config extension %q", ext)
	}
	return cfg, nil
}

// LoadDotEnv overlays envPath's KEY=VALUE pairs onto the process
// environment via godotenv, then returns every TASKCTL_-prefixed variable
// with the prefix stripped — the overlay ManagerConfig.EnvOverlay and
// process.Environment merge on top of. A missing envPath is not an error.
func LoadDotEnv(envPath string) (map[string]string, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("hostcfg: loading .env %s: %w", envPath, err)
		}
	}

	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			continue
		}
		out[strings.TrimPrefix(kv[:idx], EnvPrefix)] = kv[idx+1:]
	}
	return out, nil
}

// BuildEnvironment merges cfg and a .env overlay into a process.Environment
// ready for a process.ProcessTask.
func BuildEnvironment(cfg ManagerConfig, envOverlay map[string]string) process.Environment {
	env := process.DefaultEnvironment()
	if cfg.WorkingDirectory != "" {
		env.WorkingDirectory = cfg.WorkingDirectory
	}

	merged := make(map[string]string, len(cfg.EnvOverlay)+len(envOverlay))
	for k, v := range cfg.EnvOverlay {
		merged[k] = v
	}
	for k, v := range envOverlay {
		merged[k] = v
	}
	env.EnvironmentVariables = merged
	return env
}
