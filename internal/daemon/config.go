// Package daemon manages the Cirrus daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Projects  ProjectsConfig  `toml:"projects"`
	Worker    WorkerConfig    `toml:"worker"`
	Tasks     TasksConfig     `toml:"tasks"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ProjectsConfig controls project storage and provisioning.
type ProjectsConfig struct {
	Dir           string `toml:"dir"`
	EnvsDir       string `toml:"envs_dir"`
	Interpreter   string `toml:"interpreter"`
	SystemEnvFile string `toml:"system_env_file"`
}

// WorkerConfig controls worker process behavior.
type WorkerConfig struct {
	ReadyTimeoutSec  int `toml:"ready_timeout_sec"`
	InvokeTimeoutSec int `toml:"invoke_timeout_sec"`
	PollIntervalMS   int `toml:"poll_interval_ms"`
}

// TasksConfig controls the asynchronous task manager.
type TasksConfig struct {
	Dir              string `toml:"dir"`
	MaxConcurrent    int    `toml:"max_concurrent"`
	MaxAgeHours      int    `toml:"max_age_hours"`
	SweepIntervalMin int    `toml:"sweep_interval_min"`
}

// SchedulerConfig controls cron-triggered tasks.
type SchedulerConfig struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"`
}

// TelemetryConfig controls observability endpoints.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := cirrusHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8901,
		},
		Projects: ProjectsConfig{
			Dir:           filepath.Join(homeDir, "projects"),
			EnvsDir:       filepath.Join(homeDir, "envs"),
			Interpreter:   "python3",
			SystemEnvFile: filepath.Join(homeDir, ".env"),
		},
		Worker: WorkerConfig{
			ReadyTimeoutSec:  30,
			InvokeTimeoutSec: 0, // no deadline
			PollIntervalMS:   500,
		},
		Tasks: TasksConfig{
			Dir:              filepath.Join(homeDir, "tasks"),
			MaxConcurrent:    4,
			MaxAgeHours:      24,
			SweepIntervalMin: 60,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			File:    filepath.Join(homeDir, "schedule.toml"),
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, "cirrus.log"),
		},
	}
}

// LoadConfig reads config from ~/.cirrus/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(cirrusHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.cirrus/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(cirrusHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ReadyTimeout returns the worker ready wait as a duration.
func (c WorkerConfig) ReadyTimeout() time.Duration {
	if c.ReadyTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ReadyTimeoutSec) * time.Second
}

// InvokeTimeout returns the invocation deadline; zero means none.
func (c WorkerConfig) InvokeTimeout() time.Duration {
	if c.InvokeTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.InvokeTimeoutSec) * time.Second
}

// PollInterval returns the liveness poll interval.
func (c WorkerConfig) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// cirrusHome returns the Cirrus data directory.
func cirrusHome() string {
	if env := os.Getenv("CIRRUS_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cirrus")
}

// CirrusHome is exported for use by other packages.
func CirrusHome() string {
	return cirrusHome()
}
