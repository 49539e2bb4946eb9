// Package config provides configuration types and loading for taskclaw.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name under $HOME.
	ConfigDir = ".taskclaw"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// Config is the root configuration struct.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Agent     AgentConfig     `json:"agent"`
}

// PathsConfig groups filesystem locations.
type PathsConfig struct {
	StateDir     string `json:"stateDir" envconfig:"STATE_DIR"`
	SnapshotFile string `json:"snapshotFile" envconfig:"SNAPSHOT_FILE"`
	TimelineDB   string `json:"timelineDb" envconfig:"TIMELINE_DB"`
	ClaudeConfig string `json:"claudeConfig" envconfig:"CLAUDE_CONFIG"`
}

// SchedulerConfig groups loop settings.
type SchedulerConfig struct {
	PollInterval    time.Duration `json:"pollInterval" envconfig:"POLL_INTERVAL"`
	MaxConcurrent   int           `json:"maxConcurrent" envconfig:"MAX_CONCURRENT"`
	DispatchTimeout time.Duration `json:"dispatchTimeout" envconfig:"DISPATCH_TIMEOUT"`
	ShutdownWait    time.Duration `json:"shutdownWait" envconfig:"SHUTDOWN_WAIT"`
}

// AgentConfig groups agent CLI settings.
type AgentConfig struct {
	Binary string `json:"binary" envconfig:"BINARY"`
	Model  string `json:"model,omitempty" envconfig:"MODEL"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ConfigDir)
	return &Config{
		Paths: PathsConfig{
			StateDir:     stateDir,
			SnapshotFile: filepath.Join(stateDir, "schedule.json"),
			TimelineDB:   filepath.Join(stateDir, "timeline.db"),
			ClaudeConfig: filepath.Join(home, ".claude.json"),
		},
		Scheduler: SchedulerConfig{
			PollInterval:    time.Second,
			MaxConcurrent:   8,
			DispatchTimeout: 10 * time.Minute,
			ShutdownWait:    30 * time.Second,
		},
		Agent: AgentConfig{
			Binary: "claude",
		},
	}
}

// ConfigPath returns the config file path, honoring TASKCLAW_CONFIG.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("TASKCLAW_CONFIG")); explicit != "" {
		return expandHome(explicit), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load loads configuration from file and environment variables.
// Priority: environment > file > defaults. A missing file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	envconfig.Process("TASKCLAW_PATHS", &cfg.Paths)
	envconfig.Process("TASKCLAW_SCHEDULER", &cfg.Scheduler)
	envconfig.Process("TASKCLAW_AGENT", &cfg.Agent)

	cfg.Paths.StateDir = expandHome(cfg.Paths.StateDir)
	cfg.Paths.SnapshotFile = expandHome(cfg.Paths.SnapshotFile)
	cfg.Paths.TimelineDB = expandHome(cfg.Paths.TimelineDB)
	cfg.Paths.ClaudeConfig = expandHome(cfg.Paths.ClaudeConfig)

	if cfg.Scheduler.PollInterval <= 0 {
		cfg.Scheduler.PollInterval = time.Second
	}
	if cfg.Scheduler.MaxConcurrent <= 0 {
		cfg.Scheduler.MaxConcurrent = 8
	}
	if cfg.Scheduler.DispatchTimeout <= 0 {
		cfg.Scheduler.DispatchTimeout = 10 * time.Minute
	}
	if cfg.Scheduler.ShutdownWait <= 0 {
		cfg.Scheduler.ShutdownWait = 30 * time.Second
	}
	if strings.TrimSpace(cfg.Agent.Binary) == "" {
		cfg.Agent.Binary = "claude"
	}

	return cfg, nil
}

// SaveIfMissing writes cfg to the config file only when none exists yet,
// so a first run leaves an editable file behind without clobbering user
// edits on later runs.
func SaveIfMissing(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return Save(cfg)
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
