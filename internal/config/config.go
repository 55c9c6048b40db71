// Package config handles reading and writing <home>/config.yaml and resolving
// the specflow home directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for <home>/config.yaml.
type Config struct {
	Version  int            `yaml:"version"`
	Home     string         `yaml:"-"`
	Claude   ClaudeConfig   `yaml:"claude"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Server   ServerConfig   `yaml:"server"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
}

// ClaudeConfig describes how the external agent binary is invoked.
type ClaudeConfig struct {
	Binary      string   `yaml:"binary"`
	Model       string   `yaml:"model"`
	ProjectsDir string   `yaml:"projects_dir"` // where the agent keeps session logs
	ExtraArgs   []string `yaml:"extra_args"`
}

// WorkflowConfig controls execution, polling and health checks.
type WorkflowConfig struct {
	StalenessThreshold int      `yaml:"staleness_threshold"` // seconds
	KillGrace          int      `yaml:"kill_grace"`          // seconds
	DetachedTimeout    int      `yaml:"detached_timeout"`    // minutes
	PollInterval       int      `yaml:"poll_interval"`       // ms
	SessionPoll        int      `yaml:"session_poll"`        // ms
	SkillDirs          []string `yaml:"skill_dirs"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// CleanupConfig controls pruning of old workflow run directories.
type CleanupConfig struct {
	MaxAgeDays int `yaml:"max_age_days"`
}

const (
	configFile = "config.yaml"
	homeEnv    = "SPECFLOW_HOME"
)

// ResolveHome returns the specflow home directory: override, then
// $SPECFLOW_HOME, then ~/.specflow.
func ResolveHome(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv(homeEnv); env != "" {
		return filepath.Clean(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".specflow"), nil
}

// ReadConfig reads config.yaml from the given home directory.
// Returns an error if the file is not found or YAML is malformed.
func ReadConfig(home string) (*Config, error) {
	path := filepath.Join(home, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Home = home

	return cfg, nil
}

// WriteConfig writes cfg to config.yaml in the given home directory.
func WriteConfig(home string, cfg *Config) error {
	if err := os.MkdirAll(home, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(home, configFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Load reads config.yaml from home, falling back to defaults when the file
// does not exist. A malformed file is still an error.
func Load(home string) (*Config, error) {
	cfg, err := ReadConfig(home)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		cfg = DefaultConfig()
		cfg.Home = home
		return cfg, nil
	}
	return nil, err
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Claude: ClaudeConfig{
			Binary: "claude",
		},
		Workflow: WorkflowConfig{
			StalenessThreshold: 300,
			KillGrace:          5,
			DetachedTimeout:    240,
			PollInterval:       2000,
			SessionPoll:        5000,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},
		Cleanup: CleanupConfig{
			MaxAgeDays: 30,
		},
	}
}

// RegistryPath is the location of the project registry.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Home, "registry.json")
}

// DatabasePath is the location of the executions database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Home, "specflow.db")
}

// ClaudeProjectsDir is where the agent writes its per-project session logs.
// Defaults to ~/.claude/projects.
func (c *Config) ClaudeProjectsDir() string {
	if c.Claude.ProjectsDir != "" {
		return c.Claude.ProjectsDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", "projects")
	}
	return filepath.Join(home, ".claude", "projects")
}

// SkillDirs returns the directories searched for skill templates, defaulting
// to ~/.claude/commands.
func (c *Config) SkillDirs() []string {
	if len(c.Workflow.SkillDirs) > 0 {
		return c.Workflow.SkillDirs
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".claude", "commands")}
}

// StalenessThreshold is the session-log age after which a live run is stale.
func (c *Config) StalenessThreshold() time.Duration {
	return secondsOr(c.Workflow.StalenessThreshold, 5*time.Minute)
}

// KillGrace is how long a SIGTERM'd process gets before SIGKILL.
func (c *Config) KillGrace() time.Duration {
	return secondsOr(c.Workflow.KillGrace, 5*time.Second)
}

// DetachedTimeout caps how long a detached run is polled for completion.
func (c *Config) DetachedTimeout() time.Duration {
	if c.Workflow.DetachedTimeout <= 0 {
		return 4 * time.Hour
	}
	return time.Duration(c.Workflow.DetachedTimeout) * time.Minute
}

// PollInterval is the completion-marker poll period for detached runs.
func (c *Config) PollInterval() time.Duration {
	return millisOr(c.Workflow.PollInterval, 2*time.Second)
}

// SessionPollInterval is the period of the shared session poller.
func (c *Config) SessionPollInterval() time.Duration {
	return millisOr(c.Workflow.SessionPoll, 5*time.Second)
}

func secondsOr(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func millisOr(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
