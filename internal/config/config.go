// Package config loads the engine configuration file: executor
// defaults (quotas, security policy), logging, and daemon settings.
// The compiled-in executor defaults apply when no file is supplied.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/scripthost/internal/policy"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	Daemon  DaemonConfig  `yaml:"daemon"`
}

// EngineConfig holds the executor defaults.
type EngineConfig struct {
	Quotas *policy.Quotas         `yaml:"quotas"`
	Policy *policy.SecurityPolicy `yaml:"policy"`

	// ArchivePath enables the sqlite trace archive when set.
	ArchivePath string `yaml:"archive_path"`

	// WorkspaceRoot confines the built-in file tool.
	WorkspaceRoot string `yaml:"workspace_root"`
}

// LoggingConfig mirrors observability.LogConfig.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DaemonConfig holds the daemon supervisor settings.
type DaemonConfig struct {
	InstallDir          string `yaml:"install_dir"`
	AutoInstall         bool   `yaml:"auto_install"`
	RepoURL             string `yaml:"repo_url"`
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	LogLevel            string `yaml:"log_level"`
	CompletionTimeoutMS int    `yaml:"completion_timeout_ms"`
	PythonPath          string `yaml:"python_path"`
	JavaWorkspaceRoot   string `yaml:"java_workspace_root"`
	EnableClangd        bool   `yaml:"enable_clangd"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot honour.
func (c *Config) Validate() error {
	if q := c.Engine.Quotas; q != nil {
		if q.MaxToolCalls < 0 || q.MaxTokens < 0 || q.MaxWallMS < 0 || q.MaxCostUSD < 0 || q.MaxMemoryMB < 0 {
			return fmt.Errorf("engine.quotas: negative caps are not allowed")
		}
	}
	if p := c.Engine.Policy; p != nil && p.MaxScriptLength < 0 {
		return fmt.Errorf("engine.policy.max_script_length must be >= 0")
	}
	if c.Daemon.Port < 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port %d out of range", c.Daemon.Port)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q must be json or text", c.Logging.Format)
	}
	return nil
}
