package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
engine:
  quotas:
    max_tool_calls: 10
    max_tokens: 5000
    max_wall_ms: 10000
    max_cost_usd: 0.50
    max_memory_mb: 64
  policy:
    deny_list: [execCommand]
    max_script_length: 20000
    allow_network: true
  archive_path: traces.db
logging:
  level: debug
  format: text
daemon:
  auto_install: true
  port: 8085
  python_path: python3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.Quotas.MaxTokens != 5000 || cfg.Engine.Quotas.MaxMemoryMB != 64 {
		t.Errorf("quotas = %+v", cfg.Engine.Quotas)
	}
	if len(cfg.Engine.Policy.DenyList) != 1 || !cfg.Engine.Policy.AllowNetwork {
		t.Errorf("policy = %+v", cfg.Engine.Policy)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Daemon.AutoInstall || cfg.Daemon.Port != 8085 {
		t.Errorf("daemon = %+v", cfg.Daemon)
	}
}

func TestLoadEmptyConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.Quotas != nil || cfg.Engine.Policy != nil {
		t.Errorf("empty config produced overrides: %+v", cfg.Engine)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative quota", "engine:\n  quotas:\n    max_tokens: -1\n"},
		{"bad port", "daemon:\n  port: 70000\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"bad yaml", ":\n  - ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
