package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schnabel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.Mode != ModeRuntime || cfg.Chain.FailFastRisk != "high" || cfg.Policy.TopK != 3 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
version: 1
mode: audit
chain:
  fail_fast: true
  fail_fast_risk: critical
rulepack:
  path: /tmp/rules.json
  watch: true
  watch_debounce_ms: 25
policy:
  action_overrides:
    high: block
  top_k: 5
logging:
  format: text
  output: stdout
history:
  enabled: true
  path: /tmp/history.db
emit:
  webhook:
    url: https://example.com/hook
    min_severity: warn
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeAudit || !cfg.Chain.FailFast || cfg.Chain.FailFastRisk != "critical" {
		t.Errorf("chain config = %+v", cfg.Chain)
	}
	if cfg.Policy.ActionOverrides["high"] != "block" || cfg.Policy.TopK != 5 {
		t.Errorf("policy config = %+v", cfg.Policy)
	}
	if cfg.RulePack.WatchDebounceMs != 25 {
		t.Errorf("rulepack config = %+v", cfg.RulePack)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, "version: 1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeRuntime || cfg.Logging.Format != "json" || cfg.Logging.Output != "stdout" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad mode", func(c *Config) { c.Mode = "turbo" }, "mode"},
		{"bad fail fast risk", func(c *Config) { c.Chain.FailFastRisk = "medium" }, "fail_fast_risk"},
		{"bad override risk", func(c *Config) {
			c.Policy.ActionOverrides = map[string]string{"severe": "block"}
		}, "unknown risk"},
		{"bad override action", func(c *Config) {
			c.Policy.ActionOverrides = map[string]string{"high": "explode"}
		}, "unknown action"},
		{"bad output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"file output without path", func(c *Config) { c.Logging.Output = "file" }, "logging.file"},
		{"history without path", func(c *Config) { c.History.Enabled = true }, "history.path"},
		{"negative debounce", func(c *Config) { c.RulePack.WatchDebounceMs = -1 }, "watch_debounce_ms"},
		{"bad severity", func(c *Config) { c.Emit.Webhook.MinSeverity = "fatal" }, "min_severity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoad_FailFastMediumRejected(t *testing.T) {
	path := writeConfig(t, "chain:\n  fail_fast_risk: medium\n")
	if _, err := Load(path); err == nil {
		t.Error("fail_fast_risk medium must be rejected")
	}
}
