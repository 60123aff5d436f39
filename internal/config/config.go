// Package config handles loading, validating, and defaulting the audit
// pipeline configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mode constants for the scanner chain context.
const (
	ModeRuntime = "runtime"
	ModeAudit   = "audit"
)

// Risk and action vocabulary shared with the policy layer; kept as plain
// strings here so config stays decoupled from internal types.
var validRisks = map[string]bool{"none": true, "low": true, "medium": true, "high": true, "critical": true}

var validActions = map[string]bool{
	"allow": true, "allow_with_warning": true, "challenge": true, "block": true,
}

var validFailFastRisks = map[string]bool{"high": true, "critical": true}

// Defaults for configuration fields.
const (
	DefaultLogFormat   = "json"
	DefaultLogOutput   = "stdout"
	DefaultEvidenceDir = "evidence"
	DefaultTopK        = 3
)

// Chain configures the scanner chain runner.
type Chain struct {
	FailFast     bool   `yaml:"fail_fast"`
	FailFastRisk string `yaml:"fail_fast_risk"` // high (default) or critical
}

// RulePack configures the declarative rule pack loader.
type RulePack struct {
	Path            string `yaml:"path"` // empty = embedded default pack
	Watch           bool   `yaml:"watch"`
	WatchDebounceMs int    `yaml:"watch_debounce_ms"`
}

// Policy configures the decision evaluator.
type Policy struct {
	ActionOverrides map[string]string `yaml:"action_overrides"` // risk -> action
	TopK            int               `yaml:"top_k"`
}

// Logging configures the structured audit logger.
type Logging struct {
	Format         string `yaml:"format"` // json (default), text
	Output         string `yaml:"output"` // stdout (default), file, both
	File           string `yaml:"file"`
	IncludeAllowed bool   `yaml:"include_allowed"`
}

// Evidence configures on-disk evidence persistence.
type Evidence struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// History configures the session turn store.
type History struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Webhook configures the external submission sink.
type Webhook struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	MinSeverity string `yaml:"min_severity"` // info (default), warn, critical
}

// Emit configures external event submission.
type Emit struct {
	Webhook Webhook `yaml:"webhook"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Listen string `yaml:"listen"` // empty = disabled
}

// Ingress configures optional ingress transforms.
type Ingress struct {
	ExtractHTML bool `yaml:"extract_html"`
}

// Config is the top-level configuration document.
type Config struct {
	Version  int      `yaml:"version"`
	Mode     string   `yaml:"mode"` // runtime (default), audit
	Chain    Chain    `yaml:"chain"`
	RulePack RulePack `yaml:"rulepack"`
	Policy   Policy   `yaml:"policy"`
	Logging  Logging  `yaml:"logging"`
	Evidence Evidence `yaml:"evidence"`
	History  History  `yaml:"history"`
	Emit     Emit     `yaml:"emit"`
	Metrics  Metrics  `yaml:"metrics"`
	Ingress  Ingress  `yaml:"ingress"`
}

// Default returns the built-in configuration: runtime mode, embedded rule
// pack, JSON logging to stdout. Evidence persistence is opt-in.
func Default() *Config {
	return &Config{
		Version: 1,
		Mode:    ModeRuntime,
		Chain:   Chain{FailFastRisk: "high"},
		Policy:  Policy{TopK: DefaultTopK},
		Logging: Logging{Format: DefaultLogFormat, Output: DefaultLogOutput},
	}
}

// Load reads, parses, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: caller controls path
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeRuntime
	}
	if c.Chain.FailFastRisk == "" {
		c.Chain.FailFastRisk = "high"
	}
	if c.Policy.TopK <= 0 {
		c.Policy.TopK = DefaultTopK
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Evidence.Enabled && c.Evidence.Dir == "" {
		c.Evidence.Dir = DefaultEvidenceDir
	}
}

// Validate checks cross-field consistency. Call after applyDefaults.
func (c *Config) Validate() error {
	if c.Mode != ModeRuntime && c.Mode != ModeAudit {
		return fmt.Errorf("config: mode %q is not runtime or audit", c.Mode)
	}
	if !validFailFastRisks[c.Chain.FailFastRisk] {
		return fmt.Errorf("config: chain.fail_fast_risk %q is not high or critical", c.Chain.FailFastRisk)
	}
	for risk, action := range c.Policy.ActionOverrides {
		if !validRisks[risk] {
			return fmt.Errorf("config: policy.action_overrides has unknown risk %q", risk)
		}
		if !validActions[action] {
			return fmt.Errorf("config: policy.action_overrides[%s] has unknown action %q", risk, action)
		}
	}
	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("config: logging.output %q is not stdout, file, or both", c.Logging.Output)
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.File == "" {
		return fmt.Errorf("config: logging.file is required for output %q", c.Logging.Output)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: logging.format %q is not json or text", c.Logging.Format)
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("config: history.path is required when history is enabled")
	}
	if c.RulePack.WatchDebounceMs < 0 {
		return fmt.Errorf("config: rulepack.watch_debounce_ms must not be negative")
	}
	if sev := c.Emit.Webhook.MinSeverity; sev != "" && sev != "info" && sev != "warn" && sev != "critical" {
		return fmt.Errorf("config: emit.webhook.min_severity %q is not info, warn, or critical", sev)
	}
	return nil
}
