// Package config loads the gateway configuration from file and
// environment via viper.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config represents the full Agentgate configuration
type Config struct {
	Policy   PolicyConfig   `mapstructure:"policy"`
	Budgets  BudgetsConfig  `mapstructure:"budgets"`
	Pairing  PairingConfig  `mapstructure:"pairing"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Webhooks WebhooksConfig `mapstructure:"webhooks"`
	Server   ServerConfig   `mapstructure:"server"`
}

// PolicyConfig governs command validation.
type PolicyConfig struct {
	Autonomy              string   `mapstructure:"autonomy"`
	BlockHighRiskCommands bool     `mapstructure:"block_high_risk_commands"`
	WorkspaceOnly         bool     `mapstructure:"workspace_only"`
	WorkspaceRoot         string   `mapstructure:"workspace_root"`
	ForbiddenPaths        []string `mapstructure:"forbidden_paths"`
}

// BudgetsConfig sets the action tracker windows.
type BudgetsConfig struct {
	MaxActionsPerHour int `mapstructure:"max_actions_per_hour"`
	DailyCostCapCents int `mapstructure:"daily_cost_cap_cents"`
}

// PairingConfig governs caller authentication.
type PairingConfig struct {
	TokenFile       string `mapstructure:"token_file"`
	TokenMaxAgeDays int    `mapstructure:"token_max_age_days"`
}

// SecretsConfig governs the encrypted secret store. When GCPKeySecret is
// set the master key is fetched from Secret Manager instead of KeyFile.
type SecretsConfig struct {
	StorePath    string `mapstructure:"store_path"`
	KeyFile      string `mapstructure:"key_file"`
	GCPKeySecret string `mapstructure:"gcp_key_secret"`
}

// WebhooksConfig governs inbound delivery verification.
type WebhooksConfig struct {
	Secret              string `mapstructure:"secret"`
	FreshnessWindowSecs int    `mapstructure:"freshness_window_secs"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr              string `mapstructure:"addr"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// Load loads configuration from file and environment
func Load() (*Config, error) {
	cfg := &Config{}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Policy.Autonomy == "" {
		cfg.Policy.Autonomy = "supervised"
	}

	if cfg.Budgets.MaxActionsPerHour == 0 {
		cfg.Budgets.MaxActionsPerHour = 20
	}

	if cfg.Budgets.DailyCostCapCents == 0 {
		cfg.Budgets.DailyCostCapCents = 500
	}

	if cfg.Pairing.TokenFile == "" {
		cfg.Pairing.TokenFile = "tokens.yaml"
	}

	if cfg.Secrets.StorePath == "" {
		cfg.Secrets.StorePath = "secrets.yaml"
	}

	if cfg.Secrets.KeyFile == "" {
		cfg.Secrets.KeyFile = "master.key"
	}

	if cfg.Webhooks.FreshnessWindowSecs == 0 {
		cfg.Webhooks.FreshnessWindowSecs = 300
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8420"
	}

	if cfg.Server.RequestsPerMinute == 0 {
		cfg.Server.RequestsPerMinute = 120
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validAutonomy := map[string]bool{"readonly": true, "supervised": true, "full": true}
	if !validAutonomy[c.Policy.Autonomy] {
		return fmt.Errorf("invalid autonomy: %s (must be readonly, supervised, or full)", c.Policy.Autonomy)
	}

	if c.Policy.WorkspaceOnly && c.Policy.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root is required when workspace_only is set")
	}

	if c.Budgets.MaxActionsPerHour < 0 {
		return fmt.Errorf("max_actions_per_hour must not be negative")
	}

	if c.Budgets.DailyCostCapCents < 0 {
		return fmt.Errorf("daily_cost_cap_cents must not be negative")
	}

	if c.Pairing.TokenMaxAgeDays < 0 {
		return fmt.Errorf("token_max_age_days must not be negative")
	}

	return nil
}
