package config

import (
	"strings"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: Config{
				Policy: PolicyConfig{
					Autonomy: "supervised",
				},
			},
			wantErr: false,
		},
		{
			name: "invalid autonomy",
			config: Config{
				Policy: PolicyConfig{
					Autonomy: "yolo",
				},
			},
			wantErr: true,
			errMsg:  "invalid autonomy",
		},
		{
			name: "workspace_only without root",
			config: Config{
				Policy: PolicyConfig{
					Autonomy:      "full",
					WorkspaceOnly: true,
				},
			},
			wantErr: true,
			errMsg:  "workspace_root is required",
		},
		{
			name: "negative action budget",
			config: Config{
				Policy:  PolicyConfig{Autonomy: "readonly"},
				Budgets: BudgetsConfig{MaxActionsPerHour: -1},
			},
			wantErr: true,
			errMsg:  "max_actions_per_hour",
		},
		{
			name: "negative cost cap",
			config: Config{
				Policy:  PolicyConfig{Autonomy: "readonly"},
				Budgets: BudgetsConfig{DailyCostCapCents: -5},
			},
			wantErr: true,
			errMsg:  "daily_cost_cap_cents",
		},
		{
			name: "negative token age",
			config: Config{
				Policy:  PolicyConfig{Autonomy: "readonly"},
				Pairing: PairingConfig{TokenMaxAgeDays: -1},
			},
			wantErr: true,
			errMsg:  "token_max_age_days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Validate() error = nil, want error")
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %q, want containing %q", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.Policy.Autonomy != "supervised" {
		t.Errorf("default autonomy = %q, want %q", cfg.Policy.Autonomy, "supervised")
	}
	if cfg.Budgets.MaxActionsPerHour != 20 {
		t.Errorf("default max_actions_per_hour = %d, want 20", cfg.Budgets.MaxActionsPerHour)
	}
	if cfg.Budgets.DailyCostCapCents != 500 {
		t.Errorf("default daily_cost_cap_cents = %d, want 500", cfg.Budgets.DailyCostCapCents)
	}
	if cfg.Pairing.TokenMaxAgeDays != 0 {
		t.Errorf("default token_max_age_days = %d, want 0 (no expiry)", cfg.Pairing.TokenMaxAgeDays)
	}
	if cfg.Webhooks.FreshnessWindowSecs != 300 {
		t.Errorf("default freshness_window_secs = %d, want 300", cfg.Webhooks.FreshnessWindowSecs)
	}
	if cfg.Server.Addr != "127.0.0.1:8420" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, "127.0.0.1:8420")
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Policy:  PolicyConfig{Autonomy: "readonly"},
		Budgets: BudgetsConfig{MaxActionsPerHour: 3, DailyCostCapCents: 100},
		Server:  ServerConfig{Addr: ":9999"},
	}
	applyDefaults(cfg)

	if cfg.Policy.Autonomy != "readonly" {
		t.Errorf("autonomy = %q, want explicit %q kept", cfg.Policy.Autonomy, "readonly")
	}
	if cfg.Budgets.MaxActionsPerHour != 3 || cfg.Budgets.DailyCostCapCents != 100 {
		t.Errorf("budgets = %+v, want explicit values kept", cfg.Budgets)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q, want explicit value kept", cfg.Server.Addr)
	}
}
