package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.StructureConfig.PivotWindow != 5 {
		t.Errorf("PivotWindow default = %d, want 5", cfg.StructureConfig.PivotWindow)
	}
	if cfg.ConfidenceConfig.MinConfidence != 0.70 {
		t.Errorf("MinConfidence default = %v, want 0.70", cfg.ConfidenceConfig.MinConfidence)
	}
	if cfg.RiskConfig.HeatThreshold != 0.6 {
		t.Errorf("HeatThreshold default = %v, want 0.6", cfg.RiskConfig.HeatThreshold)
	}
	if cfg.DispatchConfig.QueueSize != 256 {
		t.Errorf("QueueSize default = %d, want 256", cfg.DispatchConfig.QueueSize)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"pivot window zero", func(c *Config) { c.StructureConfig.PivotWindow = 0 }, "pivot_window"},
		{"one pivot per side", func(c *Config) { c.StructureConfig.MinPivotsPerSide = 1 }, "min_pivots_per_side"},
		{"negative creek", func(c *Config) { c.StructureConfig.CreekTolerancePct = -0.3 }, "tolerances"},
		{"ice tighter than creek", func(c *Config) {
			c.StructureConfig.CreekTolerancePct = 1.0
			c.StructureConfig.IceTolerancePct = 0.3
		}, "ice_tolerance_pct"},
		{"floor above one", func(c *Config) { c.ConfidenceConfig.MinConfidence = 1.2 }, "min_confidence"},
		{"floor zero", func(c *Config) { c.ConfidenceConfig.MinConfidence = 0 }, "min_confidence"},
		{"weights off unit sum", func(c *Config) { c.ConfidenceConfig.PatternWeight = 0.5 }, "sum to 1"},
		{"heat above one", func(c *Config) { c.RiskConfig.HeatThreshold = 1.5 }, "heat_threshold"},
		{"window of one return", func(c *Config) { c.RiskConfig.CorrelationWindow = 1 }, "correlation_window"},
		{"zero queue", func(c *Config) { c.DispatchConfig.QueueSize = 0 }, "queue_size"},
		{"auth without secret", func(c *Config) {
			c.AuthConfig.Enabled = true
			c.AuthConfig.JWTSecret = ""
		}, "jwt_secret"},
		{"database without credentials", func(c *Config) {
			c.DatabaseConfig.Enabled = true
			c.DatabaseConfig.User = ""
			c.VaultConfig.Enabled = false
		}, "database.user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate passed, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestVaultSuppliesDatabaseCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseConfig.Enabled = true
	cfg.DatabaseConfig.User = ""
	cfg.VaultConfig.Enabled = true

	if err := cfg.Validate(); err != nil {
		t.Fatalf("vault-backed database config rejected: %v", err)
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("STRUCTURE_PIVOT_WINDOW", "8")
	t.Setenv("CONFIDENCE_MIN", "0.85")
	t.Setenv("RISK_HEAT_THRESHOLD", "0.4")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := &Config{}
	applyEnvOverrides(cfg)

	if cfg.StructureConfig.PivotWindow != 8 {
		t.Errorf("PivotWindow = %d, want 8", cfg.StructureConfig.PivotWindow)
	}
	if cfg.ConfidenceConfig.MinConfidence != 0.85 {
		t.Errorf("MinConfidence = %v, want 0.85", cfg.ConfidenceConfig.MinConfidence)
	}
	if cfg.RiskConfig.HeatThreshold != 0.4 {
		t.Errorf("HeatThreshold = %v, want 0.4", cfg.RiskConfig.HeatThreshold)
	}
	if cfg.LoggingConfig.Level != "DEBUG" {
		t.Errorf("Level = %s, want DEBUG", cfg.LoggingConfig.Level)
	}
}
