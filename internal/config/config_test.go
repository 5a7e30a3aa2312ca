package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		ProviderMode:   ProviderModeTiered,
		GrsAIAPIKey:    "grs-key",
		RecoveryWindow: 30 * time.Minute,
		FreeTrialLimit: 1,
		MonthlyQuota:   90,
		YearlyQuota:    1260,

		RetentionSweepInterval: 24 * time.Hour,
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"tiered with async key", func(c *Config) {}, ""},
		{"async without key", func(c *Config) { c.ProviderMode = ProviderModeAsync; c.GrsAIAPIKey = "" }, "GRSAI_API_KEY"},
		{"sync without key", func(c *Config) { c.ProviderMode = ProviderModeSync }, "GEMINI_API_KEY"},
		{"gemini without bucket", func(c *Config) { c.GeminiAPIKey = "g" }, "S3_BUCKET"},
		{"presigned urls outlived", func(c *Config) { c.S3Bucket = "b"; c.RetentionPeriod = 720 * time.Hour }, "S3_PUBLIC_BASE_URL"},
		{"presigned urls within retention", func(c *Config) { c.S3Bucket = "b"; c.RetentionPeriod = 72 * time.Hour }, ""},
		{"public bucket with long retention", func(c *Config) {
			c.S3Bucket = "b"
			c.S3PublicBaseURL = "https://cdn.example.com"
			c.RetentionPeriod = 720 * time.Hour
		}, ""},
		{"unknown mode", func(c *Config) { c.ProviderMode = "round-robin" }, "unknown PROVIDER_MODE"},
		{"zero window", func(c *Config) { c.RecoveryWindow = 0 }, "RECOVERY_WINDOW"},
		{"zero sweep interval", func(c *Config) { c.RetentionSweepInterval = 0 }, "RETENTION_SWEEP_INTERVAL"},
		{"negative quota", func(c *Config) { c.FreeTrialLimit = -1 }, "quota limits"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GRSAI_API_KEY", "grs-key")
	t.Setenv("RECOVERY_WINDOW", "45m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProviderMode != ProviderModeTiered {
		t.Errorf("provider mode: got %q, want tiered", cfg.ProviderMode)
	}
	if cfg.RecoveryWindow != 45*time.Minute {
		t.Errorf("recovery window: got %v, want 45m", cfg.RecoveryWindow)
	}
	if cfg.FreeTrialLimit != 1 || cfg.MonthlyQuota != 90 || cfg.YearlyQuota != 1260 {
		t.Errorf("unexpected quota defaults: %+v", cfg)
	}
}

func TestLimits(t *testing.T) {
	cfg := &Config{FreeTrialLimit: 2, MonthlyQuota: 30, YearlyQuota: 400}
	l := cfg.Limits()
	if l.FreeTrial != 2 || l.Monthly != 30 || l.Yearly != 400 {
		t.Errorf("unexpected limits %+v", l)
	}
}
