package config

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides(t *testing.T) {
	applyEnvSetup(t)

	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}
	validateAppliedEnvOverrides(t, cfg)
}

func applyEnvSetup(t *testing.T) {
	t.Helper()
	env := map[string]string{
		"PUSHHAND_PLATFORM":           "android",
		"PUSHHAND_LOCALE":             "es",
		"PUSHHAND_PENDING_LIMIT":      "0",
		"PUSHHAND_METRICS_ENABLED":    "true",
		"PUSHHAND_METRICS_PORT":       "9100",
		"PUSHHAND_INFLUX_URL":         "http://influx:8086",
		"PUSHHAND_INFLUX_BUCKET":      "b",
		"PUSHHAND_INFLUX_ORG":         "o",
		"PUSHHAND_INFLUX_TOKEN":       "t",
		"PUSHHAND_INFLUX_INTERVAL":    "30s",
		"PUSHHAND_NATS_URL":           "nats://nats:4222",
		"PUSHHAND_REDIS_DB":           "2",
		"PUSHHAND_STALE_TOKEN_TTL":    "1h",
		"PUSHHAND_EMAIL_TO":           "a@example.com, b@example.com",
		"PUSHHAND_NOTIFICATION_LEVEL": "all",
		"PUSHHAND_BRIDGE_ORIGINS":     "https://app.example.com,capacitor://localhost",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func validateAppliedEnvOverrides(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.Platform != "android" || cfg.Locale != "es" {
		t.Fatalf("unexpected platform/locale: %s/%s", cfg.Platform, cfg.Locale)
	}
	if cfg.PendingLimit != 0 {
		t.Fatalf("expected pending limit 0, got %d", cfg.PendingLimit)
	}
	if !cfg.MetricsEnabled || cfg.MetricsPort != 9100 {
		t.Fatalf("unexpected metrics config: %v/%d", cfg.MetricsEnabled, cfg.MetricsPort)
	}
	if cfg.InfluxURL != "http://influx:8086" || cfg.InfluxBucket != "b" || cfg.InfluxOrg != "o" || cfg.InfluxToken != "t" {
		t.Fatalf("unexpected influx config: %+v", cfg)
	}
	if cfg.InfluxInterval != 30*time.Second {
		t.Fatalf("unexpected influx interval: %v", cfg.InfluxInterval)
	}
	if cfg.NATSURL != "nats://nats:4222" || cfg.RedisDB != 2 || cfg.StaleTokenTTL != time.Hour {
		t.Fatalf("unexpected backend config: %+v", cfg)
	}
	if len(cfg.EmailTo) != 2 || cfg.EmailTo[1] != "b@example.com" {
		t.Fatalf("unexpected email recipients: %v", cfg.EmailTo)
	}
	if len(cfg.BridgeOrigins) != 2 || cfg.BridgeOrigins[1] != "capacitor://localhost" {
		t.Fatalf("unexpected bridge origins: %v", cfg.BridgeOrigins)
	}
	if cfg.NotificationLevel != "all" {
		t.Fatalf("unexpected notification level: %s", cfg.NotificationLevel)
	}
}

func TestApplyEnvOverridesInvalid(t *testing.T) {
	tests := map[string]string{
		"PUSHHAND_PENDING_LIMIT":   "many",
		"PUSHHAND_METRICS_ENABLED": "maybe",
		"PUSHHAND_INFLUX_INTERVAL": "soon",
		"PUSHHAND_REDIS_DB":        "x",
	}
	for env, val := range tests {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			if err := ApplyEnvOverrides(DefaultConfig()); err == nil {
				t.Fatalf("expected error for %s=%s", env, val)
			}
		})
	}
}
