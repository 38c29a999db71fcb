package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pushhand/pushhand/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	c := config.DefaultConfig()
	if c.PendingLimit != 32 {
		t.Fatalf("expected default pending limit 32, got %d", c.PendingLimit)
	}
	if c.BridgePath != "/bridge" {
		t.Fatalf("unexpected bridge path %q", c.BridgePath)
	}
	if c.InitialNotificationTimeout <= 0 {
		t.Fatal("expected a positive initial notification timeout")
	}
	if c.NotificationLevel != "failure" {
		t.Fatalf("unexpected default notification level %q", c.NotificationLevel)
	}
}

func TestValidateWarnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"gotify without token", func(c *config.Config) { c.GotifyURL = "https://gotify" }, "gotify URL"},
		{"gotify without url", func(c *config.Config) { c.GotifyToken = "tok" }, "gotify token"},
		{"email without recipients", func(c *config.Config) { c.EmailHost = "mail" }, "no recipients"},
		{"bad level", func(c *config.Config) { c.NotificationLevel = "loud" }, "unknown notification level"},
		{"nats without subject", func(c *config.Config) { c.NATSURL = "nats://x"; c.NATSSubject = "" }, "nats URL"},
		{"bridge path", func(c *config.Config) { c.BridgePath = "bridge" }, "should start with /"},
	}
	for _, tt := range tests {
		cfg := config.DefaultConfig()
		cfg.Platform = "ios"
		tt.mutate(cfg)
		found := false
		for _, w := range cfg.Validate() {
			if strings.Contains(w, tt.want) {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: expected warning containing %q, got %v", tt.name, tt.want, cfg.Validate())
		}
	}

	clean := config.DefaultConfig()
	clean.Platform = "android"
	if w := clean.Validate(); len(w) != 0 {
		t.Fatalf("expected no warnings for defaults, got %v", w)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pushhand.yaml")
	body := "platform: ios\nlocale: pt-BR\npending_limit: 4\ninitial_notification_timeout: 2s\nemail_to:\n  - ops@example.com\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile failed: %v", err)
	}
	if cfg.Platform != "ios" || cfg.Locale != "pt-BR" || cfg.PendingLimit != 4 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.InitialNotificationTimeout != 2*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.InitialNotificationTimeout)
	}
	// unset fields keep defaults
	if cfg.BridgePath != "/bridge" {
		t.Fatalf("expected default bridge path, got %q", cfg.BridgePath)
	}
	if _, err := config.LoadConfigFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("PUSHHAND_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PUSHHAND_TEST_DOTENV", "")
	os.Unsetenv("PUSHHAND_TEST_DOTENV")

	if err := config.LoadDotEnv(path, filepath.Join(dir, "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("PUSHHAND_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("expected value from .env, got %q", got)
	}
}
