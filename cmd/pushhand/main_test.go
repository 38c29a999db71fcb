package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pushhand/pushhand/internal/config"
	"github.com/pushhand/pushhand/internal/push"
)

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pushhand.yaml")
	if err := os.WriteFile(path, []byte("platform: ios\nlocale: de\nbridge_addr: 0.0.0.0:1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PUSHHAND_LOCALE", "es")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Platform != "ios" {
		t.Fatalf("file value lost: %q", cfg.Platform)
	}
	if cfg.Locale != "es" {
		t.Fatalf("env must override file, got %q", cfg.Locale)
	}

	applyFlags(cfg, "android", "127.0.0.1:9999", "debug")
	if cfg.Platform != "android" || cfg.BridgeAddr != "127.0.0.1:9999" || cfg.LogLevel != "debug" {
		t.Fatalf("flags must override env and file: %+v", cfg)
	}
	applyFlags(cfg, "", "", "")
	if cfg.Platform != "android" {
		t.Fatal("empty flags must not reset values")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	t.Setenv("PUSHHAND_PENDING_LIMIT", "lots")
	if _, err := loadConfig(""); err == nil {
		t.Fatal("expected error for invalid env")
	}
}

func TestMetricsMux(t *testing.T) {
	srv := httptest.NewServer(metricsMux())
	defer srv.Close()
	for _, p := range []string{"/metrics", "/status"} {
		resp, err := http.Get(srv.URL + p)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s returned %d", p, resp.StatusCode)
		}
	}
}

func TestConnectBackendsWithoutServices(t *testing.T) {
	cfg := config.DefaultConfig()
	opts, closers, err := connectBackends(context.Background(), cfg, push.Android())
	if err != nil || len(opts) != 0 || len(closers) != 0 {
		t.Fatalf("expected nothing wired, got %d opts %d closers %v", len(opts), len(closers), err)
	}

	// apple tokens are never sent to fcm
	cfg.FCMProjectID = "demo"
	opts, _, err = connectBackends(context.Background(), cfg, push.Apple())
	if err != nil || len(opts) != 0 {
		t.Fatalf("expected fcm to be skipped for apple, got %d opts %v", len(opts), err)
	}
}

func TestConnectBackendsReportsDialErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NATSURL = "nats://127.0.0.1:1"
	_, _, err := connectBackends(context.Background(), cfg, push.Android())
	if err == nil || !strings.Contains(err.Error(), "nats") {
		t.Fatalf("expected nats dial error, got %v", err)
	}
}
