package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for pushhand
type Config struct {
	// Platform descriptor of the device shell ("ios", "android", ...)
	Platform string `json:"platform" yaml:"platform"`
	// Locale used for the reply action strings, BCP 47 (e.g. "pt-BR")
	Locale string `json:"locale" yaml:"locale"`

	// Bridge listener the native shell connects to
	BridgeAddr string `json:"bridge_addr" yaml:"bridge_addr"`
	BridgePath string `json:"bridge_path" yaml:"bridge_path"`
	// Browser origins allowed to open the bridge; empty accepts any
	BridgeOrigins []string `json:"bridge_origins" yaml:"bridge_origins"`
	// How long Configure waits for the shell to report a cold-start notification
	InitialNotificationTimeout time.Duration `json:"initial_notification_timeout" yaml:"initial_notification_timeout"`

	// Opened notifications kept until a callback is configured; 0 drops them
	PendingLimit int           `json:"pending_limit" yaml:"pending_limit"`
	SinkTimeout  time.Duration `json:"sink_timeout" yaml:"sink_timeout"`

	// Notification configuration
	NotificationLevel  string        `json:"notification_level" yaml:"notification_level"` // "all", "failure", "none"
	AlertCooldown      time.Duration `json:"alert_cooldown" yaml:"alert_cooldown"`
	AlertRetries       int           `json:"alert_retries" yaml:"alert_retries"`
	AlertRatePerMinute int           `json:"alert_rate_per_minute" yaml:"alert_rate_per_minute"`

	WebhookURL   string `json:"webhook_url" yaml:"webhook_url"`
	SlackWebhook string `json:"slack_webhook" yaml:"slack_webhook"`
	GotifyURL    string `json:"gotify_url" yaml:"gotify_url"`
	GotifyToken  string `json:"gotify_token" yaml:"gotify_token"`

	EmailHost string   `json:"email_host" yaml:"email_host"`
	EmailPort int      `json:"email_port" yaml:"email_port"`
	EmailUser string   `json:"email_user" yaml:"email_user"`
	EmailPass string   `json:"email_pass" yaml:"email_pass"`
	EmailFrom string   `json:"email_from" yaml:"email_from"`
	EmailTo   []string `json:"email_to" yaml:"email_to"`

	// Metrics
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPort    int  `json:"metrics_port" yaml:"metrics_port"`

	// InfluxDB (push)
	InfluxURL      string        `json:"influx_url" yaml:"influx_url"`
	InfluxToken    string        `json:"influx_token" yaml:"influx_token"`
	InfluxOrg      string        `json:"influx_org" yaml:"influx_org"`
	InfluxBucket   string        `json:"influx_bucket" yaml:"influx_bucket"`
	InfluxInterval time.Duration `json:"influx_interval" yaml:"influx_interval"`

	// NATS delivery of opened notifications and quick replies
	NATSURL          string `json:"nats_url" yaml:"nats_url"`
	NATSSubject      string `json:"nats_subject" yaml:"nats_subject"`
	NATSReplySubject string `json:"nats_reply_subject" yaml:"nats_reply_subject"`

	// Redis token registry
	RedisAddr     string        `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `json:"redis_password" yaml:"redis_password"`
	RedisDB       int           `json:"redis_db" yaml:"redis_db"`
	StaleTokenTTL time.Duration `json:"stale_token_ttl" yaml:"stale_token_ttl"`

	// InstallationID overrides the id persisted in the state file.
	InstallationID string `json:"installation_id" yaml:"installation_id"`
	StateDir       string `json:"state_dir" yaml:"state_dir"`

	// Firebase topic subscription
	FCMCredentialsFile string `json:"fcm_credentials_file" yaml:"fcm_credentials_file"`
	FCMProjectID       string `json:"fcm_project_id" yaml:"fcm_project_id"`
	FCMTopic           string `json:"fcm_topic" yaml:"fcm_topic"`

	LogFile    string `json:"log_file" yaml:"log_file"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogConsole bool   `json:"log_console" yaml:"log_console"`
}

// DefaultConfig returns a sane default configuration
func DefaultConfig() *Config {
	return &Config{
		Locale:                     "en",
		BridgeAddr:                 "127.0.0.1:8787",
		BridgePath:                 "/bridge",
		InitialNotificationTimeout: 5 * time.Second,
		PendingLimit:               32,
		SinkTimeout:                10 * time.Second,

		NotificationLevel:  "failure",
		AlertCooldown:      10 * time.Minute,
		AlertRetries:       3,
		AlertRatePerMinute: 6,
		EmailPort:          587,

		// Metrics defaults (opt-in)
		MetricsEnabled: false,
		MetricsPort:    9090,

		// Influx defaults
		InfluxInterval: 1 * time.Minute,

		NATSSubject:      "pushhand.notifications.opened",
		NATSReplySubject: "pushhand.notifications.reply",

		StaleTokenTTL: 30 * 24 * time.Hour,
		FCMTopic:      "all",

		LogLevel: "info",
	}
}

var notificationLevels = map[string]bool{"all": true, "failure": true, "none": true}

// Validate returns a list of non-fatal configuration warnings, such as
// incomplete notifier credential combinations.
func (c *Config) Validate() []string {
	var warnings []string
	checks := []struct {
		cond bool
		msg  string
	}{
		{c.Platform == "", "platform is empty; it must be supplied by flag, env or the bridge hello"},
		{!notificationLevels[strings.ToLower(c.NotificationLevel)], fmt.Sprintf("unknown notification level %q (expected all, failure or none)", c.NotificationLevel)},
		{c.PendingLimit < 0, "pending_limit is negative; the default will be used"},
		{c.GotifyURL != "" && c.GotifyToken == "", "gotify URL provided but token is missing"},
		{c.GotifyToken != "" && c.GotifyURL == "", "gotify token provided but URL is missing"},
		{c.EmailHost != "" && len(c.EmailTo) == 0, "email host provided but no recipients configured (EmailTo)"},
		{c.EmailHost == "" && len(c.EmailTo) > 0, "email recipients configured but email host is empty"},
		{c.NATSURL != "" && c.NATSSubject == "", "nats URL provided but subject is empty"},
		{c.FCMCredentialsFile != "" && c.FCMTopic == "", "fcm credentials provided but topic is empty"},
		{c.FCMTopic != "" && c.FCMCredentialsFile == "" && c.FCMProjectID != "", "fcm project set without credentials file; application default credentials will be used"},
		{c.InfluxURL != "" && c.InfluxBucket == "", "influx URL provided but bucket is missing"},
	}
	for _, ch := range checks {
		if ch.cond {
			warnings = append(warnings, ch.msg)
		}
	}
	if !strings.HasPrefix(c.BridgePath, "/") {
		warnings = append(warnings, fmt.Sprintf("bridge path %q should start with /", c.BridgePath))
	}
	return warnings
}

// LoadConfigFromFile loads config from a YAML/JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
