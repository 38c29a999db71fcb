package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides reads configuration values from environment variables and
// overrides fields in the provided Config. Returns an error if parsing fails.
//
// Environment variables supported include:
// - PUSHHAND_PLATFORM (string, e.g. "ios")
// - PUSHHAND_LOCALE (string, e.g. "pt-BR")
// - PUSHHAND_BRIDGE_ADDR / PUSHHAND_BRIDGE_PATH
// - PUSHHAND_BRIDGE_ORIGINS (comma separated)
// - PUSHHAND_PENDING_LIMIT (int)
// - PUSHHAND_NOTIFICATION_LEVEL ("all", "failure", "none")
// - PUSHHAND_METRICS_ENABLED (bool) / PUSHHAND_METRICS_PORT (int)
// - PUSHHAND_INFLUX_URL, _TOKEN, _ORG, _BUCKET, _INTERVAL
// - PUSHHAND_NATS_URL, _SUBJECT, _REPLY_SUBJECT
// - PUSHHAND_REDIS_ADDR, _PASSWORD, _DB, PUSHHAND_STALE_TOKEN_TTL
// - PUSHHAND_FCM_CREDENTIALS_FILE, _PROJECT_ID, _TOPIC
func ApplyEnvOverrides(cfg *Config) error {
	// Device and bridge
	if err := applyBasicEnv(cfg); err != nil {
		return err
	}

	// Alerts
	if err := applyNotificationEnv(cfg); err != nil {
		return err
	}

	// Email
	if err := applyEmailEnv(cfg); err != nil {
		return err
	}

	// Metrics
	if err := applyMetricsEnv(cfg); err != nil {
		return err
	}

	// Influx
	if err := applyInfluxEnv(cfg); err != nil {
		return err
	}

	// NATS, Redis, FCM
	if err := applyBackendEnv(cfg); err != nil {
		return err
	}

	// Logging and state
	return applyRuntimeEnv(cfg)
}

func applyBasicEnv(cfg *Config) error {
	setStringEnv("PUSHHAND_PLATFORM", &cfg.Platform)
	setStringEnv("PUSHHAND_LOCALE", &cfg.Locale)
	setStringEnv("PUSHHAND_BRIDGE_ADDR", &cfg.BridgeAddr)
	setStringEnv("PUSHHAND_BRIDGE_PATH", &cfg.BridgePath)
	setListEnv("PUSHHAND_BRIDGE_ORIGINS", &cfg.BridgeOrigins)
	if err := setDurationEnv("PUSHHAND_INITIAL_NOTIFICATION_TIMEOUT", &cfg.InitialNotificationTimeout); err != nil {
		return err
	}
	if err := setIntEnv("PUSHHAND_PENDING_LIMIT", &cfg.PendingLimit); err != nil {
		return err
	}
	return setDurationEnv("PUSHHAND_SINK_TIMEOUT", &cfg.SinkTimeout)
}

// applyNotificationEnv consolidates alert-related env parsing
func applyNotificationEnv(cfg *Config) error {
	setStringEnv("PUSHHAND_NOTIFICATION_LEVEL", &cfg.NotificationLevel)
	setStringEnv("PUSHHAND_WEBHOOK_URL", &cfg.WebhookURL)
	setStringEnv("PUSHHAND_SLACK_WEBHOOK", &cfg.SlackWebhook)
	setStringEnv("PUSHHAND_GOTIFY_URL", &cfg.GotifyURL)
	setStringEnv("PUSHHAND_GOTIFY_TOKEN", &cfg.GotifyToken)
	if err := setDurationEnv("PUSHHAND_ALERT_COOLDOWN", &cfg.AlertCooldown); err != nil {
		return err
	}
	if err := setIntEnv("PUSHHAND_ALERT_RETRIES", &cfg.AlertRetries); err != nil {
		return err
	}
	return setIntEnv("PUSHHAND_ALERT_RATE_PER_MINUTE", &cfg.AlertRatePerMinute)
}

// applyEmailEnv consolidates email-related env parsing
func applyEmailEnv(cfg *Config) error {
	setStringEnv("PUSHHAND_EMAIL_HOST", &cfg.EmailHost)
	setStringEnv("PUSHHAND_EMAIL_USER", &cfg.EmailUser)
	setStringEnv("PUSHHAND_EMAIL_PASS", &cfg.EmailPass)
	setStringEnv("PUSHHAND_EMAIL_FROM", &cfg.EmailFrom)
	if err := setIntEnv("PUSHHAND_EMAIL_PORT", &cfg.EmailPort); err != nil {
		return err
	}
	setListEnv("PUSHHAND_EMAIL_TO", &cfg.EmailTo)
	return nil
}

// applyMetricsEnv consolidates metrics-related env parsing
func applyMetricsEnv(cfg *Config) error {
	if err := setBoolEnv("PUSHHAND_METRICS_ENABLED", func(b bool) { cfg.MetricsEnabled = b }); err != nil {
		return err
	}
	return setIntEnv("PUSHHAND_METRICS_PORT", &cfg.MetricsPort)
}

// applyInfluxEnv consolidates Influx-related env parsing
func applyInfluxEnv(cfg *Config) error {
	setStringEnv("PUSHHAND_INFLUX_URL", &cfg.InfluxURL)
	setStringEnv("PUSHHAND_INFLUX_TOKEN", &cfg.InfluxToken)
	setStringEnv("PUSHHAND_INFLUX_ORG", &cfg.InfluxOrg)
	setStringEnv("PUSHHAND_INFLUX_BUCKET", &cfg.InfluxBucket)
	return setDurationEnv("PUSHHAND_INFLUX_INTERVAL", &cfg.InfluxInterval)
}

func applyBackendEnv(cfg *Config) error {
	setStringEnv("PUSHHAND_NATS_URL", &cfg.NATSURL)
	setStringEnv("PUSHHAND_NATS_SUBJECT", &cfg.NATSSubject)
	setStringEnv("PUSHHAND_NATS_REPLY_SUBJECT", &cfg.NATSReplySubject)

	setStringEnv("PUSHHAND_REDIS_ADDR", &cfg.RedisAddr)
	setStringEnv("PUSHHAND_REDIS_PASSWORD", &cfg.RedisPassword)
	if err := setIntEnv("PUSHHAND_REDIS_DB", &cfg.RedisDB); err != nil {
		return err
	}
	if err := setDurationEnv("PUSHHAND_STALE_TOKEN_TTL", &cfg.StaleTokenTTL); err != nil {
		return err
	}

	setStringEnv("PUSHHAND_FCM_CREDENTIALS_FILE", &cfg.FCMCredentialsFile)
	setStringEnv("PUSHHAND_FCM_PROJECT_ID", &cfg.FCMProjectID)
	setStringEnv("PUSHHAND_FCM_TOPIC", &cfg.FCMTopic)
	return nil
}

func applyRuntimeEnv(cfg *Config) error {
	setStringEnv("PUSHHAND_INSTALLATION_ID", &cfg.InstallationID)
	setStringEnv("PUSHHAND_STATE_DIR", &cfg.StateDir)
	setStringEnv("PUSHHAND_LOG_FILE", &cfg.LogFile)
	setStringEnv("PUSHHAND_LOG_LEVEL", &cfg.LogLevel)
	return setBoolEnv("PUSHHAND_LOG_CONSOLE", func(b bool) { cfg.LogConsole = b })
}

func setStringEnv(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// setListEnv splits a comma separated value
func setListEnv(env string, dst *[]string) {
	if v := os.Getenv(env); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
	}
}

func setIntEnv(env string, dst *int) error {
	if v := os.Getenv(env); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		*dst = n
	}
	return nil
}

func setDurationEnv(env string, dst *time.Duration) error {
	if v := os.Getenv(env); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		*dst = d
	}
	return nil
}

// setBoolEnv is a small helper to parse boolean environment variables
func setBoolEnv(env string, setter func(bool)) error {
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(b)
	}
	return nil
}
