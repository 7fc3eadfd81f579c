package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestConfigValidate_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = testSecret

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	if cfg.Server.HTTPAddress != ":8080" {
		t.Errorf("HTTPAddress = %q, want :8080", cfg.Server.HTTPAddress)
	}
	if got := duration(cfg.Alerting.GapSlack); got != time.Minute {
		t.Errorf("GapSlack = %v, want 1m", got)
	}
	if !cfg.Watchdog.Enabled || !cfg.Metrics.Enabled {
		t.Error("watchdog and metrics should be enabled by default")
	}
}

func TestConfigValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
		{"bad duration", func(c *Config) { c.Ingest.MaxReadingsRange = "not-a-duration" }},
		{"negative interval", func(c *Config) { c.Watchdog.Interval = "-1m" }},
		{"unknown timezone", func(c *Config) { c.Alerting.Timezone = "Mars/Olympus" }},
		{"tls without cert", func(c *Config) { c.Server.TLS.Enabled = true }},
		{"slack over http", func(c *Config) {
			c.Notify.Slack.Enabled = true
			c.Notify.Slack.WebhookURL = "http://hooks.example.com/x"
		}},
		{"mqtt without broker", func(c *Config) { c.Ingest.MQTT.Enabled = true }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Auth.JWTSecret = testSecret
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"WATTMON_HTTP_ADDRESS":     ":9000",
		"WATTMON_JWT_SECRET":       testSecret,
		"WATTMON_KAFKA_BROKERS":    "k1:9092, k2:9092,",
		"WATTMON_SMTP_PORT":        "2525",
		"WATTMON_WATCHDOG_ENABLED": "false",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Server.HTTPAddress != ":9000" {
		t.Errorf("HTTPAddress = %q", cfg.Server.HTTPAddress)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if len(cfg.Notify.Kafka.Brokers) != 2 || cfg.Notify.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Brokers = %v", cfg.Notify.Kafka.Brokers)
	}
	if cfg.Notify.Email.Port != 2525 {
		t.Errorf("Port = %d", cfg.Notify.Email.Port)
	}
	if cfg.Watchdog.Enabled {
		t.Error("watchdog should be disabled")
	}

	env["WATTMON_SMTP_PORT"] = "smtp"
	if err := cfg.applyEnv(lookup); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wattmon.yaml")
	data := `
server:
  http_address: ":8181"
database:
  path: /tmp/wattmon-test.db
auth:
  jwt_secret: "` + testSecret + `"
ingest:
  mqtt:
    enabled: true
    broker: tcp://localhost:1883
alerting:
  timezone: Europe/Berlin
watchdog:
  enabled: false
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.HTTPAddress != ":8181" && os.Getenv("WATTMON_HTTP_ADDRESS") == "" {
		t.Errorf("HTTPAddress = %q", cfg.Server.HTTPAddress)
	}
	if cfg.Ingest.MQTT.Broker != "tcp://localhost:1883" || cfg.Ingest.MQTT.Topic == "" {
		t.Errorf("MQTT = %+v", cfg.Ingest.MQTT)
	}
	if cfg.Alerting.Timezone != "Europe/Berlin" {
		t.Errorf("Timezone = %q", cfg.Alerting.Timezone)
	}
	if cfg.Watchdog.Enabled {
		t.Error("watchdog should be disabled")
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should stay enabled")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
}
