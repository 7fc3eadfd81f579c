// Package main provides the WattMon server CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/wattmon/internal/ingest"
	"github.com/good-yellow-bee/wattmon/internal/logging"
	"github.com/good-yellow-bee/wattmon/internal/notifier"
)

// envPrefix prefixes every environment override.
const envPrefix = "WATTMON_"

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Alerting AlertingConfig `yaml:"alerting"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  logging.Config `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Verbose  bool           `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	HTTPAddress string    `yaml:"http_address"` // HTTP listen address (default: :8080)
	TLS         TLSConfig `yaml:"tls"`
}

// TLSConfig contains HTTPS settings for the API server.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig contains token and login protection settings.
type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	AccessTokenTTL   string `yaml:"access_token_ttl"`
	RefreshTokenTTL  string `yaml:"refresh_token_ttl"`
	LockoutThreshold int    `yaml:"lockout_threshold"`
	LockoutDuration  string `yaml:"lockout_duration"`
	RateLimitPerIP   int    `yaml:"rate_limit_per_ip"`
	RateLimitPerUser int    `yaml:"rate_limit_per_user"`
}

// IngestConfig contains reading ingest settings.
type IngestConfig struct {
	// SigningSecret enables HMAC checks on batch readings when set.
	SigningSecret    string     `yaml:"signing_secret"`
	MaxReadingsRange string     `yaml:"max_readings_range"`
	MQTT             MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig enables the MQTT device transport.
type MQTTConfig struct {
	Enabled           bool `yaml:"enabled"`
	ingest.MQTTConfig `yaml:",inline"`
}

// AlertingConfig contains rule evaluation settings.
type AlertingConfig struct {
	RulesFile string `yaml:"rules_file"`
	// WatchRules reloads the rules file when it changes.
	WatchRules bool   `yaml:"watch_rules"`
	GapSlack   string `yaml:"gap_slack"`
	Timezone   string `yaml:"timezone"`
}

// WatchdogConfig contains offline sweep settings.
type WatchdogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// NotifyConfig contains notification channel settings.
type NotifyConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Email     EmailConfig     `yaml:"email"`
	Slack     SlackConfig     `yaml:"slack"`
	SNS       SNSConfig       `yaml:"sns"`
	Kafka     KafkaConfig     `yaml:"kafka"`
}

// RateLimitConfig bounds digest delivery.
type RateLimitConfig struct {
	Disabled     bool   `yaml:"disabled"`
	MaxPerWindow int    `yaml:"max_per_window"`
	Window       string `yaml:"window"`
}

// EmailConfig contains SMTP settings.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	Bcc      []string `yaml:"bcc"`
}

// SlackConfig contains webhook settings.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// SNSConfig contains AWS SNS settings.
type SNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Region   string `yaml:"region"`
	TopicARN string `yaml:"topic_arn"`
}

// KafkaConfig contains alert event topic settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoadConfig loads configuration from a YAML file. An empty path yields the
// defaults. Environment overrides are applied before validation.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Watchdog: WatchdogConfig{Enabled: true},
		Metrics:  MetricsConfig{Enabled: true},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file if one exists. Variables already
// set in the environment win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		Watchdog: WatchdogConfig{Enabled: true},
		Metrics:  MetricsConfig{Enabled: true},
	}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/wattmon.db"
	}
	if c.Auth.AccessTokenTTL == "" {
		c.Auth.AccessTokenTTL = "15m"
	}
	if c.Auth.RefreshTokenTTL == "" {
		c.Auth.RefreshTokenTTL = "168h"
	}
	if c.Auth.LockoutDuration == "" {
		c.Auth.LockoutDuration = "30m"
	}
	if c.Ingest.MaxReadingsRange == "" {
		c.Ingest.MaxReadingsRange = "744h"
	}
	if c.Alerting.GapSlack == "" {
		c.Alerting.GapSlack = "60s"
	}
	if c.Alerting.Timezone == "" {
		c.Alerting.Timezone = "UTC"
	}
	if c.Watchdog.Interval == "" {
		c.Watchdog.Interval = "1m"
	}
	if c.Notify.RateLimit.MaxPerWindow == 0 {
		c.Notify.RateLimit.MaxPerWindow = 10
	}
	if c.Notify.RateLimit.Window == "" {
		c.Notify.RateLimit.Window = "1m"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	c.Logging.SetDefaults()
}

// applyEnv overrides settings from WATTMON_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HTTP_ADDRESS":      &c.Server.HTTPAddress,
		"DB_PATH":           &c.Database.Path,
		"JWT_SECRET":        &c.Auth.JWTSecret,
		"INGEST_SECRET":     &c.Ingest.SigningSecret,
		"MQTT_BROKER":       &c.Ingest.MQTT.Broker,
		"MQTT_USERNAME":     &c.Ingest.MQTT.Username,
		"MQTT_PASSWORD":     &c.Ingest.MQTT.Password,
		"RULES_FILE":        &c.Alerting.RulesFile,
		"TIMEZONE":          &c.Alerting.Timezone,
		"SMTP_HOST":         &c.Notify.Email.Host,
		"SMTP_USERNAME":     &c.Notify.Email.Username,
		"SMTP_PASSWORD":     &c.Notify.Email.Password,
		"SMTP_FROM":         &c.Notify.Email.From,
		"SLACK_WEBHOOK_URL": &c.Notify.Slack.WebhookURL,
		"SNS_TOPIC_ARN":     &c.Notify.SNS.TopicARN,
		"SNS_REGION":        &c.Notify.SNS.Region,
		"KAFKA_TOPIC":       &c.Notify.Kafka.Topic,
		"LOG_LEVEL":         &c.Logging.Level,
		"LOG_FORMAT":        &c.Logging.Format,
		"LOG_FILE":          &c.Logging.File,
		"METRICS_ADDRESS":   &c.Metrics.Address,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(envPrefix + "KAFKA_BROKERS"); ok {
		c.Notify.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup(envPrefix + "SMTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSMTP_PORT: %w", envPrefix, err)
		}
		c.Notify.Email.Port = port
	}

	bools := map[string]*bool{
		"MQTT_ENABLED":     &c.Ingest.MQTT.Enabled,
		"WATCHDOG_ENABLED": &c.Watchdog.Enabled,
		"METRICS_ENABLED":  &c.Metrics.Enabled,
		"EMAIL_ENABLED":    &c.Notify.Email.Enabled,
		"SLACK_ENABLED":    &c.Notify.Slack.Enabled,
		"SNS_ENABLED":      &c.Notify.SNS.Enabled,
		"KAFKA_ENABLED":    &c.Notify.Kafka.Enabled,
	}
	for key, dst := range bools {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (or set %sJWT_SECRET)", envPrefix)
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}

	durations := []struct {
		name  string
		value string
	}{
		{"auth.access_token_ttl", c.Auth.AccessTokenTTL},
		{"auth.refresh_token_ttl", c.Auth.RefreshTokenTTL},
		{"auth.lockout_duration", c.Auth.LockoutDuration},
		{"ingest.max_readings_range", c.Ingest.MaxReadingsRange},
		{"alerting.gap_slack", c.Alerting.GapSlack},
		{"watchdog.interval", c.Watchdog.Interval},
		{"notify.rate_limit.window", c.Notify.RateLimit.Window},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	if _, err := time.LoadLocation(c.Alerting.Timezone); err != nil {
		return fmt.Errorf("alerting.timezone: %w", err)
	}

	if c.Ingest.MQTT.Enabled {
		if err := c.Ingest.MQTT.Validate(); err != nil {
			return fmt.Errorf("ingest.mqtt: %w", err)
		}
	}
	if c.Notify.Email.Enabled {
		if err := c.Notify.Email.notifierConfig().Validate(); err != nil {
			return fmt.Errorf("notify.email: %w", err)
		}
	}
	if c.Notify.Slack.Enabled {
		cfg := notifier.SlackConfig{WebhookURL: c.Notify.Slack.WebhookURL}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("notify.slack: %w", err)
		}
	}
	if c.Notify.SNS.Enabled {
		cfg := notifier.SNSConfig{Region: c.Notify.SNS.Region, TopicARN: c.Notify.SNS.TopicARN}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("notify.sns: %w", err)
		}
	}
	if c.Notify.Kafka.Enabled {
		cfg := notifier.KafkaConfig{Brokers: c.Notify.Kafka.Brokers, Topic: c.Notify.Kafka.Topic}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("notify.kafka: %w", err)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

func (c EmailConfig) notifierConfig() *notifier.EmailConfig {
	return &notifier.EmailConfig{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		Bcc:      c.Bcc,
	}
}

// duration parses a duration that Validate already checked.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
