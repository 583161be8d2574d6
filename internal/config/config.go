// Package config assembles server settings from an optional YAML file
// (CONFIG_FILE) overlaid by environment variables, which always win.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dakael7/gravitylabs/internal/presence"
	"github.com/dakael7/gravitylabs/internal/repository"
	"github.com/dakael7/gravitylabs/internal/router"
	"github.com/dakael7/gravitylabs/internal/storage"
	"github.com/dakael7/gravitylabs/internal/validation"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = "8080"
	defaultBodyLimit      = 12 * 1000 * 1000
	defaultRedisAddr      = "localhost:6379"
	defaultNotifyCooldown = 10 * time.Minute
	defaultNotifyBurst    = 1
	defaultRetentionCron  = "0 3 * * *"
	defaultRetentionAge   = 90 * 24 * time.Hour
)

type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Auth      AuthConfig       `yaml:"auth"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Storage   storage.S3Config `yaml:"storage"`
	Limits    LimitsConfig     `yaml:"limits"`
	Presence  PresenceConfig   `yaml:"presence"`
	Router    RouterConfig     `yaml:"router"`
	Notify    NotifyConfig     `yaml:"notify"`
	Retention RetentionConfig  `yaml:"retention"`
}

type ServerConfig struct {
	Port           string    `yaml:"port"`
	AllowedOrigins string    `yaml:"allowed_origins"`
	CSRFMode       string    `yaml:"csrf_mode"`
	PublicBaseURL  string    `yaml:"public_base_url"`
	BodyLimit      SizeBytes `yaml:"body_limit"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LimitsConfig struct {
	MaxMessageLength  int       `yaml:"max_message_length"`
	MaxAttachmentSize SizeBytes `yaml:"max_attachment_size"`
}

type PresenceConfig struct {
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	LivenessWindow    Duration `yaml:"liveness_window"`
	SweepInterval     Duration `yaml:"sweep_interval"`
}

type RouterConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type NotifyConfig struct {
	ResendAPIKey     string   `yaml:"resend_api_key"`
	EmailFrom        string   `yaml:"email_from"`
	EmailTo          string   `yaml:"email_to"`
	TwilioAccountSID string   `yaml:"twilio_account_sid"`
	TwilioAuthToken  string   `yaml:"twilio_auth_token"`
	TwilioFrom       string   `yaml:"twilio_from"`
	SMSTo            string   `yaml:"sms_to"`
	Cooldown         Duration `yaml:"cooldown"`
	Burst            int      `yaml:"burst"`
	DashboardURL     string   `yaml:"dashboard_url"`
}

func (n NotifyConfig) EmailEnabled() bool {
	return n.ResendAPIKey != "" && n.EmailFrom != "" && n.EmailTo != ""
}

func (n NotifyConfig) SMSEnabled() bool {
	return n.TwilioAccountSID != "" && n.TwilioAuthToken != "" && n.TwilioFrom != "" && n.SMSTo != ""
}

// EmailRecipients splits the comma separated recipient list.
func (n NotifyConfig) EmailRecipients() []string {
	var out []string
	for _, addr := range strings.Split(n.EmailTo, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

type RetentionConfig struct {
	Enabled bool     `yaml:"enabled"`
	Cron    string   `yaml:"cron"`
	MaxAge  Duration `yaml:"max_age"`
}

// Load reads .env, then CONFIG_FILE when set, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{Retention: RetentionConfig{Enabled: true}}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	cfg := Config{Retention: RetentionConfig{Enabled: true}}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	envString("PORT", &c.Server.Port)
	envString("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	envString("CSRF_MODE", &c.Server.CSRFMode)
	envString("PUBLIC_API_BASE_URL", &c.Server.PublicBaseURL)
	envString("JWT_SECRET", &c.Auth.JWTSecret)
	envString("DATABASE_URL", &c.Database.DSN)
	if c.Database.DSN == "" && os.Getenv("DB_HOST") != "" {
		c.Database.DSN = repository.DSNFromEnv()
	}
	envString("REDIS_ADDR", &c.Redis.Addr)
	envString("REDIS_PASSWORD", &c.Redis.Password)
	envString("RESEND_API_KEY", &c.Notify.ResendAPIKey)
	envString("NOTIFY_EMAIL_FROM", &c.Notify.EmailFrom)
	envString("NOTIFY_EMAIL_TO", &c.Notify.EmailTo)
	envString("TWILIO_ACCOUNT_SID", &c.Notify.TwilioAccountSID)
	envString("TWILIO_AUTH_TOKEN", &c.Notify.TwilioAuthToken)
	envString("TWILIO_FROM", &c.Notify.TwilioFrom)
	envString("NOTIFY_SMS_TO", &c.Notify.SMSTo)
	envString("DASHBOARD_URL", &c.Notify.DashboardURL)
	envString("RETENTION_CRON", &c.Retention.Cron)

	if os.Getenv("MAX_MESSAGE_LENGTH") != "" {
		c.Limits.MaxMessageLength = validation.MaxMessageLength()
	}
	if os.Getenv("MAX_ATTACHMENT_SIZE") != "" {
		c.Limits.MaxAttachmentSize = SizeBytes(validation.MaxAttachmentBytes())
	}

	var errs []error
	errs = append(errs,
		envInt("REDIS_DB", &c.Redis.DB),
		envInt("ROUTER_QUEUE_SIZE", &c.Router.QueueSize),
		envInt("NOTIFY_BURST", &c.Notify.Burst),
		envSize("BODY_LIMIT", &c.Server.BodyLimit),
		envDuration("PRESENCE_HEARTBEAT_INTERVAL", &c.Presence.HeartbeatInterval),
		envDuration("PRESENCE_LIVENESS_WINDOW", &c.Presence.LivenessWindow),
		envDuration("PRESENCE_SWEEP_INTERVAL", &c.Presence.SweepInterval),
		envDuration("NOTIFY_COOLDOWN", &c.Notify.Cooldown),
		envDuration("RETENTION_MAX_AGE", &c.Retention.MaxAge),
	)
	if raw := strings.TrimSpace(os.Getenv("RETENTION_ENABLED")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid RETENTION_ENABLED: %w", err))
		}
		c.Retention.Enabled = b
	}

	s3, err := storage.LoadS3ConfigFromEnv(c.Storage)
	errs = append(errs, err)
	c.Storage = s3
	return errors.Join(errs...)
}

// Validate fills defaults and rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required (DATABASE_URL or DB_HOST...)")
	}
	if c.Server.Port == "" {
		c.Server.Port = defaultPort
	}
	if c.Server.BodyLimit <= 0 {
		c.Server.BodyLimit = defaultBodyLimit
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}

	if c.Limits.MaxMessageLength <= 0 {
		c.Limits.MaxMessageLength = validation.DefaultMaxMessageLength
	}
	if c.Limits.MaxAttachmentSize <= 0 {
		c.Limits.MaxAttachmentSize = validation.DefaultMaxAttachmentBytes
	}
	if c.Limits.MaxAttachmentSize.Int64() > c.Server.BodyLimit.Int64() {
		return fmt.Errorf("max attachment size %s exceeds body limit %s", c.Limits.MaxAttachmentSize, c.Server.BodyLimit)
	}

	if c.Router.QueueSize <= 0 {
		c.Router.QueueSize = router.DefaultQueueSize
	}

	if c.Notify.Cooldown <= 0 {
		c.Notify.Cooldown = Duration(defaultNotifyCooldown)
	}
	if c.Notify.Burst <= 0 {
		c.Notify.Burst = defaultNotifyBurst
	}

	if c.Retention.Cron == "" {
		c.Retention.Cron = defaultRetentionCron
	}
	if !gronx.IsValid(c.Retention.Cron) {
		return fmt.Errorf("invalid retention cron expression: %s", c.Retention.Cron)
	}
	if c.Retention.MaxAge <= 0 {
		c.Retention.MaxAge = Duration(defaultRetentionAge)
	}
	return nil
}

// PresenceRegistryConfig returns normalized registry timings.
func (c *Config) PresenceRegistryConfig() presence.Config {
	return presence.Config{
		HeartbeatInterval: c.Presence.HeartbeatInterval.Duration(),
		LivenessWindow:    c.Presence.LivenessWindow.Duration(),
		SweepInterval:     c.Presence.SweepInterval.Duration(),
	}.Normalize()
}

func (c *Config) MessageLimits() validation.Limits {
	return validation.Limits{
		MaxMessageLength:   c.Limits.MaxMessageLength,
		MaxAttachmentBytes: c.Limits.MaxAttachmentSize.Int64(),
	}
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *Duration) error {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = Duration(d)
	return nil
}

func envSize(key string, dst *SizeBytes) error {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := parseSize(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = SizeBytes(n)
	return nil
}
