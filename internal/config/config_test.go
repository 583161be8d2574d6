package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dakael7/gravitylabs/internal/router"
	"github.com/dakael7/gravitylabs/internal/validation"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/support")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("server defaults = %+v redis = %+v", cfg.Server, cfg.Redis)
	}
	if cfg.Limits.MaxMessageLength != validation.DefaultMaxMessageLength {
		t.Errorf("MaxMessageLength = %d", cfg.Limits.MaxMessageLength)
	}
	if cfg.Router.QueueSize != router.DefaultQueueSize {
		t.Errorf("QueueSize = %d", cfg.Router.QueueSize)
	}
	if cfg.Retention.Cron != "0 3 * * *" || cfg.Retention.MaxAge.Duration() != 90*24*time.Hour || !cfg.Retention.Enabled {
		t.Errorf("retention = %+v", cfg.Retention)
	}
}

func TestFileThenEnvOverlay(t *testing.T) {
	path := writeFile(t, `
server:
  port: "9000"
  body_limit: 20MB
auth:
  jwt_secret: from-file
database:
  dsn: postgres://file/db
limits:
  max_attachment_size: 5MB
presence:
  heartbeat_interval: 10s
  liveness_window: 30s
retention:
  cron: "*/30 * * * *"
  max_age: 30d
storage:
  endpoint: minio:9000
  bucket: support
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.Server.Port != "9100" {
		t.Errorf("Port = %s, env should win", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "from-file" {
		t.Errorf("JWTSecret = %s", cfg.Auth.JWTSecret)
	}
	if cfg.Limits.MaxAttachmentSize.Int64() != 5_000_000 || cfg.Server.BodyLimit.Int64() != 20_000_000 {
		t.Errorf("sizes = %d/%d", cfg.Limits.MaxAttachmentSize, cfg.Server.BodyLimit)
	}
	if cfg.Retention.MaxAge.Duration() != 30*24*time.Hour {
		t.Errorf("MaxAge = %v", cfg.Retention.MaxAge.Duration())
	}
	if !cfg.Storage.Enabled() {
		t.Errorf("storage should be enabled: %+v", cfg.Storage)
	}
	p := cfg.PresenceRegistryConfig()
	if p.HeartbeatInterval != 10*time.Second || p.LivenessWindow != 30*time.Second {
		t.Errorf("presence = %+v", p)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{"DATABASE_URL": "x"}},
		{name: "missing dsn", env: map[string]string{"JWT_SECRET": "s"}},
		{name: "bad cron", env: map[string]string{"JWT_SECRET": "s", "DATABASE_URL": "x", "RETENTION_CRON": "every day"}},
		{name: "bad duration", env: map[string]string{"JWT_SECRET": "s", "DATABASE_URL": "x", "NOTIFY_COOLDOWN": "soon"}},
		{name: "bad size", env: map[string]string{"JWT_SECRET": "s", "DATABASE_URL": "x", "BODY_LIMIT": "huge"}},
		{name: "attachment above body limit", env: map[string]string{"JWT_SECRET": "s", "DATABASE_URL": "x", "BODY_LIMIT": "1MB", "MAX_ATTACHMENT_SIZE": "5MB"}},
		{name: "missing file", env: map[string]string{"CONFIG_FILE": "/nonexistent/config.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in        string
		want      time.Duration
		shouldErr bool
	}{
		{in: "45s", want: 45 * time.Second},
		{in: "2d", want: 48 * time.Hour},
		{in: "", want: 0},
		{in: "xd", shouldErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if (err != nil) != tt.shouldErr {
				t.Fatalf("err = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
