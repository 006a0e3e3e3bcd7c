package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sync      SyncConfig      `yaml:"sync"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds http and storage settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds identity and rate limiting settings.
type SecurityConfig struct {
	// SigningKeys are HMAC secrets accepted for X-User-Signature. When
	// empty, signature verification is disabled (trusted deployments).
	SigningKeys []string `yaml:"signing_keys"`
	// AllowedOrigins drives CORS; empty disables cross-origin access.
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimit      struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SyncConfig tunes the conversation synchronization core.
type SyncConfig struct {
	// ReconcileWindow bounds how long an optimistic placeholder waits for
	// its authoritative record before it is marked failed ("10s", "1m").
	ReconcileWindow string `yaml:"reconcile_window"`
	// QueueCapacity bounds the per-conversation mutation queue.
	QueueCapacity int `yaml:"queue_capacity"`
	// SubscriptionBuffer bounds a feed subscriber's batch channel; a full
	// buffer triggers a synthetic full resync instead of dropped events.
	SubscriptionBuffer int `yaml:"subscription_buffer"`
	// MaxAttachmentSize caps the encoded attachment payload ("1MB").
	MaxAttachmentSize string `yaml:"max_attachment_size"`
	// MaxContentLength caps message text length in runes.
	MaxContentLength int `yaml:"max_content_length"`
}

// RetentionConfig holds configuration for the automatic purge runner.
type RetentionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cron      string `yaml:"cron"`
	Period    string `yaml:"period"`
	BatchSize int    `yaml:"batch_size"`
}

// Addr returns the host:port string for the HTTP listener.
func (c *Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ReconcileWindow parses the configured reconcile window, defaulting to
// 10 seconds.
func (c *Config) ReconcileWindow() time.Duration {
	return parseDuration(c.Sync.ReconcileWindow, 10*time.Second)
}

// RetentionPeriod parses the retention period, defaulting to 30 days.
func (c *Config) RetentionPeriod() time.Duration {
	return parseDuration(c.Retention.Period, 30*24*time.Hour)
}

// MaxAttachmentBytes parses the humanized attachment cap ("1MB", "512KiB"),
// defaulting to 1MB.
func (c *Config) MaxAttachmentBytes() int64 {
	s := strings.TrimSpace(c.Sync.MaxAttachmentSize)
	if s == "" {
		return 1 << 20
	}
	if n, err := humanize.ParseBytes(s); err == nil && n > 0 {
		return int64(n)
	}
	return 1 << 20
}

func parseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
