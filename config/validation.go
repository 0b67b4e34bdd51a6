package config

import (
	"encoding/base64"
	"fmt"
	"strings"
)

func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if c.Redis.Enabled {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Security.Validate(c.IsProduction()); err != nil {
		return fmt.Errorf("security config: %w", err)
	}

	if err := c.Delivery.Validate(); err != nil {
		return fmt.Errorf("delivery config: %w", err)
	}

	if err := c.Monitoring.Validate(); err != nil {
		return fmt.Errorf("monitoring config: %w", err)
	}

	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must not be negative")
	}
	return nil
}

func (c *RedisConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	return nil
}

// Validate refuses to run production with the inbound signature check
// disabled or with subscription secrets stored in the clear.
func (c *SecurityConfig) Validate(production bool) error {
	if c.SecretEncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.SecretEncryptionKey)
		if err != nil {
			return fmt.Errorf("secret_encryption_key must be base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("secret_encryption_key must decode to 32 bytes, got %d", len(key))
		}
	}
	if strings.TrimSpace(c.SignatureHeader) == "" {
		return fmt.Errorf("signature_header is required")
	}
	if !production {
		return nil
	}
	if c.InboundWebhookSecret == "" {
		return fmt.Errorf("inbound_webhook_secret is required in production - set INBOUND_WEBHOOK_SECRET")
	}
	if c.SecretEncryptionKey == "" {
		return fmt.Errorf("secret_encryption_key is required in production - set SECRET_ENCRYPTION_KEY")
	}
	return nil
}

func (c *DeliveryConfig) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("rate_per_second must not be negative")
	}
	if c.DefaultMaxRetries < 0 {
		return fmt.Errorf("default_max_retries must not be negative")
	}
	if c.DefaultRetryDelaySeconds <= 0 {
		return fmt.Errorf("default_retry_delay_seconds must be positive")
	}
	if c.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("default_timeout_seconds must be positive")
	}
	if c.CircuitFailures <= 0 {
		return fmt.Errorf("circuit_failures must be positive")
	}
	if c.CircuitCooldown <= 0 {
		return fmt.Errorf("circuit_cooldown must be positive")
	}
	return nil
}

func (c *MonitoringConfig) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}
