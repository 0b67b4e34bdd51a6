package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFiles(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.json"), filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DefaultSignatureHeader, cfg.Security.SignatureHeader)
	assert.Equal(t, DefaultTenantHeader, cfg.Security.TenantHeader)
	assert.Equal(t, 5*time.Second, cfg.Delivery.PollInterval)
	assert.Equal(t, 4, cfg.Delivery.Concurrency)
	assert.Equal(t, 3, cfg.Delivery.DefaultMaxRetries)
	assert.Equal(t, 60, cfg.Delivery.DefaultRetryDelaySeconds)
	assert.Equal(t, 30, cfg.Delivery.DefaultTimeoutSeconds)
	assert.Equal(t, 5, cfg.Delivery.CircuitFailures)
	assert.Equal(t, time.Minute, cfg.Delivery.CircuitCooldown)
	assert.Equal(t, "console", cfg.Monitoring.LogFormat)
	assert.True(t, cfg.Monitoring.MetricsEnabled)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.json", `{
		"environment": "staging",
		"database": {"host": "db.internal", "user": "vault", "dbname": "vault"},
		"security": {"allowed_issuers": ["https://a.example"]},
		"delivery": {"batch_size": 25}
	}`)

	t.Setenv("DB_HOST", "db.override")
	t.Setenv("ALLOWED_ISSUERS", "https://b.example, https://c.example")
	t.Setenv("DELIVERY_POLL_INTERVAL", "250ms")

	cfg, err := Load(configPath, "")
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.Environment)
	assert.Equal(t, "db.override", cfg.Database.Host)
	assert.Equal(t, "vault", cfg.Database.User)
	assert.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.Security.AllowedIssuers)
	assert.Equal(t, 25, cfg.Delivery.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Delivery.PollInterval)
	assert.Equal(t, 8, cfg.Delivery.Concurrency)
	assert.Equal(t, "json", cfg.Monitoring.LogFormat)
	assert.Equal(t, "postgres://vault:@db.override:5432/vault?sslmode=disable", cfg.GetDatabaseURL())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := writeFile(t, dir, ".env", "INBOUND_WEBHOOK_SECRET=from-dotenv\nREDIS_ENABLED=false\n")

	// godotenv never overrides variables already present in the environment.
	t.Setenv("INBOUND_WEBHOOK_SECRET", "")
	os.Unsetenv("INBOUND_WEBHOOK_SECRET")
	t.Setenv("REDIS_ENABLED", "")
	os.Unsetenv("REDIS_ENABLED")

	cfg, err := Load(filepath.Join(dir, "missing.json"), envPath)
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Security.InboundWebhookSecret)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_RejectsMalformedEnvironment(t *testing.T) {
	t.Setenv("DELIVERY_BATCH_SIZE", "lots")
	t.Setenv("DELIVERY_STUCK_AFTER", "soon")

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DELIVERY_BATCH_SIZE")
	assert.Contains(t, err.Error(), "DELIVERY_STUCK_AFTER")
}

func TestLoad_RejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"database": `)

	_, err := Load(path, "")
	assert.Error(t, err)
}

func validConfig() *Config {
	cfg := &Config{
		Environment: EnvDevelopment,
		Database:    DatabaseConfig{Host: "localhost", User: "vault", DBName: "vault"},
		Redis:       RedisConfig{Enabled: true, Host: "localhost"},
	}
	cfg.setEnvironmentDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid development", mutate: func(c *Config) {}},
		{name: "missing database host", mutate: func(c *Config) { c.Database.Host = "" }, wantErr: "database config"},
		{name: "redis disabled skips its checks", mutate: func(c *Config) { c.Redis = RedisConfig{} }},
		{name: "redis host required", mutate: func(c *Config) { c.Redis.Host = "" }, wantErr: "redis config"},
		{name: "short encryption key", mutate: func(c *Config) {
			c.Security.SecretEncryptionKey = base64.StdEncoding.EncodeToString([]byte("short"))
		}, wantErr: "32 bytes"},
		{name: "production needs inbound secret", mutate: func(c *Config) {
			c.Environment = EnvProduction
			c.Security.SecretEncryptionKey = key
		}, wantErr: "inbound_webhook_secret"},
		{name: "production needs encryption key", mutate: func(c *Config) {
			c.Environment = EnvProduction
			c.Security.InboundWebhookSecret = "s3cret"
		}, wantErr: "secret_encryption_key"},
		{name: "production fully configured", mutate: func(c *Config) {
			c.Environment = EnvProduction
			c.Security.InboundWebhookSecret = "s3cret"
			c.Security.SecretEncryptionKey = key
		}},
		{name: "zero concurrency", mutate: func(c *Config) { c.Delivery.Concurrency = 0 }, wantErr: "delivery config"},
		{name: "negative retries", mutate: func(c *Config) { c.Delivery.DefaultMaxRetries = -1 }, wantErr: "default_max_retries"},
		{name: "zero circuit cooldown", mutate: func(c *Config) { c.Delivery.CircuitCooldown = 0 }, wantErr: "circuit_cooldown"},
		{name: "unknown log level", mutate: func(c *Config) { c.Monitoring.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "unknown environment", mutate: func(c *Config) { c.Environment = "qa" }, wantErr: "unknown environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
