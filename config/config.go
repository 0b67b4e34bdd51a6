package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"

	DefaultSignatureHeader = "X-Source-Signature"
	DefaultTenantHeader    = "X-Tenant-ID"
)

type Config struct {
	Environment string           `json:"environment"`
	Database    DatabaseConfig   `json:"database"`
	Server      ServerConfig     `json:"server"`
	Redis       RedisConfig      `json:"redis"`
	Security    SecurityConfig   `json:"security"`
	Delivery    DeliveryConfig   `json:"delivery"`
	Monitoring  MonitoringConfig `json:"monitoring"`
}

type DatabaseConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	User         string        `json:"user"`
	Password     string        `json:"password"`
	DBName       string        `json:"dbname"`
	SSLMode      string        `json:"sslmode"`
	MaxOpenConns int           `json:"max_open_conns"`
	MaxIdleConns int           `json:"max_idle_conns"`
	MaxLifetime  time.Duration `json:"max_lifetime"`
	MaxIdleTime  time.Duration `json:"max_idle_time"`
	ReplicaDSNs  []string      `json:"replica_dsns"`
	AutoMigrate  bool          `json:"auto_migrate"`
}

type ServerConfig struct {
	Port            string        `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	MaxHeaderBytes  int           `json:"max_header_bytes"`
	MaxBodyBytes    int64         `json:"max_body_bytes"`
}

type RedisConfig struct {
	Enabled  bool          `json:"enabled"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl"`
	PoolSize int           `json:"pool_size"`
	MinIdle  int           `json:"min_idle"`
}

type SecurityConfig struct {
	// InboundWebhookSecret signs POST /webhook bodies. Empty disables the check.
	InboundWebhookSecret string   `json:"inbound_webhook_secret"`
	AllowedIssuers       []string `json:"allowed_issuers"`
	SignatureHeader      string   `json:"signature_header"`
	TenantHeader         string   `json:"tenant_header"`
	// SecretEncryptionKey is a base64 AES-256 key for subscription secrets at rest.
	SecretEncryptionKey string `json:"secret_encryption_key"`
	AdminAPIKey         string `json:"admin_api_key"`
}

type DeliveryConfig struct {
	PollInterval             time.Duration `json:"poll_interval"`
	BatchSize                int           `json:"batch_size"`
	Concurrency              int           `json:"concurrency"`
	RatePerSecond            float64       `json:"rate_per_second"`
	Burst                    int           `json:"burst"`
	StuckAfter               time.Duration `json:"stuck_after"`
	DrainTimeout             time.Duration `json:"drain_timeout"`
	DefaultMaxRetries        int           `json:"default_max_retries"`
	DefaultRetryDelaySeconds int           `json:"default_retry_delay_seconds"`
	DefaultTimeoutSeconds    int           `json:"default_timeout_seconds"`
	// CircuitFailures consecutive failures to one subscription open its
	// circuit for CircuitCooldown.
	CircuitFailures int           `json:"circuit_failures"`
	CircuitCooldown time.Duration `json:"circuit_cooldown"`
}

type MonitoringConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled"`
	LogLevel       string `json:"log_level"`
	LogFormat      string `json:"log_format"`
}

// LoadConfig reads config/config.json when present, then .env, then the
// process environment, and finally fills per-environment defaults.
func LoadConfig() (*Config, error) {
	configDir, err := filepath.Abs("config")
	if err != nil {
		return nil, err
	}
	return Load(filepath.Join(configDir, "config.json"), ".env")
}

func Load(configPath, envFile string) (*Config, error) {
	config := &Config{
		Monitoring: MonitoringConfig{MetricsEnabled: true},
		Redis:      RedisConfig{Enabled: true},
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := config.loadFromEnv(); err != nil {
		return nil, err
	}

	config.setEnvironmentDefaults()

	return config, nil
}

func (c *Config) loadFromEnv() error {
	var errs []string
	note := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	envString("ENVIRONMENT", &c.Environment)

	envString("DB_HOST", &c.Database.Host)
	note(envInt("DB_PORT", &c.Database.Port))
	envString("DB_USER", &c.Database.User)
	envString("DB_PASSWORD", &c.Database.Password)
	envString("DB_NAME", &c.Database.DBName)
	envString("DB_SSLMODE", &c.Database.SSLMode)
	envList("DB_REPLICA_DSNS", &c.Database.ReplicaDSNs)
	note(envBool("DB_AUTO_MIGRATE", &c.Database.AutoMigrate))

	note(envBool("REDIS_ENABLED", &c.Redis.Enabled))
	envString("REDIS_HOST", &c.Redis.Host)
	note(envInt("REDIS_PORT", &c.Redis.Port))
	envString("REDIS_PASSWORD", &c.Redis.Password)
	note(envInt("REDIS_DB", &c.Redis.DB))
	note(envDuration("REDIS_TTL", &c.Redis.TTL))

	envString("SERVER_PORT", &c.Server.Port)
	note(envDuration("SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout))

	envString("INBOUND_WEBHOOK_SECRET", &c.Security.InboundWebhookSecret)
	envList("ALLOWED_ISSUERS", &c.Security.AllowedIssuers)
	envString("SIGNATURE_HEADER", &c.Security.SignatureHeader)
	envString("TENANT_HEADER", &c.Security.TenantHeader)
	envString("SECRET_ENCRYPTION_KEY", &c.Security.SecretEncryptionKey)
	envString("ADMIN_API_KEY", &c.Security.AdminAPIKey)

	note(envDuration("DELIVERY_POLL_INTERVAL", &c.Delivery.PollInterval))
	note(envInt("DELIVERY_BATCH_SIZE", &c.Delivery.BatchSize))
	note(envInt("DELIVERY_CONCURRENCY", &c.Delivery.Concurrency))
	note(envFloat("DELIVERY_RATE_PER_SECOND", &c.Delivery.RatePerSecond))
	note(envInt("DELIVERY_BURST", &c.Delivery.Burst))
	note(envDuration("DELIVERY_STUCK_AFTER", &c.Delivery.StuckAfter))
	note(envDuration("DELIVERY_DRAIN_TIMEOUT", &c.Delivery.DrainTimeout))
	note(envInt("DELIVERY_DEFAULT_MAX_RETRIES", &c.Delivery.DefaultMaxRetries))
	note(envInt("DELIVERY_DEFAULT_RETRY_DELAY_SECONDS", &c.Delivery.DefaultRetryDelaySeconds))
	note(envInt("DELIVERY_DEFAULT_TIMEOUT_SECONDS", &c.Delivery.DefaultTimeoutSeconds))
	note(envInt("DELIVERY_CIRCUIT_FAILURES", &c.Delivery.CircuitFailures))
	note(envDuration("DELIVERY_CIRCUIT_COOLDOWN", &c.Delivery.CircuitCooldown))

	note(envBool("METRICS_ENABLED", &c.Monitoring.MetricsEnabled))
	envString("LOG_LEVEL", &c.Monitoring.LogLevel)
	envString("MONITORING_LOG_LEVEL", &c.Monitoring.LogLevel)
	envString("LOG_FORMAT", &c.Monitoring.LogFormat)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func (c *Config) setEnvironmentDefaults() {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}

	switch c.Environment {
	case EnvProduction:
		c.setProductionDefaults()
	case EnvStaging:
		c.setStagingDefaults()
	default:
		c.setDevelopmentDefaults()
	}

	c.setCommonDefaults()
}

func (c *Config) setDevelopmentDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = time.Hour
	}
	if c.Delivery.Concurrency == 0 {
		c.Delivery.Concurrency = 4
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "console"
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "debug"
	}
}

func (c *Config) setStagingDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 50
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 12 * time.Hour
	}
	if c.Delivery.Concurrency == 0 {
		c.Delivery.Concurrency = 8
	}
}

func (c *Config) setProductionDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 25
	}
	if c.Database.MaxLifetime == 0 {
		c.Database.MaxLifetime = time.Hour
	}
	if c.Database.MaxIdleTime == 0 {
		c.Database.MaxIdleTime = 10 * time.Minute
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "require"
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 24 * time.Hour
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdle == 0 {
		c.Redis.MinIdle = 10
	}
	if c.Delivery.Concurrency == 0 {
		c.Delivery.Concurrency = 16
	}
}

func (c *Config) setCommonDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Security.SignatureHeader == "" {
		c.Security.SignatureHeader = DefaultSignatureHeader
	}
	if c.Security.TenantHeader == "" {
		c.Security.TenantHeader = DefaultTenantHeader
	}
	if c.Delivery.PollInterval == 0 {
		c.Delivery.PollInterval = 5 * time.Second
	}
	if c.Delivery.BatchSize == 0 {
		c.Delivery.BatchSize = 50
	}
	if c.Delivery.RatePerSecond == 0 {
		c.Delivery.RatePerSecond = 10
	}
	if c.Delivery.Burst == 0 {
		c.Delivery.Burst = 20
	}
	if c.Delivery.StuckAfter == 0 {
		c.Delivery.StuckAfter = 5 * time.Minute
	}
	if c.Delivery.DrainTimeout == 0 {
		c.Delivery.DrainTimeout = 30 * time.Second
	}
	if c.Delivery.DefaultMaxRetries == 0 {
		c.Delivery.DefaultMaxRetries = 3
	}
	if c.Delivery.DefaultRetryDelaySeconds == 0 {
		c.Delivery.DefaultRetryDelaySeconds = 60
	}
	if c.Delivery.DefaultTimeoutSeconds == 0 {
		c.Delivery.DefaultTimeoutSeconds = 30
	}
	if c.Delivery.CircuitFailures == 0 {
		c.Delivery.CircuitFailures = 5
	}
	if c.Delivery.CircuitCooldown == 0 {
		c.Delivery.CircuitCooldown = time.Minute
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "json"
	}
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func (c *Config) IsStaging() bool {
	return c.Environment == EnvStaging
}
