package config

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Deployment environments. Quotas and last-used touches only run in
// production-like environments.
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

const minSaltSecretLength = 16

// Base is the configuration every command needs: where the store lives and
// how to log.
type Base struct {
	Environment string `env:"ENVIRONMENT,default=production"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=json"`
}

type Config struct {
	Base

	RedisURL        string        `env:"REDIS_URL"`
	CacheMinTTL     time.Duration `env:"CACHE_MIN_TTL,default=60s"`
	CacheTimeout    time.Duration `env:"CACHE_TIMEOUT,default=100ms"`
	AuditSaltSecret string        `env:"AUDIT_SALT_SECRET,required"`
	ClaimBaseURL    string        `env:"CLAIM_BASE_URL,default=https://abund.social/claim"`
	Port            int           `env:"PORT,default=8080"`
	CORSOrigins     []string      `env:"CORS_ORIGINS"`
	TrustProxy      bool          `env:"TRUST_PROXY,default=false"`

	// Background work
	WorkerCount int           `env:"WORKER_COUNT,default=4"`
	WorkerQueue int           `env:"WORKER_QUEUE,default=1024"`
	TaskTimeout time.Duration `env:"TASK_TIMEOUT,default=5s"`
	TouchRate   float64       `env:"TOUCH_RATE,default=50"`

	// Admin API; disabled when GOOGLE_CLIENT_ID is empty.
	GoogleClientID      string   `env:"GOOGLE_CLIENT_ID"`
	GoogleAllowedDomain string   `env:"GOOGLE_ALLOWED_DOMAIN"`
	GoogleAllowedEmails []string `env:"GOOGLE_ALLOWED_EMAILS"`
	AdminRatePerMinute  int      `env:"ADMIN_RATE_PER_MINUTE,default=60"`

	// HTTP server timeouts
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=20s"`
}

// Load reads the full server configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit variable source.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadBase reads only the store and logging settings, for CLI commands
// that do not serve traffic.
func LoadBase(ctx context.Context) (*Base, error) {
	return LoadBaseWith(ctx, envconfig.OsLookuper())
}

func LoadBaseWith(ctx context.Context, lookuper envconfig.Lookuper) (*Base, error) {
	var b Base
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &b, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Base) validate() error {
	switch b.Environment {
	case EnvProduction, EnvStaging, EnvDevelopment, EnvTest:
	default:
		return fmt.Errorf("ENVIRONMENT must be one of production, staging, development, test; got %q", b.Environment)
	}

	if b.DatabaseURL == "" && b.SQLitePath == "" {
		return fmt.Errorf("one of DATABASE_URL or SQLITE_PATH is required")
	}
	if b.DatabaseURL != "" && b.SQLitePath != "" {
		return fmt.Errorf("DATABASE_URL and SQLITE_PATH are mutually exclusive")
	}
	if b.SQLitePath != "" && b.IsProduction() {
		return fmt.Errorf("SQLITE_PATH is only supported in development and test environments")
	}

	if b.LogFormat != "json" && b.LogFormat != "console" {
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'console', got %q", b.LogFormat)
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.Base.validate(); err != nil {
		return err
	}

	if len(c.AuditSaltSecret) < minSaltSecretLength {
		return fmt.Errorf("AUDIT_SALT_SECRET must be at least %d characters", minSaltSecretLength)
	}

	u, err := url.Parse(c.ClaimBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("CLAIM_BASE_URL must be an absolute http(s) URL, got %q", c.ClaimBaseURL)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.CacheMinTTL < time.Second {
		return fmt.Errorf("CACHE_MIN_TTL must be at least 1s, got %s", c.CacheMinTTL)
	}
	if c.CacheTimeout <= 0 {
		return fmt.Errorf("CACHE_TIMEOUT must be positive, got %s", c.CacheTimeout)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	if c.WorkerQueue < 0 {
		return fmt.Errorf("WORKER_QUEUE must not be negative, got %d", c.WorkerQueue)
	}
	if c.TouchRate < 0 {
		return fmt.Errorf("TOUCH_RATE must not be negative, got %v", c.TouchRate)
	}

	if c.GoogleClientID != "" {
		if c.GoogleAllowedDomain == "" || len(c.GoogleAllowedEmails) == 0 {
			return fmt.Errorf("GOOGLE_ALLOWED_DOMAIN and GOOGLE_ALLOWED_EMAILS are required when GOOGLE_CLIENT_ID is set")
		}
		if c.AdminRatePerMinute < 1 {
			return fmt.Errorf("ADMIN_RATE_PER_MINUTE must be positive, got %d", c.AdminRatePerMinute)
		}
	}

	return nil
}

// IsProduction reports whether the deployment serves real traffic.
// Staging counts as production.
func (b *Base) IsProduction() bool {
	return b.Environment == EnvProduction || b.Environment == EnvStaging
}

// EnforceQuotas is false in development and test, where the quota
// middleware only reports that it is bypassed.
func (c *Config) EnforceQuotas() bool {
	return c.IsProduction()
}

// TouchLastUsed controls the background last_used_at update.
func (c *Config) TouchLastUsed() bool {
	return c.IsProduction()
}

// AdminEnabled reports whether the Google-authenticated admin API is mounted.
func (c *Config) AdminEnabled() bool {
	return c.GoogleClientID != ""
}
