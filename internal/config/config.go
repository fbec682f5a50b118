package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	AuthMode    string `mapstructure:"AUTH_MODE"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`

	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
	RedisURL      string `mapstructure:"REDIS_URL"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	FeedInterval    time.Duration `mapstructure:"FEED_INTERVAL"`
	FeedTickTimeout time.Duration `mapstructure:"FEED_TICK_TIMEOUT"`
	FeedConsumer    string        `mapstructure:"FEED_CONSUMER"`
	FeedLockTTL     time.Duration `mapstructure:"FEED_LOCK_TTL"`
	BreakerFailures uint32        `mapstructure:"BREAKER_FAILURES"`
	BreakerCooldown time.Duration `mapstructure:"BREAKER_COOLDOWN"`

	DuplicatesPageLimit int `mapstructure:"DUPLICATES_PAGE_LIMIT"`
}

// MaxDuplicatesPageLimit caps DUPLICATES_PAGE_LIMIT and the per-request limit.
const MaxDuplicatesPageLimit = 100

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA", "MIGRATIONS_DIR",
	"REDIS_URL", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "REQUEST_TIMEOUT",
	"FEED_INTERVAL", "FEED_TICK_TIMEOUT", "FEED_CONSUMER", "FEED_LOCK_TTL",
	"BREAKER_FAILURES", "BREAKER_COOLDOWN", "DUPLICATES_PAGE_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("FEED_INTERVAL", "10s")
	v.SetDefault("FEED_TICK_TIMEOUT", "30s")
	v.SetDefault("FEED_CONSUMER", "DUPLICATE_PATIENT_MARKER")
	v.SetDefault("FEED_LOCK_TTL", "1m")
	v.SetDefault("BREAKER_FAILURES", 5)
	v.SetDefault("BREAKER_COOLDOWN", "30s")
	v.SetDefault("DUPLICATES_PAGE_LIMIT", 25)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ResolvedAuthMode() == "development" {
		log.Warn().Str("env", cfg.Env).Msg("development auth is active: every request is treated as admin")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments get "development" and everything else gets "jwt".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	var errs []error

	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			errs = append(errs, errors.New("AUTH_MODE=development is not allowed in production"))
		}
	case "jwt":
		if len(c.AuthSigningKey) < 32 {
			errs = append(errs, errors.New("AUTH_SIGNING_KEY must be at least 32 bytes when AUTH_MODE is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode))
	}

	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
	}
	if c.FeedConsumer == "" {
		errs = append(errs, errors.New("FEED_CONSUMER must not be empty"))
	}

	positive := map[string]time.Duration{
		"REQUEST_TIMEOUT":   c.RequestTimeout,
		"FEED_INTERVAL":     c.FeedInterval,
		"FEED_TICK_TIMEOUT": c.FeedTickTimeout,
		"FEED_LOCK_TTL":     c.FeedLockTTL,
		"BREAKER_COOLDOWN":  c.BreakerCooldown,
	}
	for _, k := range keys {
		if d, ok := positive[k]; ok && d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", k, d))
		}
	}
	if c.FeedLockTTL > 0 && c.FeedLockTTL <= c.FeedTickTimeout {
		errs = append(errs, fmt.Errorf("FEED_LOCK_TTL (%s) must exceed FEED_TICK_TIMEOUT (%s)", c.FeedLockTTL, c.FeedTickTimeout))
	}
	if c.BreakerFailures == 0 {
		errs = append(errs, errors.New("BREAKER_FAILURES must be at least 1"))
	}
	if c.DuplicatesPageLimit < 1 || c.DuplicatesPageLimit > MaxDuplicatesPageLimit {
		errs = append(errs, fmt.Errorf("DUPLICATES_PAGE_LIMIT must be between 1 and %d, got %d", MaxDuplicatesPageLimit, c.DuplicatesPageLimit))
	}

	return errors.Join(errs...)
}
