// Package config loads service configuration from ACCESS_* environment variables and an
// optional TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds every runtime setting.
type Config struct {
	Backend   string
	LogLevel  string
	HTTP      HTTPConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Sweep     SweepConfig
	RateLimit RateLimitConfig
	Access    AccessConfig
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// TrustProxyHeaders keys rate limiting on X-Forwarded-For instead of the peer
	// address. Enable it only behind a proxy that overwrites the header.
	TrustProxyHeaders bool
}

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	MaxRetries int
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Secret string
	Issuer string
}

// SweepConfig configures the expired-grant sweeper.
type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
}

// RateLimitConfig configures the per-client token bucket. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// AccessConfig tunes the permission service.
type AccessConfig struct {
	StrictUUIDIDs bool
	BulkLimit     int
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Backend:  BackendMemory,
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Postgres: PostgresConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			Prefix:     "acc",
			MaxRetries: 8,
		},
		Auth: AuthConfig{
			Issuer: "qazna-access",
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RPS:   50,
			Burst: 100,
		},
		Access: AccessConfig{
			BulkLimit: 500,
		},
	}
}

// Load returns defaults overridden by environment variables.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadWithFile layers defaults, the TOML file at path, then environment variables. An
// empty path falls back to ACCESS_CONFIG; with neither set it behaves like Load.
func LoadWithFile(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ACCESS_CONFIG")
	}
	cfg := Defaults()
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks that the selected backend is fully configured.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("config: postgres backend requires a DSN (ACCESS_PG_DSN)")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("config: redis backend requires an address (ACCESS_REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Access.BulkLimit <= 0 {
		return errors.New("config: bulk limit must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("ACCESS_BACKEND", &cfg.Backend)
	str("ACCESS_LOG_LEVEL", &cfg.LogLevel)

	str("ACCESS_HTTP_ADDR", &cfg.HTTP.Addr)
	duration("ACCESS_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	duration("ACCESS_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	duration("ACCESS_HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	boolean("ACCESS_HTTP_TRUST_PROXY", &cfg.HTTP.TrustProxyHeaders)

	str("ACCESS_PG_DSN", &cfg.Postgres.DSN)
	num("ACCESS_PG_MAX_OPEN_CONNS", &cfg.Postgres.MaxOpenConns)
	num("ACCESS_PG_MAX_IDLE_CONNS", &cfg.Postgres.MaxIdleConns)
	duration("ACCESS_PG_CONN_MAX_LIFETIME", &cfg.Postgres.ConnMaxLifetime)
	duration("ACCESS_PG_CONN_MAX_IDLE_TIME", &cfg.Postgres.ConnMaxIdleTime)

	str("ACCESS_REDIS_ADDR", &cfg.Redis.Addr)
	str("ACCESS_REDIS_PASSWORD", &cfg.Redis.Password)
	num("ACCESS_REDIS_DB", &cfg.Redis.DB)
	str("ACCESS_REDIS_PREFIX", &cfg.Redis.Prefix)
	num("ACCESS_REDIS_MAX_RETRIES", &cfg.Redis.MaxRetries)

	str("ACCESS_AUTH_SECRET", &cfg.Auth.Secret)
	str("ACCESS_AUTH_ISSUER", &cfg.Auth.Issuer)

	boolean("ACCESS_SWEEP_ENABLED", &cfg.Sweep.Enabled)
	duration("ACCESS_SWEEP_INTERVAL", &cfg.Sweep.Interval)

	float("ACCESS_RATE_LIMIT_RPS", &cfg.RateLimit.RPS)
	num("ACCESS_RATE_LIMIT_BURST", &cfg.RateLimit.Burst)

	boolean("ACCESS_STRICT_UUID_IDS", &cfg.Access.StrictUUIDIDs)
	num("ACCESS_BULK_LIMIT", &cfg.Access.BulkLimit)

	cfg.Backend = strings.ToLower(cfg.Backend)
	return errors.Join(errs...)
}
