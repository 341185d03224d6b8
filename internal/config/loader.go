package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the TOML configuration file structure
type TOMLConfig struct {
	Backend   string              `toml:"backend"`
	LogLevel  string              `toml:"log_level"`
	HTTP      TOMLHTTPConfig      `toml:"http"`
	Postgres  TOMLPostgresConfig  `toml:"postgres"`
	Redis     TOMLRedisConfig     `toml:"redis"`
	Auth      TOMLAuthConfig      `toml:"auth"`
	Sweep     TOMLSweepConfig     `toml:"sweep"`
	RateLimit TOMLRateLimitConfig `toml:"rate_limit"`
	Access    TOMLAccessConfig    `toml:"access"`
}

// TOMLHTTPConfig represents HTTP configuration in TOML
type TOMLHTTPConfig struct {
	Addr            string `toml:"addr"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	TrustProxy      *bool  `toml:"trust_proxy"`
}

// TOMLPostgresConfig represents Postgres configuration in TOML
type TOMLPostgresConfig struct {
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"`
	ConnMaxIdleTime string `toml:"conn_max_idle_time"`
}

// TOMLRedisConfig represents Redis configuration in TOML
type TOMLRedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	Prefix     string `toml:"prefix"`
	MaxRetries int    `toml:"max_retries"`
}

// TOMLAuthConfig represents auth configuration in TOML
type TOMLAuthConfig struct {
	Secret string `toml:"secret"`
	Issuer string `toml:"issuer"`
}

// TOMLSweepConfig represents sweeper configuration in TOML
type TOMLSweepConfig struct {
	Enabled  *bool  `toml:"enabled"`
	Interval string `toml:"interval"`
}

// TOMLRateLimitConfig represents rate limit configuration in TOML
type TOMLRateLimitConfig struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

// TOMLAccessConfig represents permission service configuration in TOML
type TOMLAccessConfig struct {
	StrictUUIDIDs *bool `toml:"strict_uuid_ids"`
	BulkLimit     int   `toml:"bulk_limit"`
}

// LoadFromFile decodes a TOML configuration file.
func LoadFromFile(path string) (*TOMLConfig, error) {
	var tc TOMLConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	return &tc, nil
}

func applyFile(cfg *Config, path string) error {
	tc, err := LoadFromFile(path)
	if err != nil {
		return err
	}
	return tc.mergeInto(cfg)
}

// mergeInto copies every value set in the file over cfg.
func (tc *TOMLConfig) mergeInto(cfg *Config) error {
	setString(&cfg.Backend, tc.Backend)
	setString(&cfg.LogLevel, tc.LogLevel)

	setString(&cfg.HTTP.Addr, tc.HTTP.Addr)
	if err := setDuration(&cfg.HTTP.ReadTimeout, "http.read_timeout", tc.HTTP.ReadTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.HTTP.WriteTimeout, "http.write_timeout", tc.HTTP.WriteTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.HTTP.ShutdownTimeout, "http.shutdown_timeout", tc.HTTP.ShutdownTimeout); err != nil {
		return err
	}
	if tc.HTTP.TrustProxy != nil {
		cfg.HTTP.TrustProxyHeaders = *tc.HTTP.TrustProxy
	}

	setString(&cfg.Postgres.DSN, tc.Postgres.DSN)
	setInt(&cfg.Postgres.MaxOpenConns, tc.Postgres.MaxOpenConns)
	setInt(&cfg.Postgres.MaxIdleConns, tc.Postgres.MaxIdleConns)
	if err := setDuration(&cfg.Postgres.ConnMaxLifetime, "postgres.conn_max_lifetime", tc.Postgres.ConnMaxLifetime); err != nil {
		return err
	}
	if err := setDuration(&cfg.Postgres.ConnMaxIdleTime, "postgres.conn_max_idle_time", tc.Postgres.ConnMaxIdleTime); err != nil {
		return err
	}

	setString(&cfg.Redis.Addr, tc.Redis.Addr)
	setString(&cfg.Redis.Password, tc.Redis.Password)
	setInt(&cfg.Redis.DB, tc.Redis.DB)
	setString(&cfg.Redis.Prefix, tc.Redis.Prefix)
	setInt(&cfg.Redis.MaxRetries, tc.Redis.MaxRetries)

	setString(&cfg.Auth.Secret, tc.Auth.Secret)
	setString(&cfg.Auth.Issuer, tc.Auth.Issuer)

	if tc.Sweep.Enabled != nil {
		cfg.Sweep.Enabled = *tc.Sweep.Enabled
	}
	if err := setDuration(&cfg.Sweep.Interval, "sweep.interval", tc.Sweep.Interval); err != nil {
		return err
	}

	if tc.RateLimit.RPS != 0 {
		cfg.RateLimit.RPS = tc.RateLimit.RPS
	}
	setInt(&cfg.RateLimit.Burst, tc.RateLimit.Burst)

	if tc.Access.StrictUUIDIDs != nil {
		cfg.Access.StrictUUIDIDs = *tc.Access.StrictUUIDIDs
	}
	setInt(&cfg.Access.BulkLimit, tc.Access.BulkLimit)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, v string) error {
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
