// Package config loads process configuration for cmd/gosession from the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/tokenhash"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Session backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendSQLite   = "sqlite"
)

type Config struct {
	Env      string `validate:"oneof=development production"`
	HTTPAddr string `validate:"required"`

	// Backend is resolved once at start-up; there is no runtime switching.
	Backend     string `validate:"oneof=memory redis postgres mysql sqlite"`
	DatabaseDSN string `validate:"required_if=Backend postgres,required_if=Backend mysql,required_if=Backend sqlite"`

	Redis     RedisConfig
	JWT       JWTConfig
	Session   SessionConfig
	Log       LogConfig
	RateLimit RateLimitConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
	Prefix   string
}

type JWTConfig struct {
	AccessSecret  string        `validate:"required,min=32"`
	RefreshSecret string        `validate:"required,min=32,nefield=AccessSecret"`
	AccessTTL     time.Duration `validate:"gt=0,ltfield=RefreshTTL"`
	RefreshTTL    time.Duration `validate:"gt=0"`
	Issuer        string
	Audience      string
}

type SessionConfig struct {
	// HashKeys is the ordered fingerprint key list, primary first.
	HashKeys             []string
	ReuseGracePeriod     time.Duration `validate:"gte=0"`
	AllowSessionless     bool
	RequireActiveSession bool
}

type LogConfig struct {
	Level  string
	Format string `validate:"oneof=json console"`
}

// RateLimitConfig throttles the login and refresh endpoints. It needs Redis.
type RateLimitConfig struct {
	Enabled            bool
	MaxLoginAttempts   int           `validate:"gte=0"`
	LoginWindow        time.Duration `validate:"gte=0"`
	MaxRefreshAttempts int           `validate:"gte=0"`
	RefreshWindow      time.Duration `validate:"gte=0"`
}

// Load reads envFile (when it exists) into the process environment, then
// resolves GOSESSION_* variables over the defaults.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("GOSESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Env:         v.GetString("env"),
		HTTPAddr:    v.GetString("http_addr"),
		Backend:     strings.ToLower(v.GetString("backend")),
		DatabaseDSN: v.GetString("database_dsn"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
			Prefix:   v.GetString("redis_prefix"),
		},
		JWT: JWTConfig{
			AccessSecret:  v.GetString("jwt_access_secret"),
			RefreshSecret: v.GetString("jwt_refresh_secret"),
			AccessTTL:     v.GetDuration("jwt_access_ttl"),
			RefreshTTL:    v.GetDuration("jwt_refresh_ttl"),
			Issuer:        v.GetString("jwt_issuer"),
			Audience:      v.GetString("jwt_audience"),
		},
		Session: SessionConfig{
			HashKeys:             tokenhash.ParseKeyList(v.GetString("refresh_hash_keys"), v.GetString("refresh_hash_key")),
			ReuseGracePeriod:     v.GetDuration("reuse_grace_period"),
			AllowSessionless:     v.GetBool("allow_sessionless_refresh"),
			RequireActiveSession: v.GetBool("require_active_session"),
		},
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
		RateLimit: RateLimitConfig{
			Enabled:            v.GetBool("rate_limit_enabled"),
			MaxLoginAttempts:   v.GetInt("rate_limit_login_attempts"),
			LoginWindow:        v.GetDuration("rate_limit_login_window"),
			MaxRefreshAttempts: v.GetInt("rate_limit_refresh_attempts"),
			RefreshWindow:      v.GetDuration("rate_limit_refresh_window"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("backend", BackendMemory)

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_prefix", "gs:")

	v.SetDefault("jwt_access_ttl", "5m")
	v.SetDefault("jwt_refresh_ttl", "168h")
	v.SetDefault("jwt_issuer", "gosession")

	v.SetDefault("refresh_hash_keys", "")
	v.SetDefault("refresh_hash_key", "")
	v.SetDefault("reuse_grace_period", "0s")
	v.SetDefault("allow_sessionless_refresh", false)
	v.SetDefault("require_active_session", false)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("rate_limit_enabled", false)
	v.SetDefault("rate_limit_login_attempts", 5)
	v.SetDefault("rate_limit_login_window", "15m")
	v.SetDefault("rate_limit_refresh_attempts", 30)
	v.SetDefault("rate_limit_refresh_window", "1m")
}

var validate = validator.New()

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.RateLimit.Enabled && c.Backend != BackendRedis && c.Redis.Addr == "" {
		return errors.New("invalid config: rate limiting requires GOSESSION_REDIS_ADDR")
	}
	return nil
}

// UsesRedis reports whether the process needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Backend == BackendRedis || c.RateLimit.Enabled
}

// UsesSQL reports whether sessions live in a relational database.
func (c *Config) UsesSQL() bool {
	switch c.Backend {
	case BackendPostgres, BackendMySQL, BackendSQLite:
		return true
	}
	return false
}

// MigrationDSN returns DatabaseDSN in the URL form golang-migrate expects.
// MySQL driver DSNs carry no scheme, so one is added.
func (c *Config) MigrationDSN() string {
	if c.Backend == BackendMySQL && !strings.HasPrefix(c.DatabaseDSN, "mysql://") {
		return "mysql://" + c.DatabaseDSN
	}
	return c.DatabaseDSN
}

// EngineConfig maps the process configuration onto the engine's.
func (c *Config) EngineConfig() goSession.Config {
	cfg := goSession.DefaultConfig()
	cfg.JWT.AccessTTL = c.JWT.AccessTTL
	cfg.JWT.RefreshTTL = c.JWT.RefreshTTL
	cfg.JWT.PrivateKey = []byte(c.JWT.AccessSecret)
	cfg.JWT.RefreshSecret = []byte(c.JWT.RefreshSecret)
	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.JWT.Audience = c.JWT.Audience
	cfg.Session.RedisPrefix = c.Redis.Prefix
	cfg.Session.ReuseGracePeriod = c.Session.ReuseGracePeriod
	cfg.Refresh.AllowSessionlessFallback = c.Session.AllowSessionless
	cfg.Refresh.TokenStorePrefix = c.Redis.Prefix
	cfg.Validation.RequireActiveSession = c.Session.RequireActiveSession
	return cfg
}
