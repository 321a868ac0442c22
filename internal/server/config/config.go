// Package config загружает настройки сервера из файла, переменных окружения
// OFFLINESYNC_SERVER_* и флагов командной строки.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "OFFLINESYNC_SERVER"

// Default values
const (
	DefaultAddress   = ":8080"
	DefaultDBPath    = "offlinesync-server.db"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// minSecretLen минимальная длина секрета подписи токенов
const minSecretLen = 32

// Config настройки сервера
type Config struct {
	Address   string          `mapstructure:"address"`
	DBPath    string          `mapstructure:"db"`
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Records   RecordsConfig   `mapstructure:"records"`
	// TokenCleanupInterval как часто удаляются просроченные refresh токены
	TokenCleanupInterval time.Duration `mapstructure:"token_cleanup_interval"`
	// AllowAnonymous пускает клиентов без сессии в общее анонимное пространство
	AllowAnonymous bool `mapstructure:"allow_anonymous"`
}

// JWTConfig параметры токенов
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

// HTTPConfig таймауты HTTP сервера
type HTTPConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RateLimitConfig лимиты запросов с одного адреса
type RateLimitConfig struct {
	AuthRequests int           `mapstructure:"auth_requests"`
	AuthWindow   time.Duration `mapstructure:"auth_window"`
	APIRequests  int           `mapstructure:"api_requests"`
	APIWindow    time.Duration `mapstructure:"api_window"`
}

// RecordsConfig лимиты выборок и long-poll
type RecordsConfig struct {
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
	ChangesLimit    int           `mapstructure:"changes_limit"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("address", DefaultAddress)
	v.SetDefault("db", DefaultDBPath)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("allow_anonymous", false)
	v.SetDefault("token_cleanup_interval", time.Hour)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_ttl", 15*time.Minute)
	v.SetDefault("jwt.refresh_ttl", 30*24*time.Hour)

	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 45*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.request_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)

	v.SetDefault("rate_limit.auth_requests", 10)
	v.SetDefault("rate_limit.auth_window", time.Minute)
	v.SetDefault("rate_limit.api_requests", 600)
	v.SetDefault("rate_limit.api_window", time.Minute)

	v.SetDefault("records.default_page_size", 100)
	v.SetDefault("records.max_page_size", 1000)
	v.SetDefault("records.changes_limit", 500)
	v.SetDefault("records.max_wait", 30*time.Second)
}

// Load reads and validates the configuration. When path is not empty the
// file is read first; environment variables and bound flags take precedence
// over it.
func Load(v *viper.Viper, path string) (*Config, error) {
	cfg, err := Read(v, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read decodes the configuration without validating it. Maintenance commands
// use it when only the database path matters.
func Read(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.DBPath == "" {
		return errors.New("db: path is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log_format: unsupported format %q", c.LogFormat)
	}

	if len(c.JWT.Secret) < minSecretLen {
		return fmt.Errorf("jwt.secret must be at least %d characters", minSecretLen)
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("jwt: token lifetimes must be positive")
	}

	if c.Records.DefaultPageSize <= 0 || c.Records.MaxPageSize < c.Records.DefaultPageSize {
		return errors.New("records: page sizes must be positive and max_page_size >= default_page_size")
	}
	if c.Records.ChangesLimit <= 0 {
		return errors.New("records.changes_limit must be positive")
	}
	if c.Records.MaxWait < 0 {
		return errors.New("records.max_wait must not be negative")
	}
	// long-poll должен закончиться раньше, чем сервер оборвёт ответ
	if c.HTTP.WriteTimeout > 0 && c.HTTP.WriteTimeout <= c.Records.MaxWait {
		return errors.New("http.write_timeout must be greater than records.max_wait")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return errors.New("http.request_timeout must be positive")
	}

	if c.RateLimit.AuthRequests <= 0 || c.RateLimit.APIRequests <= 0 {
		return errors.New("rate_limit: request limits must be positive")
	}
	if c.RateLimit.AuthWindow <= 0 || c.RateLimit.APIWindow <= 0 {
		return errors.New("rate_limit: windows must be positive")
	}
	if c.TokenCleanupInterval <= 0 {
		return errors.New("token_cleanup_interval must be positive")
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
