// Package config загружает настройки клиента из файла, переменных окружения
// OFFLINESYNC_* и флагов командной строки.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iudanet/offlinesync/internal/client/sync"
	"github.com/iudanet/offlinesync/internal/client/sync/initial"
	"github.com/iudanet/offlinesync/internal/client/sync/reachability"
	"github.com/iudanet/offlinesync/internal/client/sync/retry"
	"github.com/iudanet/offlinesync/internal/validation"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "OFFLINESYNC"

// Default values
const (
	DefaultServerURL = "http://localhost:8080"
	DefaultDBPath    = "offlinesync-client.db"
	DefaultLogLevel  = "info"
)

// DefaultModels типы записей, которые синхронизируются без явной настройки
var DefaultModels = []string{"note"}

// Config настройки клиента
type Config struct {
	// ServerURL адрес бэкенда
	ServerURL string `mapstructure:"server"`
	// DBPath путь к локальной базе bbolt
	DBPath string `mapstructure:"db"`
	// LogLevel debug, info, warn или error
	LogLevel     string             `mapstructure:"log_level"`
	Reachability ReachabilityConfig `mapstructure:"reachability"`
	Sync         sync.Config        `mapstructure:"sync"`
	// PollWait сколько сервер держит long-poll запрос изменений
	PollWait time.Duration `mapstructure:"poll_wait"`
}

// ReachabilityConfig параметры проверки доступности бэкенда
type ReachabilityConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server", DefaultServerURL)
	v.SetDefault("db", DefaultDBPath)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("poll_wait", 20*time.Second)

	v.SetDefault("reachability.interval", reachability.DefaultInterval)
	v.SetDefault("reachability.timeout", reachability.DefaultTimeout)

	v.SetDefault("sync.models", DefaultModels)
	v.SetDefault("sync.submit_timeout", 30*time.Second)

	setRetryDefaults(v, "sync.restart", retry.DefaultConfig())
	mutations := retry.DefaultConfig()
	mutations.MaxAttempts = 10
	setRetryDefaults(v, "sync.mutations", mutations)

	v.SetDefault("sync.initial_sync.page_size", initial.DefaultPageSize)
	v.SetDefault("sync.initial_sync.concurrency", initial.DefaultConcurrency)
	v.SetDefault("sync.initial_sync.page_attempts", initial.DefaultPageAttempts)
	v.SetDefault("sync.initial_sync.page_backoff", time.Second)
}

func setRetryDefaults(v *viper.Viper, prefix string, cfg retry.Config) {
	v.SetDefault(prefix+".initial_interval", cfg.InitialInterval)
	v.SetDefault(prefix+".max_interval", cfg.MaxInterval)
	v.SetDefault(prefix+".multiplier", cfg.Multiplier)
	v.SetDefault(prefix+".randomization_factor", cfg.RandomizationFactor)
	v.SetDefault(prefix+".max_attempts", cfg.MaxAttempts)
}

// Load reads the configuration from v. When path is not empty the file is
// read first; environment variables and bound flags take precedence over it.
func Load(v *viper.Viper, path string) (*Config, error) {
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
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("server: host is required")
	}

	if c.DBPath == "" {
		return errors.New("db: path is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}

	if len(c.Sync.Models) == 0 {
		return errors.New("sync.models: at least one model is required")
	}
	seen := make(map[string]bool, len(c.Sync.Models))
	for i, name := range c.Sync.Models {
		if err := validation.ValidateModelName(name); err != nil {
			return fmt.Errorf("sync.models[%d]: %w", i, err)
		}
		if seen[name] {
			return fmt.Errorf("sync.models[%d]: duplicate model %q", i, name)
		}
		seen[name] = true
	}

	if c.Sync.InitialSync.PageSize <= 0 {
		return errors.New("sync.initial_sync.page_size must be positive")
	}
	if c.Sync.InitialSync.Concurrency <= 0 {
		return errors.New("sync.initial_sync.concurrency must be positive")
	}
	if err := validateRetry("sync.restart", c.Sync.Restart); err != nil {
		return err
	}
	if err := validateRetry("sync.mutations", c.Sync.Mutations); err != nil {
		return err
	}

	if c.Reachability.Interval <= 0 {
		return errors.New("reachability.interval must be positive")
	}
	return nil
}

func validateRetry(prefix string, cfg retry.Config) error {
	if cfg.InitialInterval <= 0 {
		return fmt.Errorf("%s.initial_interval must be positive", prefix)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return fmt.Errorf("%s.max_interval must not be less than initial_interval", prefix)
	}
	if cfg.Multiplier < 1 {
		return fmt.Errorf("%s.multiplier must be at least 1", prefix)
	}
	if cfg.RandomizationFactor < 0 || cfg.RandomizationFactor > 1 {
		return fmt.Errorf("%s.randomization_factor must be within [0, 1]", prefix)
	}
	if cfg.MaxAttempts < 0 {
		return fmt.Errorf("%s.max_attempts must not be negative", prefix)
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
