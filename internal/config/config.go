// Package config loads tagline settings from config.yaml and TAGLINE_* env vars
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "TAGLINE"
	configFileName = "config.yaml"
)

// List backends
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	TMDB    TMDBConfig    `mapstructure:"tmdb"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Search  SearchConfig  `mapstructure:"search"`
	List    ListConfig    `mapstructure:"list"`
	Session SessionConfig `mapstructure:"session"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// TMDBConfig holds metadata API settings
type TMDBConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Language          string        `mapstructure:"language"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"` // 0 = unlimited
}

// CacheConfig holds local cache settings
type CacheConfig struct {
	Path          string        `mapstructure:"path"` // Empty = memory only
	DetailTTL     time.Duration `mapstructure:"detail_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// SearchConfig holds search box behaviour
type SearchConfig struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	MinLength    int           `mapstructure:"min_length"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

// ListConfig holds saved-list store settings
type ListConfig struct {
	Backend           string        `mapstructure:"backend"` // "redis" or "memory"
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPassword     string        `mapstructure:"redis_password"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"` // 0 disables
}

// SessionConfig holds the signed-in user scope
type SessionConfig struct {
	UserID string `mapstructure:"user_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// SlogLevel parses Level (DEBUG, INFO, WARN/WARNING, ERROR; empty means INFO)
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(l.Level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown logging.level %q", l.Level)
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		TMDB: TMDBConfig{
			BaseURL:  "https://api.themoviedb.org/3",
			Language: "pt-PT",
			Timeout:  15 * time.Second,
		},
		Cache: CacheConfig{
			Path:          defaultCachePath(),
			DetailTTL:     24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Search: SearchConfig{
			Debounce:     500 * time.Millisecond,
			MinLength:    2,
			HistoryLimit: 20,
		},
		List: ListConfig{
			Backend:           BackendMemory,
			RedisAddr:         "localhost:6379",
			KeyPrefix:         "tagline",
			ReconcileInterval: 6 * time.Hour,
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "tagline", "tagline.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "tagline", "tagline.log")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "tagline")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "tagline")
	}
}

// defaultCachePath returns the default cache directory for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "tagline", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "tagline", "cache")
	}
}

// newViper builds a viper instance seeded with every default so that
// TAGLINE_SECTION_KEY env vars override nested keys
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("tmdb.api_key", d.TMDB.APIKey)
	v.SetDefault("tmdb.base_url", d.TMDB.BaseURL)
	v.SetDefault("tmdb.language", d.TMDB.Language)
	v.SetDefault("tmdb.timeout", d.TMDB.Timeout)
	v.SetDefault("tmdb.requests_per_second", d.TMDB.RequestsPerSecond)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.detail_ttl", d.Cache.DetailTTL)
	v.SetDefault("cache.sweep_interval", d.Cache.SweepInterval)
	v.SetDefault("search.debounce", d.Search.Debounce)
	v.SetDefault("search.min_length", d.Search.MinLength)
	v.SetDefault("search.history_limit", d.Search.HistoryLimit)
	v.SetDefault("list.backend", d.List.Backend)
	v.SetDefault("list.redis_addr", d.List.RedisAddr)
	v.SetDefault("list.redis_password", d.List.RedisPassword)
	v.SetDefault("list.key_prefix", d.List.KeyPrefix)
	v.SetDefault("list.reconcile_interval", d.List.ReconcileInterval)
	v.SetDefault("session.user_id", d.Session.UserID)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.level", d.Logging.Level)
	return v
}

// LoadConfig loads configuration from the default locations and environment
func LoadConfig() (*Config, error) {
	return Load(defaultConfigPath(), ".")
}

// Load reads config.yaml from the first of dirs that has one.
// A missing file is not an error.
func Load(dirs ...string) (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to the default config directory
func SaveConfig(cfg *Config) error {
	return SaveConfigTo(cfg, defaultConfigPath())
}

// SaveConfigTo writes cfg as dir/config.yaml
func SaveConfigTo(cfg *Config, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.Set("tmdb.api_key", cfg.TMDB.APIKey)
	v.Set("tmdb.base_url", cfg.TMDB.BaseURL)
	v.Set("tmdb.language", cfg.TMDB.Language)
	v.Set("tmdb.timeout", cfg.TMDB.Timeout.String())
	v.Set("tmdb.requests_per_second", cfg.TMDB.RequestsPerSecond)

	v.Set("cache.path", cfg.Cache.Path)
	v.Set("cache.detail_ttl", cfg.Cache.DetailTTL.String())
	v.Set("cache.sweep_interval", cfg.Cache.SweepInterval.String())

	v.Set("search.debounce", cfg.Search.Debounce.String())
	v.Set("search.min_length", cfg.Search.MinLength)
	v.Set("search.history_limit", cfg.Search.HistoryLimit)

	v.Set("list.backend", cfg.List.Backend)
	v.Set("list.redis_addr", cfg.List.RedisAddr)
	v.Set("list.redis_password", cfg.List.RedisPassword)
	v.Set("list.key_prefix", cfg.List.KeyPrefix)
	v.Set("list.reconcile_interval", cfg.List.ReconcileInterval.String())

	v.Set("session.user_id", cfg.Session.UserID)

	v.Set("logging.file", cfg.Logging.File)
	v.Set("logging.level", cfg.Logging.Level)

	if err := v.WriteConfigAs(filepath.Join(dir, configFileName)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	durations := map[string]time.Duration{
		"tmdb.timeout":            c.TMDB.Timeout,
		"cache.detail_ttl":        c.Cache.DetailTTL,
		"cache.sweep_interval":    c.Cache.SweepInterval,
		"search.debounce":         c.Search.Debounce,
		"list.reconcile_interval": c.List.ReconcileInterval,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative: %s", key, d)
		}
	}
	if c.TMDB.RequestsPerSecond < 0 {
		return fmt.Errorf("tmdb.requests_per_second must not be negative")
	}
	if c.Search.MinLength < 1 {
		return fmt.Errorf("search.min_length must be at least 1")
	}
	if c.Search.HistoryLimit < 1 {
		return fmt.Errorf("search.history_limit must be at least 1")
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}

	switch strings.ToLower(c.List.Backend) {
	case BackendMemory:
	case BackendRedis:
		if c.List.RedisAddr == "" {
			return fmt.Errorf("list.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown list.backend %q", c.List.Backend)
	}
	return nil
}

// IsConfigured returns true if an API key is set
func (c *Config) IsConfigured() bool {
	return c.TMDB.APIKey != ""
}

// ClearCache removes the local cache directory
func ClearCache(cfg *Config) error {
	if cfg.Cache.Path == "" {
		return nil
	}
	if err := os.RemoveAll(cfg.Cache.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
