// Package config loads Taskly configuration from defaults, an optional
// config file, and TASKLY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full Taskly configuration.
type Config struct {
	DataDir      string             `mapstructure:"data_dir"`
	API          APIConfig          `mapstructure:"api"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Calendar     CalendarConfig     `mapstructure:"calendar"`
	Status       StatusConfig       `mapstructure:"status"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
	Log          LogConfig          `mapstructure:"log"`
}

// APIConfig locates the remote REST API.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// SyncConfig controls queue replay.
type SyncConfig struct {
	// MaxRetries is the retry ceiling; an item is dropped once its retry
	// count exceeds it.
	MaxRetries int `mapstructure:"max_retries"`
}

// CacheConfig controls the API response cache.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// ConnectivityConfig controls the health prober.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	HealthPath    string        `mapstructure:"health_path"`
}

// CalendarConfig controls cross-view reconciliation timing.
type CalendarConfig struct {
	SyncInterval        time.Duration `mapstructure:"sync_interval"`
	MinSyncGap          time.Duration `mapstructure:"min_sync_gap"`
	ConsistencyInterval time.Duration `mapstructure:"consistency_interval"`
}

// StatusConfig controls the pending-count poll used by status displays.
type StatusConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DashboardConfig controls the live dashboard server.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// DatabasePath returns the Local Store file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "taskly.db")
}

// SessionPath returns the session file holding the bearer token.
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.toml")
}

// OfflineFlagPath returns the marker file that forces offline mode.
func (c *Config) OfflineFlagPath() string {
	return filepath.Join(c.DataDir, "offline")
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must be an http(s) URL (got %q)", c.API.BaseURL)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be >= 0 (got %d)", c.Sync.MaxRetries)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Calendar.MinSyncGap > c.Calendar.SyncInterval {
		return fmt.Errorf("calendar.min_sync_gap (%s) exceeds calendar.sync_interval (%s)",
			c.Calendar.MinSyncGap, c.Calendar.SyncInterval)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("api.base_url", "http://localhost:5000/api")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("connectivity.probe_interval", 15*time.Second)
	v.SetDefault("connectivity.probe_timeout", 5*time.Second)
	v.SetDefault("connectivity.health_path", "/health")
	v.SetDefault("calendar.sync_interval", 60*time.Second)
	v.SetDefault("calendar.min_sync_gap", 30*time.Second)
	v.SetDefault("calendar.consistency_interval", 5*time.Minute)
	v.SetDefault("status.poll_interval", 30*time.Second)
	v.SetDefault("dashboard.port", 8787)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// Default returns the built-in configuration, ignoring files and
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration. An empty path looks for config.yaml in the
// default config directory; a missing default file is not an error, a
// missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/taskly or ~/.config/taskly.
func DefaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "taskly")
	}
	return ".taskly"
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "taskly")
	}
	return ".taskly"
}
