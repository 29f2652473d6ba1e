package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"payvault/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	API          APIConfig          `yaml:"api"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Redis        RedisConfig        `yaml:"redis"`
	Backup       BackupConfig       `yaml:"backup"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	Exports      ExportConfig       `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type APIConfig struct {
	BaseURL        string             `yaml:"base_url"`
	HealthPath     string             `yaml:"health_path"`
	TimeoutSeconds int                `yaml:"timeout_seconds"`
	RateLimit      APIRateLimitConfig `yaml:"rate_limit"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type SyncConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`
	RetentionHours int `yaml:"retention_hours"`
	DebounceMillis int `yaml:"debounce_ms"`
}

type ConnectivityConfig struct {
	ProbeIntervalSeconds int `yaml:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int `yaml:"probe_timeout_seconds"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; variables may come from the environment directly
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references before parsing
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api base_url is required")
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync max_attempts must be positive, got %d", c.Sync.MaxAttempts)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.TimeoutSeconds == 0 {
		c.API.TimeoutSeconds = int(models.DefaultRequestTimeout / time.Second)
	}
	if c.API.HealthPath == "" {
		c.API.HealthPath = "/health"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 5
	}

	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = models.MaxSyncAttempts
	}
	if c.Sync.RetentionHours == 0 {
		c.Sync.RetentionHours = int(models.SyncedRetention / time.Hour)
	}
	if c.Sync.DebounceMillis == 0 {
		c.Sync.DebounceMillis = int(models.OnlineDebounce / time.Millisecond)
	}

	if c.Connectivity.ProbeIntervalSeconds == 0 {
		c.Connectivity.ProbeIntervalSeconds = 15
	}
	if c.Connectivity.ProbeTimeoutSeconds == 0 {
		c.Connectivity.ProbeTimeoutSeconds = 5
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

// RequestTimeout returns the reconciler call timeout as a duration.
func (c *APIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Retention returns the synced-operation retention window.
func (c *SyncConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// Debounce returns the online-transition settle delay.
func (c *SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}
