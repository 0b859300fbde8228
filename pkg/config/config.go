package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is read when no explicit path is given.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for ekaya-catalog.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Catalog store (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Optional Redis used for cross-process run locks
	Redis RedisConfig `yaml:"redis"`

	Sync    SyncConfig    `yaml:"sync"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Credential encryption key for data source secrets.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	ProjectCredentialsKey string `yaml:"-" env:"PROJECT_CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_catalog"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. An empty host disables Redis.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// SyncConfig controls the run worker and extractor connections.
type SyncConfig struct {
	// WorkerPollInterval is how often the worker looks for queued runs.
	WorkerPollInterval time.Duration `yaml:"worker_poll_interval" env:"SYNC_WORKER_POLL_INTERVAL" env-default:"5s"`
	// RunLockTTL bounds how long a crashed process can hold a data source's run lock.
	RunLockTTL time.Duration `yaml:"run_lock_ttl" env:"SYNC_RUN_LOCK_TTL" env-default:"2h"`
	// ConnectionTimeoutSeconds is applied to data sources whose config omits connection_timeout.
	ConnectionTimeoutSeconds int `yaml:"connection_timeout_seconds" env:"SYNC_CONNECTION_TIMEOUT_SECONDS" env-default:"30"`
}

// MetricsConfig controls the Prometheus endpoint served by the worker.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"METRICS_LISTEN_ADDR" env-default:":9090"`
}

// Load reads configuration from the YAML file at path with environment variable overrides.
// An empty path reads DefaultConfigPath, and a missing default file falls back to
// environment variables only. Secrets (PGPASSWORD, PROJECT_CREDENTIALS_KEY,
// REDIS_PASSWORD) must come from environment variables (yaml:"-" fields).
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	if _, statErr := os.Stat(path); statErr != nil && !explicit && errors.Is(statErr, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Sync.WorkerPollInterval <= 0 {
		return fmt.Errorf("sync.worker_poll_interval must be positive")
	}
	if c.Sync.RunLockTTL <= 0 {
		return fmt.Errorf("sync.run_lock_ttl must be positive")
	}
	if c.Sync.ConnectionTimeoutSeconds <= 0 {
		return fmt.Errorf("sync.connection_timeout_seconds must be positive")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection URL for the catalog store.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   ResolveHostForDocker(c.Host) + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
