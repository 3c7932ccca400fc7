// Package config holds service and dataset configuration for the refresher
package config

import (
	"errors"
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

var (
	// ErrRedisURLRequired is returned when the Redis URL is not provided
	ErrRedisURLRequired = errors.New("redis URL is required")
	// ErrStorageDirRequired is returned when the artifact storage directory is not provided
	ErrStorageDirRequired = errors.New("storage directory is required")
	// ErrQueryEndpointRequired is returned when the query backend endpoint is not provided
	ErrQueryEndpointRequired = errors.New("query backend endpoint is required")
	// ErrInvalidLeaseDuration is returned when the lock lease duration is not positive
	ErrInvalidLeaseDuration = errors.New("lock lease duration must be positive")
)

// Config represents the complete service configuration
type Config struct {
	// Core settings
	Logging     string `yaml:"logging" default:"info"`
	MetricsAddr string `yaml:"metricsAddr" default:":9090"`

	// Dependencies
	Redis   RedisConfig   `yaml:"redis"`
	Storage StorageConfig `yaml:"storage"`
	Query   QueryConfig   `yaml:"query"`
	Geo     GeoConfig     `yaml:"geo"`

	// Surfaces
	API       APIConfig       `yaml:"api"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Refresh behaviour
	Lock LockConfig `yaml:"lock"`

	// Dataset definitions file
	DatasetsFile string `yaml:"datasetsFile" default:"datasets.yaml"`
}

// RedisConfig represents the Redis connection configuration
type RedisConfig struct {
	URL string `yaml:"url"`
}

// StorageConfig represents the artifact store configuration
type StorageConfig struct {
	// Dir is the root directory for committed artifacts. Staged content
	// lives under Dir/.staging so a rename into place stays on one
	// filesystem.
	Dir string `yaml:"dir"`
}

// QueryConfig represents the external query backend configuration
type QueryConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	WorkspaceID string   `yaml:"workspaceId"`
	Timeout     Duration `yaml:"timeout" default:"10m"`
	RetryMax    int      `yaml:"retryMax" default:"3"`
}

// GeoConfig represents the geolocation lookup configuration
type GeoConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"databasePath" default:"geo.db"`
}

// APIConfig represents the HTTP API configuration
type APIConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Addr    string `yaml:"addr" default:":8080"`
}

// SchedulerConfig represents the background refresh scheduler configuration
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LockConfig represents the distributed lock configuration
type LockConfig struct {
	// LeaseDuration is a crash-recovery timeout, not a work timer. It must
	// comfortably exceed the worst-case query + transform + write time.
	LeaseDuration Duration `yaml:"leaseDuration" default:"5m"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return ErrRedisURLRequired
	}

	if c.Storage.Dir == "" {
		return ErrStorageDirRequired
	}

	if c.Query.Endpoint == "" {
		return ErrQueryEndpointRequired
	}

	if c.Lock.LeaseDuration <= 0 {
		return ErrInvalidLeaseDuration
	}

	return nil
}

// LoadFromFile reads a service configuration from a YAML file, applying
// struct defaults first so absent keys keep their documented values.
func LoadFromFile(file string) (*Config, error) {
	cfg := &Config{}

	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
