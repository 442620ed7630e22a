// Package config holds runtime configuration for the pathway gateway core.
//
// Configuration is loaded from a YAML file with environment-variable overlays,
// then validated. Zero values are filled with defaults so a partial file (or no
// file at all) still yields a usable configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageType selects the dynamic-pathway storage backend.
type StorageType string

const (
	// StorageLocal stores the pathway document on the local filesystem.
	StorageLocal StorageType = "local"

	// StorageBlob stores the pathway document in an Azure Blob container.
	StorageBlob StorageType = "blob"

	// StorageObjectStore stores the pathway document in an S3-compatible bucket.
	StorageObjectStore StorageType = "object-store"
)

// Defaults applied by Load for unset fields.
const (
	DefaultTimeoutSeconds               = 120
	DefaultClientToolTimeoutSeconds     = 300
	DefaultClientToolCleanupMaxAgeSecs  = 600
	DefaultRequestIdleTimeoutSeconds    = 300
	DefaultStorePollIntervalSeconds     = 30
	DefaultStoragePath                  = "pathways.json"
)

// Config is the runtime configuration recognized by the core.
type Config struct {
	// StorageType selects the dynamic-pathway backend: local, blob, or object-store.
	StorageType StorageType `yaml:"storageType"`

	// StoragePath is the document path (local) or blob/object key prefix.
	StoragePath string `yaml:"storagePath"`

	// StorageConnection is the backend connection string: container URL for blob,
	// bucket name for object-store. Unused for local storage.
	StorageConnection string `yaml:"storageConnection"`

	// PublishKey gates all dynamic-pathway mutations on top of per-record secrets.
	PublishKey string `yaml:"publishKey"`

	// BusConnection is the Redis address used for cross-instance pub/sub and the
	// shared context store. Empty means single-instance mode.
	BusConnection string `yaml:"busConnection"`

	// EnableGraphQLCache is advisory; the outer GraphQL surface reads it.
	EnableGraphQLCache bool `yaml:"enableGraphqlCache"`

	// DefaultTimeoutSeconds bounds a whole pathway resolution when the pathway
	// declares no timeout of its own.
	DefaultTimeoutSeconds int `yaml:"defaultTimeoutSeconds"`

	// DefaultClientToolTimeoutSeconds bounds a single client-tool wait.
	DefaultClientToolTimeoutSeconds int `yaml:"defaultClientToolTimeoutSeconds"`

	// ClientToolCleanupMaxAgeSeconds is the watchdog threshold after which pending
	// client-tool callbacks are rejected.
	ClientToolCleanupMaxAgeSeconds int `yaml:"clientToolCleanupMaxAgeSeconds"`

	// RequestIdleTimeoutSeconds controls how long terminal request records are
	// retained before the registry sweeper purges them.
	RequestIdleTimeoutSeconds int `yaml:"requestIdleTimeoutSeconds"`

	// StorePollIntervalSeconds is the minimum interval between LastModified checks
	// against the pathway storage backend.
	StorePollIntervalSeconds int `yaml:"storePollIntervalSeconds"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the YAML file at path, overlays environment
// variables, applies defaults, and validates the result. An empty path skips
// the file step entirely.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PATHWAYS_STORAGE_TYPE"); v != "" {
		c.StorageType = StorageType(v)
	}
	if v := os.Getenv("PATHWAYS_STORAGE_PATH"); v != "" {
		c.StoragePath = v
	}
	if v := os.Getenv("PATHWAYS_STORAGE_CONNECTION"); v != "" {
		c.StorageConnection = v
	}
	if v := os.Getenv("PATHWAYS_PUBLISH_KEY"); v != "" {
		c.PublishKey = v
	}
	if v := os.Getenv("PATHWAYS_BUS_CONNECTION"); v != "" {
		c.BusConnection = v
	}
	if v := os.Getenv("PATHWAYS_DEFAULT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultTimeoutSeconds = n
		}
	}
	if v := os.Getenv("PATHWAYS_CLIENT_TOOL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultClientToolTimeoutSeconds = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.StorageType == "" {
		c.StorageType = StorageLocal
	}
	if c.StoragePath == "" {
		c.StoragePath = DefaultStoragePath
	}
	if c.DefaultTimeoutSeconds == 0 {
		c.DefaultTimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.DefaultClientToolTimeoutSeconds == 0 {
		c.DefaultClientToolTimeoutSeconds = DefaultClientToolTimeoutSeconds
	}
	if c.ClientToolCleanupMaxAgeSeconds == 0 {
		c.ClientToolCleanupMaxAgeSeconds = DefaultClientToolCleanupMaxAgeSecs
	}
	if c.RequestIdleTimeoutSeconds == 0 {
		c.RequestIdleTimeoutSeconds = DefaultRequestIdleTimeoutSeconds
	}
	if c.StorePollIntervalSeconds == 0 {
		c.StorePollIntervalSeconds = DefaultStorePollIntervalSeconds
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.StorageType {
	case StorageLocal, StorageBlob, StorageObjectStore:
	default:
		return fmt.Errorf("invalid storageType %q: must be local, blob, or object-store", c.StorageType)
	}

	if c.StorageType != StorageLocal && c.StorageConnection == "" {
		return fmt.Errorf("storageConnection is required for storageType %q", c.StorageType)
	}

	if c.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("defaultTimeoutSeconds must be non-negative, got %d", c.DefaultTimeoutSeconds)
	}
	return nil
}

// DefaultTimeout returns the default resolution timeout as a duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// ClientToolTimeout returns the default client-tool wait timeout as a duration.
func (c *Config) ClientToolTimeout() time.Duration {
	return time.Duration(c.DefaultClientToolTimeoutSeconds) * time.Second
}

// ClientToolCleanupMaxAge returns the callback watchdog threshold as a duration.
func (c *Config) ClientToolCleanupMaxAge() time.Duration {
	return time.Duration(c.ClientToolCleanupMaxAgeSeconds) * time.Second
}

// RequestIdleTimeout returns the request-record retention window as a duration.
func (c *Config) RequestIdleTimeout() time.Duration {
	return time.Duration(c.RequestIdleTimeoutSeconds) * time.Second
}

// StorePollInterval returns the storage freshness polling interval as a duration.
func (c *Config) StorePollInterval() time.Duration {
	return time.Duration(c.StorePollIntervalSeconds) * time.Second
}
