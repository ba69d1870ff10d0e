package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/fabula/errors"
)

// EnvPrefix is the prefix for environment overrides
const EnvPrefix = "FABULA"

// Storage drivers
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverNATS   = "nats"
)

// Config is the full service configuration
type Config struct {
	Log     LogConfig     `yaml:"log"`
	NATS    NATSConfig    `yaml:"nats"`
	Storage StorageConfig `yaml:"storage"`
	Collab  CollabConfig  `yaml:"collab"`
	Gateway GatewayConfig `yaml:"gateway"`
	Metrics MetricsConfig `yaml:"metrics"`
	Trash   TrashConfig   `yaml:"trash"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// NATSConfig controls the NATS connection; URL may be empty when neither
// the nats storage driver nor the relay is used
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Token         string        `yaml:"token"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	EnableRelay   bool          `yaml:"enable_relay"` // cross-instance event fanout
}

// StorageConfig selects and configures the flow storage backend
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite or nats
	Path   string `yaml:"path"`   // sqlite database path
	Bucket string `yaml:"bucket"` // nats KV bucket name
}

// CollabConfig tunes the collaboration hub
type CollabConfig struct {
	LeaseTTL       time.Duration `yaml:"lease_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	CursorInterval time.Duration `yaml:"cursor_interval"`
	EventBuffer    int           `yaml:"event_buffer"`
}

// GatewayConfig tunes the HTTP front
type GatewayConfig struct {
	Addr            string        `yaml:"addr"`
	MaxRequestSize  int64         `yaml:"max_request_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// TrashConfig controls soft-delete retention
type TrashConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// DefaultConfig returns the configuration used when no file or environment
// overrides are present
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
			Path:   "fabula.db",
			Bucket: "fabula-flows",
		},
		Collab: CollabConfig{
			LeaseTTL:       30 * time.Second,
			SweepInterval:  time.Second,
			CursorInterval: 100 * time.Millisecond,
			EventBuffer:    256,
		},
		Gateway: GatewayConfig{
			Addr:            ":8080",
			MaxRequestSize:  1 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Trash: TrashConfig{
			Retention:     30 * 24 * time.Hour,
			PurgeInterval: time.Hour,
		},
	}
}

// Load reads the config file at path (skipped when path is empty), applies
// environment overrides, and validates the result
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envString(key string, target *string) {
	if val := os.Getenv(EnvPrefix + "_" + key); val != "" {
		*target = val
	}
}

func envBool(key string, target *bool) {
	if val := os.Getenv(EnvPrefix + "_" + key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			*target = parsed
		}
	}
}

func envInt(key string, target *int) {
	if val := os.Getenv(EnvPrefix + "_" + key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*target = parsed
		}
	}
}

func envDuration(key string, target *time.Duration) {
	if val := os.Getenv(EnvPrefix + "_" + key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			*target = parsed
		}
	}
}

func (c *Config) applyEnvOverrides() {
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)

	envString("NATS_URL", &c.NATS.URL)
	envString("NATS_USERNAME", &c.NATS.Username)
	envString("NATS_PASSWORD", &c.NATS.Password)
	envString("NATS_TOKEN", &c.NATS.Token)
	envBool("NATS_ENABLE_RELAY", &c.NATS.EnableRelay)

	envString("STORAGE_DRIVER", &c.Storage.Driver)
	envString("STORAGE_PATH", &c.Storage.Path)
	envString("STORAGE_BUCKET", &c.Storage.Bucket)

	envDuration("COLLAB_LEASE_TTL", &c.Collab.LeaseTTL)
	envDuration("COLLAB_SWEEP_INTERVAL", &c.Collab.SweepInterval)
	envDuration("COLLAB_CURSOR_INTERVAL", &c.Collab.CursorInterval)
	envInt("COLLAB_EVENT_BUFFER", &c.Collab.EventBuffer)

	envString("GATEWAY_ADDR", &c.Gateway.Addr)

	envBool("METRICS_ENABLED", &c.Metrics.Enabled)
	envInt("METRICS_PORT", &c.Metrics.Port)

	envDuration("TRASH_RETENTION", &c.Trash.Retention)
	envDuration("TRASH_PURGE_INTERVAL", &c.Trash.PurgeInterval)
}

// Validate checks cross-field consistency
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"Config", "Validate", "sqlite driver requires storage.path")
		}
	case DriverNATS:
		if c.NATS.URL == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"Config", "Validate", "nats driver requires nats.url")
		}
		if c.Storage.Bucket == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"Config", "Validate", "nats driver requires storage.bucket")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown storage driver %q", c.Storage.Driver),
			"Config", "Validate", "storage driver check")
	}

	if c.NATS.EnableRelay && c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Config", "Validate", "relay requires nats.url")
	}
	if c.Collab.LeaseTTL <= 0 || c.Collab.SweepInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Config", "Validate", "collab intervals must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown log level %q", c.Log.Level),
			"Config", "Validate", "log level check")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown log format %q", c.Log.Format),
			"Config", "Validate", "log format check")
	}
	return nil
}
