package dispenser

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Supported primary store backends.
const (
	BackendRedis = "redis"
	BackendNATS  = "nats"
)

// Environment variables read by ApplyEnv.
const (
	EnvBackend       = "TICKETD_BACKEND"
	EnvRedisURL      = "TICKETD_REDIS_URL"
	EnvNATSURL       = "TICKETD_NATS_URL"
	EnvProbeInterval = "TICKETD_PROBE_INTERVAL"
	EnvServiceName   = "TICKETD_SERVICE_NAME"
)

// RedisConfig configures the Redis primary store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server. Ignored when URL is set.
	Addr string `yaml:"addr"`

	// URL is a redis:// connection URL. Takes precedence over Addr.
	URL string `yaml:"url"`

	// KeyPrefix and KeySuffix wrap the event ID to form the inventory key.
	// Defaults produce "event:<id>:tickets".
	KeyPrefix string `yaml:"keyPrefix"`
	KeySuffix string `yaml:"keySuffix"`

	// DialTimeout bounds establishing a connection.
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// NATSConfig configures the NATS JetStream KV primary store.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string `yaml:"url"`

	// Bucket is the KV bucket holding inventory documents.
	Bucket string `yaml:"bucket"`
}

// LogConfig configures the service logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`
}

// Config is the configuration for the Dispenser.
//
// All duration fields accept standard Go duration strings like "500ms", "2s".
// Only the timing fields are used by the library itself; the backend, log and
// listen sections are read by the ticketd service that wires everything up.
type Config struct {
	// ServiceName labels logs and metrics.
	ServiceName string `yaml:"serviceName"`

	// InstanceID identifies this process. Default: random UUID.
	InstanceID string `yaml:"instanceId"`

	// ProbeInterval is how often the primary store is probed while the
	// fallback store is active. Recovery happens at most one interval after
	// the primary heals.
	ProbeInterval time.Duration `yaml:"probeInterval"`

	// OperationTimeout bounds a single primary store call (pop or probe).
	// A pop that exceeds it is treated as store unavailability.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// SnapshotTimeout bounds copying the primary inventory during failover.
	SnapshotTimeout time.Duration `yaml:"snapshotTimeout"`

	// StartupTimeout bounds the startup connection check.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// ShutdownTimeout bounds waiting for the prober and hooks on Stop.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Backend selects the primary store: "redis" or "nats".
	Backend string `yaml:"backend"`

	Redis RedisConfig `yaml:"redis"`
	NATS  NATSConfig  `yaml:"nats"`
	Log   LogConfig   `yaml:"log"`

	// ListenAddr is the HTTP listen address of the ticketd service.
	ListenAddr string `yaml:"listenAddr"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		ServiceName:      "ticketd",
		ProbeInterval:    2 * time.Second,
		OperationTimeout: 500 * time.Millisecond,
		SnapshotTimeout:  5 * time.Second,
		StartupTimeout:   5 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		Backend:          BackendRedis,
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			KeyPrefix:   "event:",
			KeySuffix:   ":tickets",
			DialTimeout: time.Second,
		},
		NATS: NATSConfig{
			URL:    "nats://localhost:4222",
			Bucket: "ticket-inventory",
		},
		Log: LogConfig{
			Level: "info",
		},
		ListenAddr: ":3000",
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// An empty InstanceID gets a fresh random UUID.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.ServiceName == "" {
		cfg.ServiceName = defaults.ServiceName
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = defaults.ProbeInterval
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.SnapshotTimeout == 0 {
		cfg.SnapshotTimeout = defaults.SnapshotTimeout
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = defaults.StartupTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Backend == "" {
		cfg.Backend = defaults.Backend
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = defaults.Redis.KeyPrefix
	}
	if cfg.Redis.KeySuffix == "" {
		cfg.Redis.KeySuffix = defaults.Redis.KeySuffix
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = defaults.Redis.DialTimeout
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = defaults.NATS.URL
	}
	if cfg.NATS.Bucket == "" {
		cfg.NATS.Bucket = defaults.NATS.Bucket
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - ProbeInterval, OperationTimeout, SnapshotTimeout > 0
//   - StartupTimeout, ShutdownTimeout >= 0
//   - Backend is "redis" or "nats"
//
// Returns:
//   - error: Error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	if cfg.ProbeInterval <= 0 {
		return fmt.Errorf("%w: ProbeInterval must be > 0, got %v", ErrInvalidConfig, cfg.ProbeInterval)
	}

	if cfg.OperationTimeout <= 0 {
		return fmt.Errorf("%w: OperationTimeout must be > 0, got %v", ErrInvalidConfig, cfg.OperationTimeout)
	}

	if cfg.SnapshotTimeout <= 0 {
		return fmt.Errorf("%w: SnapshotTimeout must be > 0, got %v", ErrInvalidConfig, cfg.SnapshotTimeout)
	}

	if cfg.StartupTimeout < 0 || cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: StartupTimeout (%v) and ShutdownTimeout (%v) must not be negative",
			ErrInvalidConfig, cfg.StartupTimeout, cfg.ShutdownTimeout)
	}

	switch cfg.Backend {
	case BackendRedis, BackendNATS:
	default:
		return fmt.Errorf("%w: unknown backend %q (want %q or %q)", ErrInvalidConfig, cfg.Backend, BackendRedis, BackendNATS)
	}

	return nil
}

// ValidateWithWarnings logs warnings for legal but questionable values.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.OperationTimeout >= cfg.ProbeInterval {
		logger.Warn(
			"OperationTimeout is not shorter than ProbeInterval, probes may overlap",
			"operationTimeout", cfg.OperationTimeout,
			"probeInterval", cfg.ProbeInterval,
		)
	}

	if cfg.SnapshotTimeout < cfg.OperationTimeout {
		logger.Warn(
			"SnapshotTimeout is shorter than OperationTimeout, failover snapshots will likely be incomplete",
			"snapshotTimeout", cfg.SnapshotTimeout,
			"operationTimeout", cfg.OperationTimeout,
		)
	}

	if cfg.ProbeInterval > time.Minute {
		logger.Warn(
			"ProbeInterval is very long, recovery after an outage will be slow",
			"probeInterval", cfg.ProbeInterval,
			"recommended", "2s",
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := dispenser.TestConfig()
//	d, err := dispenser.New(cfg, dispensertest.NewFakeStore())
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.ProbeInterval = 50 * time.Millisecond
	cfg.OperationTimeout = 200 * time.Millisecond
	cfg.SnapshotTimeout = time.Second
	cfg.StartupTimeout = time.Second
	cfg.ShutdownTimeout = time.Second

	return cfg
}

// LoadConfig reads a YAML configuration file and applies defaults.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - Config: Loaded configuration with defaults filled in
//   - error: Read or decode error wrapping ErrInvalidConfig for bad content
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode %s: %w", ErrInvalidConfig, path, err)
	}

	SetDefaults(&cfg)

	return cfg, nil
}

// ApplyEnv overrides configuration from TICKETD_* environment variables.
//
// Recognized variables: TICKETD_BACKEND, TICKETD_REDIS_URL, TICKETD_NATS_URL,
// TICKETD_PROBE_INTERVAL (Go duration) and TICKETD_SERVICE_NAME.
//
// Parameters:
//   - cfg: Config to override (modified in place)
//
// Returns:
//   - error: Error wrapping ErrInvalidConfig if a value cannot be parsed
func ApplyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvBackend); ok && v != "" {
		cfg.Backend = v
	}
	if v, ok := os.LookupEnv(EnvRedisURL); ok && v != "" {
		cfg.Redis.URL = v
	}
	if v, ok := os.LookupEnv(EnvNATSURL); ok && v != "" {
		cfg.NATS.URL = v
	}
	if v, ok := os.LookupEnv(EnvServiceName); ok && v != "" {
		cfg.ServiceName = v
	}
	if v, ok := os.LookupEnv(EnvProbeInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvProbeInterval, err)
		}
		cfg.ProbeInterval = d
	}

	return nil
}
