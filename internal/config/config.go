package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mir00r/grace-cache/internal/domain"
	"gopkg.in/yaml.v2"
)

// Config represents the main configuration structure
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Backend        BackendConfig        `yaml:"backend"`
	Probe          ProbeConfig          `yaml:"probe"`
	Hosts          HostsConfig          `yaml:"hosts"`
	AccessLists    map[string][]string  `yaml:"access_lists"`
	Cache          CacheConfig          `yaml:"cache"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Storage        StorageConfig        `yaml:"storage"`
	ErrorPage      ErrorPageConfig      `yaml:"error_page"`
	Logging        LoggingConfig        `yaml:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Admin          AdminConfig          `yaml:"admin"`
}

// ServerConfig contains HTTP server specific configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	// Identity is hashed into cache keys of requests without a host
	Identity string `yaml:"identity"`
}

// BackendConfig contains the origin server definition
type BackendConfig struct {
	ID      string        `yaml:"id"`
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProbeConfig contains the health probe definition
type ProbeConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Path           string        `yaml:"path"`
	ExpectedStatus int           `yaml:"expected_status"`
	Timeout        time.Duration `yaml:"timeout"`
	Interval       time.Duration `yaml:"interval"`
	Window         int           `yaml:"window"`
	Threshold      int           `yaml:"threshold"`
}

// HostsConfig contains host normalisation settings
type HostsConfig struct {
	Canonical []string `yaml:"canonical"`
	Default   string   `yaml:"default"`
}

// CacheConfig contains freshness and storage policy settings
type CacheConfig struct {
	TTL                 time.Duration `yaml:"ttl"`
	Grace               time.Duration `yaml:"grace"`
	HealthyWindow       time.Duration `yaml:"healthy_window"`
	UncacheableStatuses []int         `yaml:"uncacheable_statuses"`
	PurgeACL            string        `yaml:"purge_acl"`
	Coalesce            bool          `yaml:"coalesce"`
	RefreshWorkers      int           `yaml:"refresh_workers"`
	RefreshQueue        int           `yaml:"refresh_queue"`
	RefreshTimeout      time.Duration `yaml:"refresh_timeout"`
}

// RetryConfig contains the backend error policy. MaxAttempts 0 retries forever.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// CircuitBreakerConfig guards the origin fetch path
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	MaxRequests      int           `yaml:"max_requests"`
}

// RateLimitConfig defines per-client front door limits
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// StorageConfig selects and configures the object store. SweepInterval is
// how often expired entries are dropped in bulk; zero leaves expiry to reads.
type StorageConfig struct {
	Driver        string        `yaml:"driver"`
	MaxEntries    int           `yaml:"max_entries"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	LevelDB       LevelDBConfig `yaml:"leveldb"`
	Redis         RedisConfig   `yaml:"redis"`
}

// LevelDBConfig configures the on-disk tier
type LevelDBConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig configures the shared tier
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ErrorPageConfig points at the synthetic error document
type ErrorPageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AdminConfig contains admin API configuration
type AdminConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	JWTSecret string `yaml:"jwt_secret"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodyBytes: 10 << 20,
			Identity:     "grace-cache",
		},
		Backend: BackendConfig{
			ID:      "default",
			Host:    "127.0.0.1",
			Port:    8081,
			Timeout: 30 * time.Second,
		},
		Probe: ProbeConfig{
			Enabled:        true,
			Path:           "/",
			ExpectedStatus: 200,
			Timeout:        2 * time.Second,
			Interval:       5 * time.Second,
			Window:         5,
			Threshold:      3,
		},
		Hosts: HostsConfig{
			Canonical: []string{"example.com", "www.example.com"},
			Default:   "www.example.com",
		},
		AccessLists: map[string][]string{
			"purge": {"localhost", "127.0.0.1", "::1"},
		},
		Cache: CacheConfig{
			TTL:                 24 * time.Hour,
			Grace:               24 * time.Hour,
			HealthyWindow:       20 * time.Second,
			UncacheableStatuses: []int{403, 404, 500, 502, 503},
			PurgeACL:            "purge",
			Coalesce:            true,
			RefreshWorkers:      4,
			RefreshQueue:        256,
			RefreshTimeout:      30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2.0,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          false,
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			MaxRequests:      1,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 100,
			BurstSize:         200,
		},
		Storage: StorageConfig{
			Driver:        "memory",
			MaxEntries:    100000,
			SweepInterval: 5 * time.Minute,
			LevelDB:       LevelDBConfig{Path: "./data/leveldb"},
			Redis:         RedisConfig{Addr: "localhost:6379", Prefix: "grace-cache:"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Admin: AdminConfig{
			Enabled: true,
			Path:    "/admin",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Backend.ID == "" {
		return fmt.Errorf("backend: ID cannot be empty")
	}
	if c.Backend.Host == "" {
		return fmt.Errorf("backend: host cannot be empty")
	}
	if c.Backend.Port <= 0 || c.Backend.Port > 65535 {
		return fmt.Errorf("backend: invalid port %d", c.Backend.Port)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend: timeout must be positive")
	}

	if err := c.ToProbeConfig().Validate(); err != nil {
		return err
	}

	if len(c.Hosts.Canonical) != 2 {
		return fmt.Errorf("hosts.canonical must list exactly two hostnames, got %d", len(c.Hosts.Canonical))
	}
	if strings.TrimSpace(c.Hosts.Default) == "" {
		return fmt.Errorf("hosts.default cannot be empty")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Cache.Grace < 0 {
		return fmt.Errorf("cache.grace cannot be negative")
	}
	if c.Cache.HealthyWindow < 0 {
		return fmt.Errorf("cache.healthy_window cannot be negative")
	}
	if _, ok := c.AccessLists[c.Cache.PurgeACL]; !ok {
		return fmt.Errorf("cache.purge_acl references unknown access list %q", c.Cache.PurgeACL)
	}
	if c.Cache.RefreshWorkers <= 0 {
		return fmt.Errorf("cache.refresh_workers must be positive")
	}
	if c.Cache.RefreshQueue < 0 {
		return fmt.Errorf("cache.refresh_queue cannot be negative")
	}

	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts cannot be negative: %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold <= 0 {
			return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
		}
		if c.CircuitBreaker.RecoveryTimeout <= 0 {
			return fmt.Errorf("circuit_breaker.recovery_timeout must be positive")
		}
		if c.CircuitBreaker.MaxRequests <= 0 {
			return fmt.Errorf("circuit_breaker.max_requests must be positive")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive")
		}
		if c.RateLimit.BurstSize <= 0 {
			return fmt.Errorf("rate_limit.burst_size must be positive")
		}
	}

	if c.Storage.SweepInterval < 0 {
		return fmt.Errorf("storage.sweep_interval cannot be negative")
	}

	switch c.Storage.Driver {
	case "memory":
	case "leveldb":
		if c.Storage.LevelDB.Path == "" {
			return fmt.Errorf("storage.leveldb.path cannot be empty")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	return nil
}

// ToProbeConfig converts to the domain probe definition
func (c *Config) ToProbeConfig() domain.ProbeConfig {
	return domain.ProbeConfig{
		Path:           c.Probe.Path,
		ExpectedStatus: c.Probe.ExpectedStatus,
		Timeout:        c.Probe.Timeout,
		Interval:       c.Probe.Interval,
		Window:         c.Probe.Window,
		Threshold:      c.Probe.Threshold,
	}
}

// ToBackend converts the backend definition to a domain backend
func (c *Config) ToBackend() *domain.Backend {
	backend := domain.NewBackend(c.Backend.ID, c.Backend.Host, c.Backend.Port, c.ToProbeConfig())
	backend.Timeout = c.Backend.Timeout
	return backend
}

// EffectiveGrace returns the configured grace, defaulting to the ttl
func (c *Config) EffectiveGrace() time.Duration {
	if c.Cache.Grace == 0 {
		return c.Cache.TTL
	}
	return c.Cache.Grace
}

// SaveToFile saves the configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}
