package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvironment overrides cfg with any CACHE_* variables that are set.
func ApplyEnvironment(cfg *Config) {
	cfg.Server.Port = getEnvInt("CACHE_PORT", cfg.Server.Port)
	cfg.Server.Identity = getEnv("CACHE_SERVER_IDENTITY", cfg.Server.Identity)

	cfg.Backend.ID = getEnv("CACHE_BACKEND_ID", cfg.Backend.ID)
	cfg.Backend.Host = getEnv("CACHE_BACKEND_HOST", cfg.Backend.Host)
	cfg.Backend.Port = getEnvInt("CACHE_BACKEND_PORT", cfg.Backend.Port)
	cfg.Backend.Timeout = getEnvDuration("CACHE_BACKEND_TIMEOUT", cfg.Backend.Timeout)

	if enabled := getEnv("CACHE_PROBE_ENABLED", ""); enabled != "" {
		cfg.Probe.Enabled = strings.ToLower(enabled) == "true"
	}
	cfg.Probe.Path = getEnv("CACHE_PROBE_PATH", cfg.Probe.Path)
	cfg.Probe.Interval = getEnvDuration("CACHE_PROBE_INTERVAL", cfg.Probe.Interval)
	cfg.Probe.Timeout = getEnvDuration("CACHE_PROBE_TIMEOUT", cfg.Probe.Timeout)
	cfg.Probe.Window = getEnvInt("CACHE_PROBE_WINDOW", cfg.Probe.Window)
	cfg.Probe.Threshold = getEnvInt("CACHE_PROBE_THRESHOLD", cfg.Probe.Threshold)

	if hosts := getEnv("CACHE_CANONICAL_HOSTS", ""); hosts != "" {
		cfg.Hosts.Canonical = splitList(hosts)
	}
	cfg.Hosts.Default = getEnv("CACHE_DEFAULT_HOST", cfg.Hosts.Default)
	if purge := getEnv("CACHE_PURGE_ALLOW", ""); purge != "" {
		if cfg.AccessLists == nil {
			cfg.AccessLists = make(map[string][]string)
		}
		cfg.AccessLists[cfg.Cache.PurgeACL] = splitList(purge)
	}

	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.Grace = getEnvDuration("CACHE_GRACE", cfg.Cache.Grace)
	cfg.Retry.MaxAttempts = getEnvInt("CACHE_RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)

	cfg.Storage.Driver = getEnv("CACHE_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.SweepInterval = getEnvDuration("CACHE_STORAGE_SWEEP_INTERVAL", cfg.Storage.SweepInterval)
	cfg.Storage.LevelDB.Path = getEnv("CACHE_LEVELDB_PATH", cfg.Storage.LevelDB.Path)
	cfg.Storage.Redis.Addr = getEnv("CACHE_REDIS_ADDR", cfg.Storage.Redis.Addr)
	cfg.Storage.Redis.Password = getEnv("CACHE_REDIS_PASSWORD", cfg.Storage.Redis.Password)

	cfg.ErrorPage.Path = getEnv("CACHE_ERROR_PAGE", cfg.ErrorPage.Path)

	cfg.Logging.Level = getEnv("CACHE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("CACHE_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = getEnv("CACHE_LOG_OUTPUT", cfg.Logging.Output)

	cfg.Admin.JWTSecret = getEnv("CACHE_ADMIN_JWT_SECRET", cfg.Admin.JWTSecret)
}

// getEnv gets environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as integer with fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets environment variable as duration with fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadConfig loads configuration with priority: env vars > config file > defaults
func LoadConfig() (*Config, error) {
	config := DefaultConfig()

	configFile := getEnv("CONFIG_FILE", "config.yaml")
	if _, err := os.Stat(configFile); err == nil {
		fileConfig, err := LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	ApplyEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
