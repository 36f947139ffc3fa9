// Package config provides configuration loading for boilerd.
//
// Configuration is loaded from environment variables with sensible
// defaults, optionally layered over a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the complete boilerd configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
	Engine  EngineConfig  `koanf:"engine"`
	Session SessionConfig `koanf:"session"`
	Offline OfflineConfig `koanf:"offline"`
	Storage StorageConfig `koanf:"storage"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// EngineConfig holds fault-code resolution engine configuration.
type EngineConfig struct {
	CacheTTL        time.Duration `koanf:"cache_ttl"`
	CacheMaxEntries int           `koanf:"cache_max_entries"`
	SQLitePath      string        `koanf:"sqlite_path"` // empty disables the remote tier
}

// SessionConfig holds conversation session store configuration.
type SessionConfig struct {
	Timeout       time.Duration `koanf:"timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// OfflineConfig holds offline artifact cache configuration.
type OfflineConfig struct {
	MaxFaultCodes        int `koanf:"max_fault_codes"`
	MaxManuals           int `koanf:"max_manuals"`
	CompressionThreshold int `koanf:"compression_threshold"`
}

// StorageConfig holds key-value persistence configuration.
type StorageConfig struct {
	Dir        string `koanf:"dir"`
	QuotaBytes int64  `koanf:"quota_bytes"` // 0 = unlimited
}

// Load loads configuration from environment variables with defaults.
//
// Environment variables:
//   - SERVER_HTTP_PORT: HTTP server port (default: 8090)
//   - SERVER_SHUTDOWN_TIMEOUT: Graceful shutdown timeout (default: 10s)
//   - LOGGING_LEVEL: Log level (default: info)
//   - LOGGING_FORMAT: json or console (default: json)
//   - ENGINE_CACHE_TTL: Lookup result cache TTL (default: 10m)
//   - ENGINE_CACHE_MAX_ENTRIES: Lookup result cache bound (default: 256)
//   - ENGINE_SQLITE_PATH: Remote-tier database path (default: disabled)
//   - SESSION_TIMEOUT: Session inactivity window (default: 30m)
//   - SESSION_SWEEP_INTERVAL: Sweep period (default: 5m)
//   - OFFLINE_MAX_FAULT_CODES: Offline fault-code cap (default: 100)
//   - OFFLINE_MAX_MANUALS: Offline manual cap (default: 20)
//   - OFFLINE_COMPRESSION_THRESHOLD: Compression threshold bytes (default: 8192)
//   - STORAGE_DIR: Persistence directory (default: ~/.local/share/boilerd)
//   - STORAGE_QUOTA_BYTES: Persistence byte quota (default: unlimited)
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_HTTP_PORT", 8090),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOGGING_LEVEL", "info"),
			Format: getEnvString("LOGGING_FORMAT", "json"),
		},
		Engine: EngineConfig{
			CacheTTL:        getEnvDuration("ENGINE_CACHE_TTL", 10*time.Minute),
			CacheMaxEntries: getEnvInt("ENGINE_CACHE_MAX_ENTRIES", 256),
			SQLitePath:      getEnvString("ENGINE_SQLITE_PATH", ""),
		},
		Session: SessionConfig{
			Timeout:       getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Offline: OfflineConfig{
			MaxFaultCodes:        getEnvInt("OFFLINE_MAX_FAULT_CODES", 100),
			MaxManuals:           getEnvInt("OFFLINE_MAX_MANUALS", 20),
			CompressionThreshold: getEnvInt("OFFLINE_COMPRESSION_THRESHOLD", 8*1024),
		},
		Storage: StorageConfig{
			Dir:        getEnvString("STORAGE_DIR", defaultStorageDir()),
			QuotaBytes: getEnvInt64("STORAGE_QUOTA_BYTES", 0),
		},
	}
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	if c.Engine.CacheTTL <= 0 {
		return errors.New("engine cache TTL must be positive")
	}
	if c.Engine.CacheMaxEntries < 1 {
		return errors.New("engine cache must hold at least one entry")
	}
	if c.Session.Timeout <= 0 {
		return errors.New("session timeout must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("session sweep interval must be positive")
	}
	if c.Offline.MaxFaultCodes < 1 || c.Offline.MaxManuals < 1 {
		return errors.New("offline cache caps must be at least one")
	}
	if c.Storage.Dir == "" {
		return errors.New("storage directory is required")
	}
	return nil
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".boilerd"
	}
	return home + "/.local/share/boilerd"
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
