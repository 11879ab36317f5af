// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the top-level, fully-resolved configuration for the proxy
// daemon, unmarshalled by Loader from defaults, an optional YAML file,
// and environment variables, in that order of increasing priority.
type Config struct {
	Listen   ListenConfig   `koanf:"listen"`
	Proxy    ProxyConfig    `koanf:"proxy"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Database DatabaseConfig `koanf:"database"`
	Geo      GeoConfig      `koanf:"geo"`
	Redis    RedisConfig    `koanf:"redis"`
	Health   HealthConfig   `koanf:"health"`
}

// ListenConfig configures the TCP data-plane listener.
type ListenConfig struct {
	Address string `koanf:"address"`
}

// ProxyConfig configures the routing core's policy knobs.
type ProxyConfig struct {
	PopID                  string        `koanf:"pop_id"`
	LocalRegion            string        `koanf:"local_region"`
	RegistryReloadInterval time.Duration `koanf:"registry_reload_interval"`
	BindingTTL             time.Duration `koanf:"binding_ttl"`
	BindingGCInterval      time.Duration `koanf:"binding_gc_interval"`
	DialTimeout            time.Duration `koanf:"dial_timeout"`
	ShutdownGrace          time.Duration `koanf:"shutdown_grace"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `koanf:"level"`  // debug, info, warn, error
	Format     string `koanf:"format"` // json, text
	Output     string `koanf:"output"` // stdout, stderr, file
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"` // MB
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"` // days
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures Prometheus metrics export.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// DatabaseConfig configures Postgres access to the backend registry.
type DatabaseConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN returns the libpq-style connection string pgxpool expects.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
	)
}

// GeoConfig configures the MaxMind-backed IP geolocation resolver and its
// in-memory memoization layer.
type GeoConfig struct {
	DatabasePath    string        `koanf:"database_path"`
	CacheTTL        time.Duration `koanf:"cache_ttl"`
	CacheMaxEntries int           `koanf:"cache_max_entries"`
}

// RedisConfig configures the discovery registrar's connection.
type RedisConfig struct {
	Address  string `koanf:"address"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// HealthConfig configures the auxiliary HTTP listener serving /healthz,
// /readyz, and /metrics.
type HealthConfig struct {
	Address string `koanf:"address"`
}

// Validate checks the resolved configuration for obviously invalid values
// before the daemon starts accepting connections.
func (c *Config) Validate() error {
	var errs []string

	if c.Listen.Address == "" {
		errs = append(errs, "listen.address is required")
	}

	if c.Proxy.LocalRegion == "" {
		errs = append(errs, "proxy.local_region is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Sprintf("log.format must be one of: json, text, got %s", c.Log.Format))
	}

	if c.Proxy.RegistryReloadInterval <= 0 {
		errs = append(errs, "proxy.registry_reload_interval must be positive")
	}
	if c.Proxy.DialTimeout <= 0 {
		errs = append(errs, "proxy.dial_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
