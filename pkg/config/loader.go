// pkg/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "EDGEPROXY_"
	configEnvVar = "CONFIG_PATH"
)

// Loader loads configuration from defaults, an optional YAML file, and
// environment variables, in that priority order.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader creates a Loader with the default search paths and env prefix.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/edgeproxy/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the list of YAML file paths tried in order.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load builds a Config with priority:
// 1. Defaults (lowest)
// 2. Config file (yaml)
// 3. Environment variables (highest)
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		// A config file is optional; its absence is not fatal.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"listen.address": "0.0.0.0:8080",

		"proxy.pop_id":                    "",
		"proxy.local_region":              "OTHER",
		"proxy.registry_reload_interval":  5 * time.Second,
		"proxy.binding_ttl":               600 * time.Second,
		"proxy.binding_gc_interval":       60 * time.Second,
		"proxy.dial_timeout":              5 * time.Second,
		"proxy.shutdown_grace":            10 * time.Second,

		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		"metrics.enabled":   true,
		"metrics.namespace": "edgeproxy",
		"metrics.subsystem": "",

		"database.host":              "localhost",
		"database.port":              5432,
		"database.database":          "edgeproxy",
		"database.username":          "postgres",
		"database.password":          "",
		"database.ssl_mode":          "disable",
		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": 5 * time.Minute,
		"database.auto_migrate":      false,

		"geo.database_path":     "/etc/edgeproxy/GeoLite2-Country.mmdb",
		"geo.cache_ttl":         10 * time.Minute,
		"geo.cache_max_entries": 100000,

		"redis.address":  "localhost:6379",
		"redis.password": "",
		"redis.db":       0,

		"health.address": "0.0.0.0:9091",
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		// EDGEPROXY_PROXY_DIAL_TIMEOUT -> proxy.dial_timeout: only the
		// first underscore (the section/field boundary) becomes a dot;
		// every Config field is one level deep, so the remaining
		// underscores belong to the snake_case field name itself.
		trimmed := strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		section, field, ok := strings.Cut(trimmed, "_")
		if !ok {
			return trimmed
		}
		return section + "." + field
	}), nil)
}

// MustLoad loads configuration or panics.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load loads configuration using the default search paths and env prefix.
func Load() (*Config, error) {
	return NewLoader().Load()
}
