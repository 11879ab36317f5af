package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Listen: ListenConfig{Address: "0.0.0.0:8080"},
		Proxy: ProxyConfig{
			LocalRegion:            "SA",
			RegistryReloadInterval: 5 * time.Second,
			DialTimeout:            5 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing listen address", func(c *Config) { c.Listen.Address = "" }, true},
		{"missing local region", func(c *Config) { c.Proxy.LocalRegion = "" }, true},
		{"invalid log level", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"invalid log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"zero reload interval", func(c *Config) { c.Proxy.RegistryReloadInterval = 0 }, true},
		{"zero dial timeout", func(c *Config) { c.Proxy.DialTimeout = 0 }, true},
		{"valid debug level", func(c *Config) { c.Log.Level = "debug" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		Database: "edgeproxy",
		Username: "edgeproxy",
		Password: "secret",
		SSLMode:  "disable",
	}

	want := "host=localhost port=5432 user=edgeproxy password=secret dbname=edgeproxy sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
