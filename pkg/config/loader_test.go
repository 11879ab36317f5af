package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Listen.Address != "0.0.0.0:8080" {
		t.Errorf("expected listen address '0.0.0.0:8080', got %s", cfg.Listen.Address)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Log.Level)
	}
	if cfg.Proxy.DialTimeout != 5*time.Second {
		t.Errorf("expected dial timeout 5s, got %v", cfg.Proxy.DialTimeout)
	}
	if cfg.Health.Address != "0.0.0.0:9091" {
		t.Errorf("expected health address '0.0.0.0:9091', got %s", cfg.Health.Address)
	}
}

func TestLoader_LoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
listen:
  address: 127.0.0.1:9000
proxy:
  local_region: EU
log:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	loader := NewLoader(WithConfigPaths(configPath))
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Listen.Address != "127.0.0.1:9000" {
		t.Errorf("expected listen address '127.0.0.1:9000', got %s", cfg.Listen.Address)
	}
	if cfg.Proxy.LocalRegion != "EU" {
		t.Errorf("expected local region 'EU', got %s", cfg.Proxy.LocalRegion)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Log.Level)
	}
}

func TestLoader_LoadFromEnv(t *testing.T) {
	os.Setenv("EDGEPROXY_LISTEN_ADDRESS", "0.0.0.0:7000")
	defer os.Unsetenv("EDGEPROXY_LISTEN_ADDRESS")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Listen.Address != "0.0.0.0:7000" {
		t.Errorf("expected listen address '0.0.0.0:7000', got %s", cfg.Listen.Address)
	}
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
listen:
  address: 127.0.0.1:9000
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	os.Setenv("EDGEPROXY_LISTEN_ADDRESS", "0.0.0.0:6000")
	defer os.Unsetenv("EDGEPROXY_LISTEN_ADDRESS")

	cfg, err := NewLoader(WithConfigPaths(configPath)).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Listen.Address != "0.0.0.0:6000" {
		t.Errorf("expected env override '0.0.0.0:6000', got %s", cfg.Listen.Address)
	}
}

func TestLoader_WithEnvPrefix(t *testing.T) {
	os.Setenv("CUSTOM_LISTEN_ADDRESS", "0.0.0.0:5000")
	defer os.Unsetenv("CUSTOM_LISTEN_ADDRESS")

	cfg, err := NewLoader(WithEnvPrefix("CUSTOM_")).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Listen.Address != "0.0.0.0:5000" {
		t.Errorf("expected '0.0.0.0:5000', got %s", cfg.Listen.Address)
	}
}

func TestMustLoad_Success(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustLoad should not panic with valid config")
		}
	}()

	cfg := MustLoad()
	if cfg == nil {
		t.Error("expected non-nil config")
	}
}

func TestLoad_Simple(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg == nil {
		t.Error("expected non-nil config")
	}
}

func TestLoader_ConfigEnvVar(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom-config.yaml")

	configContent := `
listen:
  address: 127.0.0.1:4000
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	os.Setenv("CONFIG_PATH", configPath)
	defer os.Unsetenv("CONFIG_PATH")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Listen.Address != "127.0.0.1:4000" {
		t.Errorf("expected '127.0.0.1:4000', got %s", cfg.Listen.Address)
	}
}
