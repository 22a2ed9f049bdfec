package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("CBUSGATE_CONFIG")
	defer os.Setenv("CBUSGATE_CONFIG", originalEnv)

	os.Setenv("CBUSGATE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
site:
  id: test-site

cgate:
  host: "127.0.0.1"
  project: "TESTPROJ"
  network: "254"

database:
  path: ""
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"
    tls: false
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 60

influxdb:
  enabled: false

logging:
  level: info
  format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("CBUSGATE_CONFIG")
	defer os.Setenv("CBUSGATE_CONFIG", originalEnv)
	os.Setenv("CBUSGATE_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_GatewayUnreachable verifies run fails cleanly when no C-Gate
// server is listening. Stops before MQTT is needed because the database
// lives in a temp dir and the gateway ports point at a closed port.
func TestRun_GatewayUnreachable(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	dbPath := filepath.Join(tmpDir, "test.db")

	configContent := `
site:
  id: test-site

cgate:
  host: "127.0.0.1"
  command_port: 1
  event_port: 1
  load_change_port: 1
  project: "TESTPROJ"
  network: "254"
  connect_timeout_seconds: 1

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-cbusgate-unreachable"
    tls: false
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5

influxdb:
  enabled: false

logging:
  level: info
  format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("CBUSGATE_CONFIG")
	defer os.Setenv("CBUSGATE_CONFIG", originalEnv)
	os.Setenv("CBUSGATE_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when no C-Gate server is listening")
	}
	t.Logf("run() returned error (expected): %v", err)
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("CBUSGATE_CONFIG")
	defer os.Setenv("CBUSGATE_CONFIG", originalEnv)

	os.Unsetenv("CBUSGATE_CONFIG")

	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("CBUSGATE_CONFIG")
	defer os.Setenv("CBUSGATE_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("CBUSGATE_CONFIG", expected)

	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
