package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if cfg.Supervisor.LoopInterval != 50*time.Millisecond {
		t.Errorf("expected default loop interval, got %v", cfg.Supervisor.LoopInterval)
	}
	if cfg.API.Addr != ":8025" {
		t.Errorf("expected default addr, got %q", cfg.API.Addr)
	}
}

func TestLoadFromFileOverrides(t *testing.T) {
	path := writeConfigFile(t, `
mapper:
  deadzone: 0.2
  curve: 1.5
  max_speed_slow: 20
  max_speed_normal: 50
  max_speed_fast: 90
  ramp_rate: 40
supervisor:
  loop_interval: 100ms
  input_timeout: 1s
  link_timeout: 3s
  heartbeat_interval: 2s
  reconnect_delay: 1s
  max_reconnect_attempts: 5
credentials:
  left_addr: "AA:BB:CC:DD:EE:01"
  right_addr: "AA:BB:CC:DD:EE:02"
left_key: "00112233445566778899aabbccddeeff"
right_key: "ffeeddccbbaa99887766554433221100"
api:
  addr: ":9000"
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Mapper.Deadzone != 0.2 {
		t.Errorf("deadzone = %v, want 0.2", cfg.Mapper.Deadzone)
	}
	if cfg.Supervisor.LoopInterval != 100*time.Millisecond {
		t.Errorf("loop interval = %v, want 100ms", cfg.Supervisor.LoopInterval)
	}
	if cfg.Supervisor.MaxReconnectAttempts != 5 {
		t.Errorf("attempts = %d, want 5", cfg.Supervisor.MaxReconnectAttempts)
	}
	if cfg.API.Addr != ":9000" {
		t.Errorf("addr = %q, want :9000", cfg.API.Addr)
	}
	if !cfg.Credentials.IsConfigured() {
		t.Error("expected credentials to be fully configured from file")
	}
	if len(cfg.Credentials.LeftKey) != 16 {
		t.Errorf("left key length = %d, want 16", len(cfg.Credentials.LeftKey))
	}

	// Unset fields keep their defaults.
	if cfg.Telemetry.EventBufferSize != 50 {
		t.Errorf("event buffer = %d, want default 50", cfg.Telemetry.EventBufferSize)
	}
}

func TestLoadFromMalformedFile(t *testing.T) {
	path := writeConfigFile(t, "mapper: [not a map")
	if _, err := LoadFrom(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLoadFromBadKeyInFile(t *testing.T) {
	path := writeConfigFile(t, `left_key: "tooshort"`)
	if _, err := LoadFrom(path); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfigFile(t, `
supervisor:
  input_timeout: 1s
`)
	t.Setenv("M25_INPUT_TIMEOUT", "750ms")
	t.Setenv("M25_DEADZONE", "0.25")
	t.Setenv("M25_ADDR", ":7777")
	t.Setenv("M25_LEFT_MAC", "AA:BB:CC:DD:EE:99")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Supervisor.InputTimeout != 750*time.Millisecond {
		t.Errorf("input timeout = %v, want env override 750ms", cfg.Supervisor.InputTimeout)
	}
	if cfg.Mapper.Deadzone != 0.25 {
		t.Errorf("deadzone = %v, want 0.25", cfg.Mapper.Deadzone)
	}
	if cfg.API.Addr != ":7777" {
		t.Errorf("addr = %q, want :7777", cfg.API.Addr)
	}
	if cfg.Credentials.LeftAddr != "AA:BB:CC:DD:EE:99" {
		t.Errorf("left addr = %q, want env override", cfg.Credentials.LeftAddr)
	}
}

func TestEnvKeyOverride(t *testing.T) {
	t.Setenv("M25_LEFT_KEY", "00112233445566778899aabbccddeeff")

	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if len(cfg.Credentials.LeftKey) != 16 {
		t.Errorf("left key length = %d, want 16", len(cfg.Credentials.LeftKey))
	}

	t.Setenv("M25_LEFT_KEY", "garbage")
	if _, err := LoadFrom(""); err == nil {
		t.Error("expected error for malformed env key")
	}
}

func TestLoadRejectsInvalidResult(t *testing.T) {
	t.Setenv("M25_DEADZONE", "1.5")
	if _, err := LoadFrom(""); err == nil {
		t.Error("expected validation failure for out-of-range deadzone")
	}
}
