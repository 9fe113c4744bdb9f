package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load merges Default() + .env + M25_* environment overrides + optional
// config.yaml, then validates the result.
func Load() (*Config, error) {
	return LoadFrom("config.yaml")
}

// LoadFrom is Load with an explicit config file path. A missing file is
// not an error; a malformed one is.
func LoadFrom(path string) (*Config, error) {
	// .env is optional; environment wins over file contents either way.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := applyFile(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyFile overlays YAML file values onto the config.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file struct {
		Config   `yaml:",inline"`
		LeftKey  string `yaml:"left_key"`
		RightKey string `yaml:"right_key"`
	}
	file.Config = *cfg
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	*cfg = file.Config

	if file.LeftKey != "" {
		key, err := ParseKey(file.LeftKey)
		if err != nil {
			return fmt.Errorf("left_key: %w", err)
		}
		cfg.Credentials.LeftKey = key
	}
	if file.RightKey != "" {
		key, err := ParseKey(file.RightKey)
		if err != nil {
			return fmt.Errorf("right_key: %w", err)
		}
		cfg.Credentials.RightKey = key
	}

	return nil
}

// applyEnvOverrides applies M25_* environment variables to the config.
func applyEnvOverrides(cfg *Config) error {
	// Wheel credentials
	if val := os.Getenv("M25_LEFT_MAC"); val != "" {
		cfg.Credentials.LeftAddr = val
	}
	if val := os.Getenv("M25_RIGHT_MAC"); val != "" {
		cfg.Credentials.RightAddr = val
	}
	if val := os.Getenv("M25_LEFT_KEY"); val != "" {
		key, err := ParseKey(val)
		if err != nil {
			return fmt.Errorf("M25_LEFT_KEY: %w", err)
		}
		cfg.Credentials.LeftKey = key
	}
	if val := os.Getenv("M25_RIGHT_KEY"); val != "" {
		key, err := ParseKey(val)
		if err != nil {
			return fmt.Errorf("M25_RIGHT_KEY: %w", err)
		}
		cfg.Credentials.RightKey = key
	}

	// Supervisor timing
	cfg.Supervisor.LoopInterval = envDuration("M25_LOOP_INTERVAL", cfg.Supervisor.LoopInterval)
	cfg.Supervisor.InputTimeout = envDuration("M25_INPUT_TIMEOUT", cfg.Supervisor.InputTimeout)
	cfg.Supervisor.LinkTimeout = envDuration("M25_LINK_TIMEOUT", cfg.Supervisor.LinkTimeout)
	cfg.Supervisor.HeartbeatInterval = envDuration("M25_HEARTBEAT_INTERVAL", cfg.Supervisor.HeartbeatInterval)
	cfg.Supervisor.ReconnectDelay = envDuration("M25_RECONNECT_DELAY", cfg.Supervisor.ReconnectDelay)
	cfg.Supervisor.MaxReconnectAttempts = envInt("M25_MAX_RECONNECT_ATTEMPTS", cfg.Supervisor.MaxReconnectAttempts)

	// Mapper tuning
	cfg.Mapper.Deadzone = envFloat("M25_DEADZONE", cfg.Mapper.Deadzone)
	cfg.Mapper.Curve = envFloat("M25_CURVE", cfg.Mapper.Curve)
	cfg.Mapper.MaxSpeedSlow = envInt("M25_MAX_SPEED_SLOW", cfg.Mapper.MaxSpeedSlow)
	cfg.Mapper.MaxSpeedNormal = envInt("M25_MAX_SPEED_NORMAL", cfg.Mapper.MaxSpeedNormal)
	cfg.Mapper.MaxSpeedFast = envInt("M25_MAX_SPEED_FAST", cfg.Mapper.MaxSpeedFast)
	cfg.Mapper.RampRate = envFloat("M25_RAMP_RATE", cfg.Mapper.RampRate)

	// API surface
	if val := os.Getenv("M25_ADDR"); val != "" {
		cfg.API.Addr = val
	}
	if val := os.Getenv("M25_AUTH_SECRET"); val != "" {
		cfg.API.AuthSecret = val
	}

	// Telemetry bridge
	if val := os.Getenv("M25_MQTT_BROKER"); val != "" {
		cfg.Telemetry.MQTTBroker = val
	}
	if val := os.Getenv("M25_MQTT_TOPIC_PREFIX"); val != "" {
		cfg.Telemetry.MQTTTopicPrefix = val
	}
	cfg.Telemetry.EventBufferSize = envInt("M25_EVENT_BUFFER_SIZE", cfg.Telemetry.EventBufferSize)

	// Audit trail
	if val := os.Getenv("M25_AUDIT_DIR"); val != "" {
		cfg.Audit.Dir = val
	}

	return nil
}

// envDuration returns the environment variable as a duration, or the default.
func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return def
}

// envInt returns the environment variable as an int, or the default.
func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return def
}

// envFloat returns the environment variable as a float64, or the default.
func envFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return def
}
