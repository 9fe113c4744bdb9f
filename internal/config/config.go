package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/MPZ-00/m5squared/internal/drive"
)

// MapperConfig tunes the input-to-command transform.
type MapperConfig struct {
	// Deadzone is the axis magnitude below which input is ignored (0..1).
	Deadzone float64 `yaml:"deadzone"`
	// Curve is the response exponent; 1.0 is linear, >1 compresses
	// low-speed response for finer control.
	Curve float64 `yaml:"curve"`
	// Per-mode speed caps in percent of full scale (0..100).
	MaxSpeedSlow   int `yaml:"max_speed_slow"`
	MaxSpeedNormal int `yaml:"max_speed_normal"`
	MaxSpeedFast   int `yaml:"max_speed_fast"`
	// RampRate bounds commanded speed change, in speed units per second.
	RampRate float64 `yaml:"ramp_rate"`
}

// MaxSpeed returns the speed cap for a drive mode. Unknown modes fall
// back to the NORMAL cap; STOP is always zero.
func (c MapperConfig) MaxSpeed(mode drive.DriveMode) int {
	switch mode {
	case drive.ModeStop:
		return 0
	case drive.ModeSlow:
		return c.MaxSpeedSlow
	case drive.ModeFast:
		return c.MaxSpeedFast
	default:
		return c.MaxSpeedNormal
	}
}

// SupervisorConfig tunes the control loop and its watchdogs.
type SupervisorConfig struct {
	LoopInterval         time.Duration `yaml:"loop_interval"`
	InputTimeout         time.Duration `yaml:"input_timeout"`
	LinkTimeout          time.Duration `yaml:"link_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// Credentials identify and unlock the two wheel sessions.
type Credentials struct {
	LeftAddr  string `yaml:"left_addr"`
	RightAddr string `yaml:"right_addr"`
	LeftKey   []byte `yaml:"-"`
	RightKey  []byte `yaml:"-"`
}

// IsConfigured reports whether both wheels have an address and key.
func (c Credentials) IsConfigured() bool {
	return c.LeftAddr != "" && c.RightAddr != "" &&
		len(c.LeftKey) > 0 && len(c.RightKey) > 0
}

// APIConfig tunes the HTTP control surface.
type APIConfig struct {
	Addr         string        `yaml:"addr"`
	AuthSecret   string        `yaml:"auth_secret"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// TelemetryConfig tunes event buffering and the optional MQTT bridge.
type TelemetryConfig struct {
	EventBufferSize int    `yaml:"event_buffer_size"`
	MQTTBroker      string `yaml:"mqtt_broker"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
}

// AuditConfig tunes the rotating audit trail.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config is the full controller configuration.
type Config struct {
	Mapper      MapperConfig     `yaml:"mapper"`
	Supervisor  SupervisorConfig `yaml:"supervisor"`
	Credentials Credentials      `yaml:"credentials"`
	API         APIConfig        `yaml:"api"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Audit       AuditConfig      `yaml:"audit"`
}

// Default returns the baseline configuration: 20 Hz loop, half-second
// input watchdog, two-second link watchdog, conservative mapper caps.
func Default() *Config {
	return &Config{
		Mapper: MapperConfig{
			Deadzone:       0.1,
			Curve:          2.0,
			MaxSpeedSlow:   30,
			MaxSpeedNormal: 60,
			MaxSpeedFast:   100,
			RampRate:       50.0,
		},
		Supervisor: SupervisorConfig{
			LoopInterval:         50 * time.Millisecond,
			InputTimeout:         500 * time.Millisecond,
			LinkTimeout:          2 * time.Second,
			HeartbeatInterval:    1 * time.Second,
			ReconnectDelay:       2 * time.Second,
			MaxReconnectAttempts: 3,
		},
		API: APIConfig{
			Addr:         ":8025",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Telemetry: TelemetryConfig{
			EventBufferSize: 50,
			MQTTTopicPrefix: "m25",
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// ParseKey decodes a 32-hex-character wheel session key into 16 bytes.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) != 32 {
		return nil, fmt.Errorf("key must be 32 hex characters, got %d", len(s))
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key is not valid hex: %w", err)
	}
	return key, nil
}
